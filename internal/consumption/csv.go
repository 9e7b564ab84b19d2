// Package consumption reads the hourly consumption CSV that Spanish distributors
// publish for a supply point.
//
//	CUPS;Fecha;Hora;Consumo_kWh;Metodo_obtencion
//	ES00XX000012345678SN;19/07/2019;1;0,300;R
//	ES00XX000012345678SN;19/07/2019;2;0,325;R
//
// Hora is the hour ending, 1 to 25 (a fall-back day has 25 hours, a spring-forward
// day 23).
package consumption

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

// ErrMalformedSource is returned for any consumption file that cannot be billed as is.
var ErrMalformedSource = errors.New("consumption: malformed source")

const (
	colCUPS   = "CUPS"
	colDate   = "Fecha"
	colHour   = "Hora"
	colKWh    = "Consumo_kWh"
	colMethod = "Metodo_obtencion"

	// realMeasure marks a measured (not estimated) value.
	realMeasure = "R"
	dateLayout  = "02/01/2006"
	maxHour     = 25
)

var requiredColumns = []string{colCUPS, colDate, colHour, colKWh, colMethod}

// Curve is the hourly consumption of one supply point, in kWh.
type Curve struct {
	CUPS   string
	Series timeseries.Series
}

// Load reads a consumption CSV file.
func Load(path string) (Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return Curve{}, fmt.Errorf("open consumption file: %w", err)
	}
	defer f.Close()

	curve, err := Parse(f)
	if err != nil {
		return Curve{}, fmt.Errorf("%s: %w", path, err)
	}
	return curve, nil
}

// Parse reads a consumption CSV. The file must hold real measures of a single CUPS
// in strictly increasing time order.
func Parse(r io.Reader) (Curve, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Curve{}, malformed("reading header: %v", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return Curve{}, err
	}

	var curve Curve
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Curve{}, malformed("line %d: %v", line, err)
		}

		cups := strings.TrimSpace(row[cols[colCUPS]])
		switch {
		case cups == "":
			return Curve{}, malformed("line %d: empty CUPS", line)
		case curve.CUPS == "":
			curve.CUPS = cups
		case cups != curve.CUPS:
			return Curve{}, malformed("line %d: more than one CUPS (%s, %s)", line, curve.CUPS, cups)
		}

		if method := strings.TrimSpace(row[cols[colMethod]]); method != realMeasure {
			return Curve{}, malformed("line %d: measure method %q is not real", line, method)
		}

		ts, err := timestamp(row[cols[colDate]], row[cols[colHour]])
		if err != nil {
			return Curve{}, malformed("line %d: %v", line, err)
		}
		kwh, err := parseDecimalComma(row[cols[colKWh]])
		if err != nil {
			return Curve{}, malformed("line %d: %v", line, err)
		}
		if n := len(curve.Series); n > 0 && !ts.After(curve.Series[n-1].Time) {
			return Curve{}, malformed("line %d: timestamp %s is not after the previous one",
				line, ts.Format(time.RFC3339))
		}
		curve.Series = append(curve.Series, timeseries.Sample{Time: ts, Value: kwh})
	}

	if len(curve.Series) == 0 {
		return Curve{}, malformed("no consumption rows")
	}
	return curve, nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		cols[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, malformed("missing column %s", name)
		}
	}
	return cols, nil
}

// timestamp is local midnight of the date plus hour-1 elapsed hours, so DST days
// keep one distinct instant per row.
func timestamp(date, hour string) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), tariff.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q", date)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil || h < 1 || h > maxHour {
		return time.Time{}, fmt.Errorf("bad hour %q", hour)
	}
	return day.Add(time.Duration(h-1) * time.Hour), nil
}

func parseDecimalComma(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bad kWh value %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative kWh value %q", s)
	}
	return v, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSource, fmt.Sprintf(format, args...))
}
