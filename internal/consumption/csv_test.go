package consumption_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azogue/pvpcbill/internal/consumption"
	"github.com/azogue/pvpcbill/internal/tariff"
)

const header = "CUPS;Fecha;Hora;Consumo_kWh;Metodo_obtencion\n"

func day(cups, date string, hours int, kwh string) string {
	var sb strings.Builder
	for h := 1; h <= hours; h++ {
		fmt.Fprintf(&sb, "%s;%s;%d;%s;R\n", cups, date, h, kwh)
	}
	return sb.String()
}

func TestParse(t *testing.T) {
	src := header +
		"ES00XX000012345678SN;19/07/2019;1;0,300;R\n" +
		"ES00XX000012345678SN;19/07/2019;2;0,325;R\n" +
		"ES00XX000012345678SN;19/07/2019;3;1;R\n"

	curve, err := consumption.Parse(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "ES00XX000012345678SN", curve.CUPS)
	require.Len(t, curve.Series, 3)
	assert.True(t, curve.Series[0].Time.Equal(time.Date(2019, 7, 19, 0, 0, 0, 0, tariff.Location)))
	assert.True(t, curve.Series[2].Time.Equal(time.Date(2019, 7, 19, 2, 0, 0, 0, tariff.Location)))
	assert.Equal(t, 0.3, curve.Series[0].Value)
	assert.Equal(t, 0.325, curve.Series[1].Value)
	assert.Equal(t, 1.0, curve.Series[2].Value)
}

func TestParse_DSTDays(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		hours int
	}{
		{"spring_forward", "29/03/2020", 23},
		{"fall_back", "25/10/2020", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curve, err := consumption.Parse(strings.NewReader(header + day("ES01", tt.date, tt.hours, "0,5")))
			require.NoError(t, err)
			require.Len(t, curve.Series, tt.hours)

			require.NoError(t, curve.Series.Validate())
			first, last := curve.Series[0].Time, curve.Series[tt.hours-1].Time
			assert.Equal(t, time.Duration(tt.hours-1)*time.Hour, last.Sub(first))
			assert.Equal(t, 23, last.In(tariff.Location).Hour())
		})
	}
}

func TestParse_ColumnOrderAndBOM(t *testing.T) {
	src := "\ufeffFecha;Hora;CUPS;Metodo_obtencion;Consumo_kWh\n" +
		"01/01/2020;1;ES01;R;0,125\n"

	curve, err := consumption.Parse(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "ES01", curve.CUPS)
	assert.Equal(t, 0.125, curve.Series[0].Value)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"header_only", header},
		{"missing_column", "CUPS;Fecha;Hora;Consumo_kWh\nES01;01/01/2020;1;0,1\n"},
		{"two_cups", header + "ES01;01/01/2020;1;0,1;R\nES02;01/01/2020;2;0,1;R\n"},
		{"estimated", header + "ES01;01/01/2020;1;0,1;E\n"},
		{"bad_date", header + "ES01;2020-01-01;1;0,1;R\n"},
		{"hour_zero", header + "ES01;01/01/2020;0;0,1;R\n"},
		{"hour_26", header + "ES01;01/01/2020;26;0,1;R\n"},
		{"bad_value", header + "ES01;01/01/2020;1;abc;R\n"},
		{"negative_value", header + "ES01;01/01/2020;1;-0,1;R\n"},
		{"nan_value", header + "ES01;01/01/2020;1;NaN;R\n"},
		{"infinite_value", header + "ES01;01/01/2020;1;Inf;R\n"},
		{"plus_infinite_value", header + "ES01;01/01/2020;1;+Inf;R\n"},
		{"duplicated", header + "ES01;01/01/2020;1;0,1;R\nES01;01/01/2020;1;0,1;R\n"},
		{"unordered", header + "ES01;01/01/2020;2;0,1;R\nES01;01/01/2020;1;0,1;R\n"},
		{"short_row", header + "ES01;01/01/2020;1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := consumption.Parse(strings.NewReader(tt.src))
			assert.ErrorIs(t, err, consumption.ErrMalformedSource)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumo.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+day("ES01", "01/01/2020", 24, "0,2")), 0o600))

	curve, err := consumption.Load(path)
	require.NoError(t, err)
	assert.Len(t, curve.Series, 24)
	assert.InDelta(t, 4.8, curve.Series.Sum(), 1e-9)

	_, err = consumption.Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, consumption.ErrMalformedSource)
}
