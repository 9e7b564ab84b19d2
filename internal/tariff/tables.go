package tariff

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// perDayPlaces is the precision of the per-day fixed-term coefficients.
const perDayPlaces = 6

//go:embed regulatory.yaml
var defaultTablesYAML []byte

var defaultTables = func() *Tables {
	t, err := ParseTables(defaultTablesYAML)
	if err != nil {
		panic(fmt.Errorf("embedded regulatory tables: %w", err))
	}
	return t
}()

// Coefficients are the regulated terms of one year.
type Coefficients struct {
	// CommercialMargin is the commercialisation margin, EUR/(kW year).
	CommercialMargin decimal.Decimal `yaml:"commercial_margin"`
	// PowerAccessToll is the access-toll power term, EUR/(kW year).
	PowerAccessToll decimal.Decimal `yaml:"power_access_toll"`
	// EnergyAccessToll maps a tariff key to its per-period energy terms, EUR/kWh.
	EnergyAccessToll map[string][]decimal.Decimal `yaml:"energy_access_toll"`
}

type tablesFile struct {
	Years map[int]Coefficients `yaml:"years"`
}

// Tables is a read-only set of year-indexed regulatory coefficients.
type Tables struct {
	years map[int]Coefficients
}

// DefaultTables returns the embedded tables.
func DefaultTables() *Tables {
	return defaultTables
}

// LoadTables reads tables from a YAML file with the embedded file's layout.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regulatory tables %s: %w", path, err)
	}
	return ParseTables(data)
}

// ParseTables decodes and validates YAML tables.
func ParseTables(data []byte) (*Tables, error) {
	var file tablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode regulatory tables: %w", err)
	}
	if len(file.Years) == 0 {
		return nil, fmt.Errorf("%w: regulatory tables without years", ErrConfiguration)
	}
	for year, coefs := range file.Years {
		if !coefs.PowerAccessToll.IsPositive() || coefs.CommercialMargin.IsNegative() {
			return nil, fmt.Errorf("%w: invalid fixed terms for %d", ErrConfiguration, year)
		}
		for key, terms := range coefs.EnergyAccessToll {
			t, err := ParseType(key)
			if err != nil {
				return nil, fmt.Errorf("year %d: %w", year, err)
			}
			if len(terms) != t.NumPeriods() {
				return nil, fmt.Errorf("%w: year %d tariff %s has %d energy terms, want %d",
					ErrConfiguration, year, key, len(terms), t.NumPeriods())
			}
		}
	}
	return &Tables{years: file.Years}, nil
}

// Years lists the covered years in ascending order.
func (t *Tables) Years() []int {
	years := make([]int, 0, len(t.years))
	for y := range t.years {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Year returns the coefficients of a year.
func (t *Tables) Year(year int) (Coefficients, error) {
	coefs, ok := t.years[year]
	if !ok {
		return Coefficients{}, fmt.Errorf("%w: no regulatory coefficients for year %d", ErrConfiguration, year)
	}
	return coefs, nil
}

// EnergyTerms returns the access-toll energy terms of a tariff, one per period.
func (t *Tables) EnergyTerms(year int, tt Type) ([]decimal.Decimal, error) {
	coefs, err := t.Year(year)
	if err != nil {
		return nil, err
	}
	terms, ok := coefs.EnergyAccessToll[tt.Key()]
	if !ok || !tt.Valid() {
		return nil, fmt.Errorf("%w: no energy access toll for tariff %s in %d", ErrConfiguration, tt, year)
	}
	return terms, nil
}

// PowerTermPerDay is the access-toll power term in EUR/(kW day).
func (t *Tables) PowerTermPerDay(year int) (decimal.Decimal, error) {
	coefs, err := t.Year(year)
	if err != nil {
		return decimal.Zero, err
	}
	return perDay(coefs.PowerAccessToll, year), nil
}

// MarginPerDay is the commercialisation margin in EUR/(kW day).
func (t *Tables) MarginPerDay(year int) (decimal.Decimal, error) {
	coefs, err := t.Year(year)
	if err != nil {
		return decimal.Zero, err
	}
	return perDay(coefs.CommercialMargin, year), nil
}

func perDay(yearly decimal.Decimal, year int) decimal.Decimal {
	return yearly.Div(decimal.NewFromInt(int64(DaysInYear(year)))).Round(perDayPlaces)
}

// DaysInYear returns 365 or 366.
func DaysInYear(year int) int {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
}
