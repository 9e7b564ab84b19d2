// Package timeseries is the hourly series shared by consumption and prices.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInputAlignment is returned when two series that must share an index do not.
	ErrInputAlignment = errors.New("timeseries: series are not aligned")
	// ErrUnordered is returned when timestamps are not strictly increasing.
	ErrUnordered = errors.New("timeseries: timestamps not strictly increasing")
	// ErrNonFinite is returned when a value is NaN or infinite.
	ErrNonFinite = errors.New("timeseries: value is not a finite number")
)

// Sample is one timestamped value.
type Sample struct {
	Time  time.Time
	Value float64
}

// Series is a chronological list of samples.
type Series []Sample

// Times returns the index of the series.
func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s))
	for i, smp := range s {
		out[i] = smp.Time
	}
	return out
}

// Sum adds all values.
func (s Series) Sum() float64 {
	var total float64
	for _, smp := range s {
		total += smp.Value
	}
	return total
}

// Validate checks that timestamps are strictly increasing and values are finite.
func (s Series) Validate() error {
	for _, smp := range s {
		if math.IsNaN(smp.Value) || math.IsInf(smp.Value, 0) {
			return fmt.Errorf("%w: %v at %s", ErrNonFinite, smp.Value, smp.Time.Format(time.RFC3339))
		}
	}
	for i := 1; i < len(s); i++ {
		if !s[i].Time.After(s[i-1].Time) {
			return fmt.Errorf("%w: %s after %s", ErrUnordered,
				s[i].Time.Format(time.RFC3339), s[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Years lists the distinct calendar years of the samples in loc, ascending.
func (s Series) Years(loc *time.Location) []int {
	var years []int
	for _, smp := range s {
		y := smp.Time.In(loc).Year()
		if len(years) == 0 || years[len(years)-1] != y {
			years = append(years, y)
		}
	}
	return years
}

// InYear returns the samples whose calendar year in loc is year.
func (s Series) InYear(year int, loc *time.Location) Series {
	var out Series
	for _, smp := range s {
		if smp.Time.In(loc).Year() == year {
			out = append(out, smp)
		}
	}
	return out
}

// Index maps each timestamp (unix seconds) to its value.
func (s Series) Index() map[int64]float64 {
	idx := make(map[int64]float64, len(s))
	for _, smp := range s {
		idx[smp.Time.Unix()] = smp.Value
	}
	return idx
}

// CheckAligned verifies that a and b share exactly the same timestamps in the same order.
func CheckAligned(a, b Series) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d samples vs %d", ErrInputAlignment, len(a), len(b))
	}
	for i := range a {
		if !a[i].Time.Equal(b[i].Time) {
			return fmt.Errorf("%w: sample %d at %s vs %s", ErrInputAlignment, i,
				a[i].Time.Format(time.RFC3339), b[i].Time.Format(time.RFC3339))
		}
	}
	return nil
}
