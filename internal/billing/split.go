// Package billing computes PVPC bills: tariff-period split, per-year billed periods
// and the composition of the final bill with discounts and taxes.
//
// Everything here is pure and synchronous. Inputs are never mutated and the same
// inputs always produce the same bill.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

var (
	// ErrCoverage is returned when a tariff split does not assign every sample to
	// exactly one period. It signals a defect in the period rules.
	ErrCoverage = errors.New("billing: tariff periods do not cover the consumption")
	// ErrEmptySeries is returned when there is nothing to bill.
	ErrEmptySeries = errors.New("billing: empty consumption series")
	// ErrMixedYears is returned when a billed period receives samples of several years.
	ErrMixedYears = errors.New("billing: billed period spans several years")
)

// clockRange is a half-open [from, to) interval of minutes since midnight. A range
// with from > to wraps around midnight.
type clockRange struct {
	from, to int
}

func hm(h, m int) int { return h*60 + m }

func (r clockRange) contains(minute int) bool {
	if r.from <= r.to {
		return minute >= r.from && minute < r.to
	}
	return minute >= r.from || minute < r.to
}

// Night (2.0DHA) peak period by season, local clock.
var (
	nightWinterPeak = clockRange{hm(12, 0), hm(22, 0)}
	nightSummerPeak = clockRange{hm(13, 0), hm(23, 0)}
)

// Electric vehicle (2.0DHS) periods on a fixed UTC clock, which is 13-23 / 23-01 +
// 07-13 / 01-07 of the summer local clock all year round.
var evPeriods = [3][]clockRange{
	{{hm(11, 0), hm(21, 0)}},
	{{hm(5, 0), hm(11, 0)}, {hm(21, 0), hm(23, 0)}},
	{{hm(23, 0), hm(5, 0)}},
}

func minuteOfDay(t time.Time) int {
	return hm(t.Hour(), t.Minute())
}

func nightPeriod(t time.Time) int {
	local := t.In(tariff.Location)
	peak := nightWinterPeak
	if local.IsDST() {
		peak = nightSummerPeak
	}
	if peak.contains(minuteOfDay(local)) {
		return 0
	}
	return 1
}

// evPeriod returns -1 unless exactly one range holds t.
func evPeriod(t time.Time) int {
	minute := minuteOfDay(t.UTC())
	period, matches := -1, 0
	for i, ranges := range evPeriods {
		for _, r := range ranges {
			if r.contains(minute) {
				period = i
				matches++
			}
		}
	}
	if matches != 1 {
		return -1
	}
	return period
}

// SplitPeriods partitions the consumption into the time-of-day periods of the
// tariff, P1 first. Each returned series keeps the input order.
func SplitPeriods(consumption timeseries.Series, t tariff.Type) ([]timeseries.Series, error) {
	var classify func(time.Time) int
	switch t {
	case tariff.General:
		return []timeseries.Series{consumption}, nil
	case tariff.Night:
		classify = nightPeriod
	case tariff.ElectricVehicle:
		classify = evPeriod
	default:
		return nil, fmt.Errorf("%w: no period rules for tariff %s", tariff.ErrConfiguration, t)
	}

	periods := make([]timeseries.Series, t.NumPeriods())
	for _, smp := range consumption {
		i := classify(smp.Time)
		if i < 0 || i >= len(periods) {
			return nil, fmt.Errorf("%w: %s has no %s period", ErrCoverage, smp.Time.Format(time.RFC3339), t)
		}
		periods[i] = append(periods[i], smp)
	}

	assigned := 0
	for _, p := range periods {
		assigned += len(p)
	}
	if assigned != len(consumption) {
		return nil, fmt.Errorf("%w: %d of %d samples assigned", ErrCoverage, assigned, len(consumption))
	}
	return periods, nil
}
