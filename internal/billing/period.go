package billing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/money"
	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

// ErrOutOfRange is returned for inputs too large to bill.
var ErrOutOfRange = errors.New("billing: value out of range")

// maxInput bounds kWh, energy terms and contracted power, keeping every product
// of the bill finite.
const maxInput = 1e9

// ComputeBilledPeriod computes the fixed and variable terms of the consumption of
// one calendar year. energyPrice is the per-kWh energy term of the PVPC, already net
// of its transport component, aligned with consumption.
func ComputeBilledPeriod(
	tables *tariff.Tables,
	consumption, energyPrice timeseries.Series,
	t tariff.Type,
	contractedPowerKW float64,
) (model.BilledPeriod, error) {
	if len(consumption) == 0 {
		return model.BilledPeriod{}, ErrEmptySeries
	}
	if err := timeseries.CheckAligned(consumption, energyPrice); err != nil {
		return model.BilledPeriod{}, err
	}
	if err := checkInputs(consumption, energyPrice, contractedPowerKW); err != nil {
		return model.BilledPeriod{}, err
	}

	first := consumption[0].Time.In(tariff.Location)
	last := consumption[len(consumption)-1].Time.In(tariff.Location)
	year := first.Year()
	if last.Year() != year {
		return model.BilledPeriod{}, fmt.Errorf("%w: %d to %d", ErrMixedYears, year, last.Year())
	}
	billedDays := calendarDays(first, last)

	energyTerms, err := tables.EnergyTerms(year, t)
	if err != nil {
		return model.BilledPeriod{}, err
	}
	powerPerDay, err := tables.PowerTermPerDay(year)
	if err != nil {
		return model.BilledPeriod{}, err
	}
	marginPerDay, err := tables.MarginPerDay(year)
	if err != nil {
		return model.BilledPeriod{}, err
	}

	split, err := SplitPeriods(consumption, t)
	if err != nil {
		return model.BilledPeriod{}, err
	}

	prices := energyPrice.Index()
	energyPeriods := make([]model.EnergyPeriod, len(split))
	for i, period := range split {
		kwh := period.Sum()
		var cost float64
		for _, smp := range period {
			cost += smp.Value * prices[smp.Time.Unix()]
		}
		energyPeriods[i] = model.EnergyPeriod{
			Name:           fmt.Sprintf("P%d", i+1),
			AccessTollCost: money.RoundMulDecimal(energyTerms[i], kwh),
			EnergyCost:     money.Round(cost),
			EnergyKWh:      money.Round(kwh),
		}
	}

	power := money.RoundMulDecimal(powerPerDay, contractedPowerKW, float64(billedDays))
	margin := money.RoundMulDecimal(marginPerDay, contractedPowerKW, float64(billedDays))

	return model.BilledPeriod{
		BilledDays:        billedDays,
		Year:              year,
		PowerAccessToll:   power,
		Commercialisation: margin,
		FixedTotal:        money.RoundSum(power, margin),
		EnergyPeriods:     energyPeriods,
	}, nil
}

func checkInputs(consumption, energyPrice timeseries.Series, contractedPowerKW float64) error {
	if math.IsNaN(contractedPowerKW) || math.Abs(contractedPowerKW) > maxInput {
		return fmt.Errorf("%w: contracted power %v kW", ErrOutOfRange, contractedPowerKW)
	}
	for _, s := range []timeseries.Series{consumption, energyPrice} {
		for _, smp := range s {
			if math.IsNaN(smp.Value) || math.IsInf(smp.Value, 0) {
				return fmt.Errorf("%w: %v at %s", timeseries.ErrNonFinite, smp.Value, smp.Time.Format(time.RFC3339))
			}
			if math.Abs(smp.Value) > maxInput {
				return fmt.Errorf("%w: %v at %s", ErrOutOfRange, smp.Value, smp.Time.Format(time.RFC3339))
			}
		}
	}
	return nil
}

// calendarDays counts the calendar days from first to last, both included, on
// their local dates.
func calendarDays(first, last time.Time) int {
	d0 := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	d1 := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	return int(d1.Sub(d0).Hours()/24) + 1
}
