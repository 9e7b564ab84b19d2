// Package esios downloads hourly PVPC prices from Red Eléctrica (ESIOS), keeps them
// in a local CSV store and serves them aligned with a consumption index.
package esios

import (
	"fmt"
	"time"

	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

// HourlyPrice is the PVPC of one hour, in EUR/MWh. TEU* are the transport (access
// toll) components already included in the per-tariff price.
type HourlyPrice struct {
	Time   time.Time
	GEN    float64
	NOC    float64
	VHC    float64
	TEUGEN float64
	TEUNOC float64
	TEUVHC float64
}

// Price returns the full PVPC of the tariff.
func (p HourlyPrice) Price(t tariff.Type) (float64, error) {
	switch t {
	case tariff.General:
		return p.GEN, nil
	case tariff.Night:
		return p.NOC, nil
	case tariff.ElectricVehicle:
		return p.VHC, nil
	}
	return 0, fmt.Errorf("%w: no PVPC column for tariff %s", tariff.ErrConfiguration, t)
}

// TransportTerm returns the access-toll component of the tariff price.
func (p HourlyPrice) TransportTerm(t tariff.Type) (float64, error) {
	switch t {
	case tariff.General:
		return p.TEUGEN, nil
	case tariff.Night:
		return p.TEUNOC, nil
	case tariff.ElectricVehicle:
		return p.TEUVHC, nil
	}
	return 0, fmt.Errorf("%w: no TEU column for tariff %s", tariff.ErrConfiguration, t)
}

// EnergyTerm is the energy cost in EUR/kWh: the PVPC net of its transport term,
// which the bill charges separately through the access tolls.
func (p HourlyPrice) EnergyTerm(t tariff.Type) (float64, error) {
	price, err := p.Price(t)
	if err != nil {
		return 0, err
	}
	teu, err := p.TransportTerm(t)
	if err != nil {
		return 0, err
	}
	return (price - teu) / 1000, nil
}

// EnergyTermSeries converts prices into the per-kWh energy term series of a tariff.
func EnergyTermSeries(prices []HourlyPrice, t tariff.Type) (timeseries.Series, error) {
	out := make(timeseries.Series, len(prices))
	for i, p := range prices {
		v, err := p.EnergyTerm(t)
		if err != nil {
			return nil, err
		}
		out[i] = timeseries.Sample{Time: p.Time, Value: v}
	}
	return out, nil
}

// Reindex picks the price of every instant of index, in order. A missing hour is an
// alignment error.
func Reindex(prices []HourlyPrice, index []time.Time) ([]HourlyPrice, error) {
	byUnix := make(map[int64]HourlyPrice, len(prices))
	for _, p := range prices {
		byUnix[p.Time.Unix()] = p
	}
	out := make([]HourlyPrice, len(index))
	for i, ts := range index {
		p, ok := byUnix[ts.Unix()]
		if !ok {
			return nil, fmt.Errorf("%w: no PVPC price for %s", timeseries.ErrInputAlignment, ts.Format(time.RFC3339))
		}
		p.Time = ts
		out[i] = p
	}
	return out, nil
}
