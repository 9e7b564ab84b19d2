package billing

import (
	"fmt"

	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

// Evaluate bills an hourly consumption series. The series is split by local
// calendar year, each year becomes a billed period, and the periods are composed
// into the bill of the whole window.
func Evaluate(tables *tariff.Tables, contract model.Contract, consumption, energyPrice timeseries.Series) (model.Bill, error) {
	if err := contract.Validate(); err != nil {
		return model.Bill{}, err
	}
	if len(consumption) == 0 {
		return model.Bill{}, ErrEmptySeries
	}
	if err := consumption.Validate(); err != nil {
		return model.Bill{}, err
	}
	if err := timeseries.CheckAligned(consumption, energyPrice); err != nil {
		return model.Bill{}, err
	}

	years := consumption.Years(tariff.Location)
	periods := make([]model.BilledPeriod, 0, len(years))
	for _, year := range years {
		period, err := ComputeBilledPeriod(
			tables,
			consumption.InYear(year, tariff.Location),
			energyPrice.InYear(year, tariff.Location),
			contract.Tariff,
			contract.ContractedPowerKW,
		)
		if err != nil {
			return model.Bill{}, fmt.Errorf("billed period %d: %w", year, err)
		}
		periods = append(periods, period)
	}

	return ComputeBill(contract, periods, consumption[0].Time, consumption[len(consumption)-1].Time)
}
