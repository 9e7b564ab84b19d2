package billing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/money"
	"github.com/azogue/pvpcbill/internal/tariff"
)

// socialDiscountRate is the social-tariff (bono social) discount on power and energy.
const socialDiscountRate = -0.25

var (
	// ErrInvalidWindow is returned when the billing window ends before it starts.
	ErrInvalidWindow = errors.New("billing: invalid billing window")
	// ErrDuplicateYear is returned when two billed periods share a year.
	ErrDuplicateYear = errors.New("billing: year billed twice")
)

// ComputeBill composes billed periods into the final bill. The order of the steps is
// part of the regulated calculation: each rounded term feeds the next one.
func ComputeBill(contract model.Contract, periods []model.BilledPeriod, start, end time.Time) (model.Bill, error) {
	if err := contract.Validate(); err != nil {
		return model.Bill{}, err
	}
	if len(periods) == 0 {
		return model.Bill{}, ErrEmptySeries
	}
	if end.Before(start) {
		return model.Bill{}, fmt.Errorf("%w: %s before %s", ErrInvalidWindow,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	owned, err := ownPeriods(periods)
	if err != nil {
		return model.Bill{}, err
	}
	bill := model.Bill{
		Contract:   contract,
		BilledDays: calendarDays(start.In(tariff.Location), end.In(tariff.Location)),
		Start:      model.NewTimestamp(start),
		End:        model.NewTimestamp(end),
		Periods:    owned,
	}

	subtotal := money.Sum(bill.FixedTotal(), bill.VariableTotal())

	if contract.WithSocialDiscount {
		bill.SocialDiscount = money.RoundMul(socialDiscountRate, money.Round(subtotal))
		subtotal = money.Sum(subtotal, bill.SocialDiscount)
	}

	bill.ElectricityTax = money.RoundMul(contract.ElectricityTaxRate, subtotal)
	subtotal = money.Sum(subtotal, bill.ElectricityTax)

	bill.EquipmentRental = money.RoundMulDecimal(billedYearFraction(owned), contract.AnnualRentalFee)

	bill.VATGeneral = money.RoundMul(subtotal, contract.TaxZone.Rate())
	bill.VATEquipment = money.RoundMul(bill.EquipmentRental, contract.TaxZone.EquipmentRate())
	bill.VATTotal = money.Round(money.Sum(bill.VATGeneral, bill.VATEquipment))

	bill.Total = money.Round(money.Sum(subtotal, bill.EquipmentRental, bill.VATTotal))
	return bill, nil
}

// billedYearFraction is the sum over periods of billed days / days in that year.
func billedYearFraction(periods []model.BilledPeriod) decimal.Decimal {
	frac := decimal.Zero
	for _, p := range periods {
		frac = frac.Add(decimal.NewFromInt(int64(p.BilledDays)).Div(decimal.NewFromInt(int64(p.YearDays()))))
	}
	return frac
}

// ownPeriods deep-copies the periods in chronological order.
func ownPeriods(periods []model.BilledPeriod) ([]model.BilledPeriod, error) {
	out := make([]model.BilledPeriod, len(periods))
	for i, p := range periods {
		p.EnergyPeriods = append([]model.EnergyPeriod(nil), p.EnergyPeriods...)
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	for i := 1; i < len(out); i++ {
		if out[i].Year == out[i-1].Year {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateYear, out[i].Year)
		}
	}
	return out, nil
}
