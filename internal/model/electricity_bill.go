// internal/model/electricity_bill.go
package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/azogue/pvpcbill/internal/money"
	"github.com/azogue/pvpcbill/internal/tariff"
)

// Bill is a computed PVPC electricity bill. It is built once by the billing
// package with every term already computed and is treated as read-only afterwards.
// The JSON tags are the stable field names of the exported document.
type Bill struct {
	// Contract is the billing policy the bill was computed with.
	Contract Contract `json:"config"`
	// BilledDays is the number of days of the whole billing window.
	BilledDays int `json:"billed_days"`
	// Start is the first consumption sample of the window.
	Start Timestamp `json:"start"`
	// End is the last consumption sample of the window.
	End Timestamp `json:"end"`
	// Periods holds one billed period per calendar year, chronologically.
	Periods []BilledPeriod `json:"billed_periods"`
	// SocialDiscount is the social-tariff discount, zero or negative.
	SocialDiscount float64 `json:"social_discount"`
	// ElectricityTax is the electricity tax term.
	ElectricityTax float64 `json:"electricity_tax"`
	// EquipmentRental is the metering equipment rental, pro-rated over the billed years.
	EquipmentRental float64 `json:"equipment_rental"`
	// VATGeneral is the VAT (or equivalent) on power, energy and electricity tax.
	VATGeneral float64 `json:"vat_general"`
	// VATEquipment is the VAT (or equivalent) on the equipment rental.
	VATEquipment float64 `json:"vat_equipment"`
	// VATTotal is VATGeneral plus VATEquipment.
	VATTotal float64 `json:"vat_total"`
	// Total is the amount due.
	Total float64 `json:"total"`
}

// BilledPeriod is the slice of a bill that falls in one calendar year.
type BilledPeriod struct {
	BilledDays        int            `json:"billed_days"`
	Year              int            `json:"year"`
	PowerAccessToll   float64        `json:"fixed_access_toll"`
	Commercialisation float64        `json:"fixed_commercialisation"`
	FixedTotal        float64        `json:"fixed_total"`
	EnergyPeriods     []EnergyPeriod `json:"energy_periods"`
}

// EnergyPeriod is the variable term of one tariff period inside a billed period.
type EnergyPeriod struct {
	Name           string  `json:"name"`
	AccessTollCost float64 `json:"access_toll_cost"`
	EnergyCost     float64 `json:"energy_cost"`
	EnergyKWh      float64 `json:"energy_kwh"`
}

// Cost is the access-toll plus energy cost of the period.
func (p EnergyPeriod) Cost() float64 {
	return money.Sum(p.AccessTollCost, p.EnergyCost)
}

// YearDays is the number of days of the period's year.
func (p BilledPeriod) YearDays() int {
	return tariff.DaysInYear(p.Year)
}

// PowerTermPerDay is the access-toll power coefficient applied, EUR/(kW day).
func (p BilledPeriod) PowerTermPerDay(tables *tariff.Tables) (decimal.Decimal, error) {
	return tables.PowerTermPerDay(p.Year)
}

// MarginPerDay is the commercialisation coefficient applied, EUR/(kW day).
func (p BilledPeriod) MarginPerDay(tables *tariff.Tables) (decimal.Decimal, error) {
	return tables.MarginPerDay(p.Year)
}

// EnergyPeriods flattens the tariff periods of every billed period.
func (b Bill) EnergyPeriods() []EnergyPeriod {
	var out []EnergyPeriod
	for _, p := range b.Periods {
		out = append(out, p.EnergyPeriods...)
	}
	return out
}

// FixedTotal is the fixed term of the whole bill.
func (b Bill) FixedTotal() float64 {
	values := make([]float64, len(b.Periods))
	for i, p := range b.Periods {
		values[i] = p.FixedTotal
	}
	return money.RoundSum(values...)
}

// AccessTollEnergyTotal is the access-toll energy cost of the whole bill.
func (b Bill) AccessTollEnergyTotal() float64 {
	var values []float64
	for _, p := range b.EnergyPeriods() {
		values = append(values, p.AccessTollCost)
	}
	return money.RoundSum(values...)
}

// EnergyCostTotal is the price-based energy cost of the whole bill.
func (b Bill) EnergyCostTotal() float64 {
	var values []float64
	for _, p := range b.EnergyPeriods() {
		values = append(values, p.EnergyCost)
	}
	return money.RoundSum(values...)
}

// VariableTotal is the variable (energy) term of the whole bill.
func (b Bill) VariableTotal() float64 {
	return money.Round(money.Sum(b.AccessTollEnergyTotal(), b.EnergyCostTotal()))
}

// TotalEnergy is the billed energy in kWh.
func (b Bill) TotalEnergy() float64 {
	var values []float64
	for _, p := range b.EnergyPeriods() {
		values = append(values, p.EnergyKWh)
	}
	return money.Sum(values...)
}

// ElectricityTaxBase is the amount the electricity tax applies to: fixed plus
// variable terms after the social discount.
func (b Bill) ElectricityTaxBase() float64 {
	return money.Sum(b.FixedTotal(), b.VariableTotal(), b.SocialDiscount)
}

// GeneralTaxBase is the amount VATGeneral applies to.
func (b Bill) GeneralTaxBase() float64 {
	return money.Sum(b.ElectricityTaxBase(), b.ElectricityTax)
}

// Identifier is a deterministic name for exported files and cache keys.
func (b Bill) Identifier() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "elecbill_data_%s_to_%s_%s_%s_%s",
		b.Start.In(tariff.Location).Format("2006_01_02"),
		b.End.In(tariff.Location).Format("2006_01_02"),
		b.Contract.Tariff.Key(),
		strings.ReplaceAll(strconv.FormatFloat(b.Contract.ContractedPowerKW, 'g', 6, 64), ".", "_"),
		b.Contract.TaxZone.Code(),
	)
	if b.Contract.WithSocialDiscount {
		sb.WriteString("_discount")
	}
	return sb.String()
}
