// Package report renders bills for people: plain text, XLSX workbooks and PDF.
package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
)

const (
	rule       = "--------------------------------------------------------------------------------"
	doubleRule = "################################################################################"
	dateLayout = "02/01/2006"
)

// Text renders the bill as the itemised plain-text invoice. tables provide the
// per-day coefficients shown in the fixed-term detail.
func Text(b model.Bill, tables *tariff.Tables) (string, error) {
	var sb strings.Builder
	c := b.Contract

	sb.WriteString("FACTURA ELÉCTRICA:\n")
	sb.WriteString(rule + "\n")
	header := [][2]string{
		{"CUPS", c.CUPS},
		{"Fecha inicio", b.Start.Format(dateLayout)},
		{"Fecha final", b.End.Format(dateLayout)},
		{"Peaje de acceso", fmt.Sprintf("%s (%s)", c.Tariff.Code(), c.Tariff.Name())},
		{"Potencia contratada", fmt.Sprintf("%.2f kW", c.ContractedPowerKW)},
		{"Consumo periodo", fmt.Sprintf("%.2f kWh", b.TotalEnergy())},
		{"¿Bono Social?", yesNo(c.WithSocialDiscount)},
		{"Equipo de medida", fmt.Sprintf("%.2f €", b.EquipmentRental)},
		{"Impuestos", c.TaxZone.Name()},
		{"Días facturables", fmt.Sprintf("%d", b.BilledDays)},
	}
	for _, kv := range header {
		fmt.Fprintf(&sb, "* %-25s %s\n", kv[0], kv[1])
	}
	sb.WriteString(rule + "\n\n")

	sb.WriteString("- CÁLCULO DEL TÉRMINO FIJO POR POTENCIA CONTRATADA:\n")
	for _, p := range b.Periods {
		power, err := p.PowerTermPerDay(tables)
		if err != nil {
			return "", err
		}
		margin, err := p.MarginPerDay(tables)
		if err != nil {
			return "", err
		}
		sb.WriteString("  Peaje acceso potencia:\n")
		sb.WriteString(fixedLine(c.ContractedPowerKW, power, p, p.PowerAccessToll))
		sb.WriteString("  Comercialización:\n")
		sb.WriteString(fixedLine(c.ContractedPowerKW, margin, p, p.Commercialisation))
	}
	sb.WriteString(sectionTotal("Término fijo", b.FixedTotal()))
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "- CÁLCULO DEL TÉRMINO VARIABLE POR ENERGÍA CONSUMIDA (TARIFA %s):\n", c.Tariff.Code())
	for _, p := range b.Periods {
		for _, e := range p.EnergyPeriods {
			sb.WriteString(energyDetail(e, p.Year, len(b.Periods) > 1))
		}
	}
	sb.WriteString(sectionTotal("Término de consumo", b.VariableTotal()))
	sb.WriteString("\n")

	if c.WithSocialDiscount {
		sb.WriteString(total("- DESCUENTO POR BONO SOCIAL:", b.SocialDiscount))
		sb.WriteString("\n")
	}

	sb.WriteString("- IMPUESTO ELÉCTRICO:\n")
	taxBase := fmt.Sprintf("%.2f€ + %.2f€", b.FixedTotal(), b.VariableTotal())
	if c.WithSocialDiscount {
		taxBase += fmt.Sprintf(" - %.2f€", -b.SocialDiscount)
	}
	sb.WriteString(total(fmt.Sprintf("    %s%% x (%s = %.2f€)",
		percent(c.ElectricityTaxRate), taxBase, b.ElectricityTaxBase()), b.ElectricityTax))
	sb.WriteString(sectionTotal("Subtotal", b.GeneralTaxBase()))
	sb.WriteString("\n")

	sb.WriteString("- EQUIPO DE MEDIDA:\n")
	var perDay float64
	if b.BilledDays > 0 {
		perDay = b.EquipmentRental / float64(b.BilledDays)
	}
	sb.WriteString(total(fmt.Sprintf("    %d días x %.6f €/día", b.BilledDays, perDay), b.EquipmentRental))
	sb.WriteString(sectionTotal("Importe total", b.GeneralTaxBase()+b.EquipmentRental))
	sb.WriteString("\n")

	sb.WriteString("- IVA O EQUIVALENTE:\n")
	var vatDetail string
	if c.TaxZone.Rate() != c.TaxZone.EquipmentRate() {
		vatDetail = fmt.Sprintf("    %s%% de %.2f€ + %s%% de %.2f€",
			percent(c.TaxZone.Rate()), b.GeneralTaxBase(),
			percent(c.TaxZone.EquipmentRate()), b.EquipmentRental)
	} else {
		vatDetail = fmt.Sprintf("    %s%% de %.2f€", percent(c.TaxZone.Rate()), b.GeneralTaxBase()+b.EquipmentRental)
	}
	sb.WriteString(total(vatDetail, b.VATTotal))
	sb.WriteString("\n")

	sb.WriteString(doubleRule + "\n")
	sb.WriteString(total("# TOTAL FACTURA", b.Total))
	sb.WriteString(doubleRule + "\n")
	var daily float64
	if b.BilledDays > 0 {
		daily = b.Total / float64(b.BilledDays)
	}
	fmt.Fprintf(&sb, "Consumo medio diario en el periodo facturado: %.2f €/día\n", daily)
	return sb.String(), nil
}

func fixedLine(powerKW float64, coef decimal.Decimal, p model.BilledPeriod, cost float64) string {
	return fmt.Sprintf("   %.2f kW x %s €/kW/día x %d días (%d/%d) = %.2f €\n",
		powerKW, coef.StringFixed(6), p.BilledDays, p.YearDays(), p.Year, cost)
}

func energyDetail(e model.EnergyPeriod, year int, withYear bool) string {
	label := e.Name
	if withYear {
		label = fmt.Sprintf("%s %d", e.Name, year)
	}
	var avg, avgTEA, avgTCU float64
	if e.EnergyKWh > 0 {
		avg = e.Cost() / e.EnergyKWh
		avgTEA = e.AccessTollCost / e.EnergyKWh
		avgTCU = e.EnergyCost / e.EnergyKWh
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Periodo %s: %.6f €/kWh", label, avg)
	fmt.Fprintf(&sb, "%29s---> %.2f€(%s)\n", "", e.Cost(), e.Name)
	fmt.Fprintf(&sb, "    - Peaje de acceso:     %.0f kWh * %.6f €/kWh = %.2f€\n", e.EnergyKWh, avgTEA, e.AccessTollCost)
	fmt.Fprintf(&sb, "    - Coste de la energía: %.0f kWh * %.6f €/kWh = %.2f€\n", e.EnergyKWh, avgTCU, e.EnergyCost)
	return sb.String()
}

func total(line string, value float64) string {
	return fmt.Sprintf("%-70s %.2f €\n", line, value)
}

func sectionTotal(title string, value float64) string {
	return total("  ==> "+title, value)
}

// percent prints a rate as a percentage without float noise (0.0511269632 -> 5.11269632).
func percent(rate float64) string {
	return decimal.NewFromFloat(rate).Shift(2).String()
}

func yesNo(v bool) string {
	if v {
		return "Sí"
	}
	return "No"
}
