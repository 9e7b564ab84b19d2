package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/azogue/pvpcbill/internal/model"
)

const (
	summarySheet = "factura"
	periodsSheet = "periodos"
)

// XLSX renders the bill as a workbook with a summary sheet and one row per energy
// period.
func XLSX(b model.Bill) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(periodsSheet); err != nil {
		return nil, err
	}

	c := b.Contract
	summary := []struct {
		label string
		value any
	}{
		{"Identificador", b.Identifier()},
		{"CUPS", c.CUPS},
		{"Fecha inicio", b.Start.String()},
		{"Fecha final", b.End.String()},
		{"Peaje de acceso", c.Tariff.Code()},
		{"Potencia contratada (kW)", c.ContractedPowerKW},
		{"Bono social", yesNo(c.WithSocialDiscount)},
		{"Impuestos", c.TaxZone.Name()},
		{"Días facturables", b.BilledDays},
		{"Consumo (kWh)", b.TotalEnergy()},
		{"Término fijo (€)", b.FixedTotal()},
		{"Término de consumo (€)", b.VariableTotal()},
		{"Descuento bono social (€)", b.SocialDiscount},
		{"Impuesto eléctrico (€)", b.ElectricityTax},
		{"Equipo de medida (€)", b.EquipmentRental},
		{"IVA general (€)", b.VATGeneral},
		{"IVA equipo de medida (€)", b.VATEquipment},
		{"IVA total (€)", b.VATTotal},
		{"Total factura (€)", b.Total},
	}
	for i, row := range summary {
		r := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", r), row.label)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", r), row.value)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)

	headers := []string{"Año", "Días", "Periodo", "Energía (kWh)", "Peaje de acceso (€)", "Coste energía (€)", "Total (€)"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(periodsSheet, cell, h)
	}
	row := 2
	for _, p := range b.Periods {
		for _, e := range p.EnergyPeriods {
			values := []any{p.Year, p.BilledDays, e.Name, e.EnergyKWh, e.AccessTollCost, e.EnergyCost, e.Cost()}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return nil, err
				}
				_ = f.SetCellValue(periodsSheet, cell, v)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
