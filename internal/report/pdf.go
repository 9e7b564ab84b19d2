package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"github.com/azogue/pvpcbill/internal/model"
)

// PDF renders a one-page summary of the bill.
func PDF(b model.Bill) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, tr("Factura eléctrica PVPC"))
	pdf.Ln(10)

	c := b.Contract
	pdf.SetFont("Arial", "", 10)
	for _, line := range []string{
		fmt.Sprintf("CUPS: %s", c.CUPS),
		fmt.Sprintf("Periodo: %s a %s (%d días)", b.Start.Format(dateLayout), b.End.Format(dateLayout), b.BilledDays),
		fmt.Sprintf("Peaje de acceso: %s (%s)", c.Tariff.Code(), c.Tariff.Name()),
		fmt.Sprintf("Potencia contratada: %.2f kW", c.ContractedPowerKW),
		fmt.Sprintf("Impuestos: %s", c.TaxZone.Name()),
		fmt.Sprintf("Consumo: %.2f kWh", b.TotalEnergy()),
	} {
		pdf.Cell(0, 6, tr(line))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, tr("Año"), "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Periodo", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, tr("Energía (kWh)"), "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Peaje (EUR)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, tr("Energía (EUR)"), "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, p := range b.Periods {
		for _, e := range p.EnergyPeriods {
			pdf.CellFormat(30, 6, fmt.Sprintf("%d", p.Year), "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 6, e.Name, "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", e.EnergyKWh), "1", 0, "R", false, 0, "")
			pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", e.AccessTollCost), "1", 0, "R", false, 0, "")
			pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", e.EnergyCost), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}
	pdf.Ln(6)

	for _, row := range []struct {
		label string
		value float64
	}{
		{"Término fijo", b.FixedTotal()},
		{"Término de consumo", b.VariableTotal()},
		{"Descuento bono social", b.SocialDiscount},
		{"Impuesto eléctrico", b.ElectricityTax},
		{"Equipo de medida", b.EquipmentRental},
		{"IVA o equivalente", b.VATTotal},
	} {
		pdf.CellFormat(100, 6, tr(row.label), "", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f EUR", row.value), "", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(100, 8, "TOTAL FACTURA", "T", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, fmt.Sprintf("%.2f EUR", b.Total), "T", 0, "R", false, 0, "")
	pdf.Ln(-1)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
