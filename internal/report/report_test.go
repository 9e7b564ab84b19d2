package report_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/azogue/pvpcbill/internal/billing"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/report"
	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

func hourly(start time.Time, n int, value float64) timeseries.Series {
	s := make(timeseries.Series, n)
	for i := range s {
		s[i] = timeseries.Sample{Time: start.Add(time.Duration(i) * time.Hour), Value: value}
	}
	return s
}

func goldenBill(t *testing.T, tt tariff.Type, zone tariff.TaxZone, discount bool) model.Bill {
	t.Helper()
	c := model.DefaultContract()
	c.Tariff = tt
	c.ContractedPowerKW = 4.6
	c.TaxZone = zone
	c.WithSocialDiscount = discount

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, tariff.Location)
	b, err := billing.Evaluate(tariff.DefaultTables(), c, hourly(start, 720, 0.5), hourly(start, 720, 0.1))
	require.NoError(t, err)
	return b
}

func TestText(t *testing.T) {
	text, err := report.Text(goldenBill(t, tariff.General, tariff.PeninsulaBaleares, false), tariff.DefaultTables())
	require.NoError(t, err)

	for _, want := range []string{
		"FACTURA ELÉCTRICA:",
		"2.0A (General)",
		"01/01/2020",
		"30/01/2020",
		"Península y Baleares (IVA)",
		"4.60 kW x 0.103944 €/kW/día x 30 días (366/2020) = 14.34 €",
		"4.60 kW x 0.008505 €/kW/día x 30 días (366/2020) = 1.17 €",
		"360 kWh * 0.044028 €/kWh = 15.85€",
		"360 kWh * 0.100000 €/kWh = 36.00€",
		"5.11269632% x (15.51€ + 51.85€ = 67.36€)",
		"21% de 71.60€",
		"Consumo medio diario en el periodo facturado: 2.89 €/día",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "BONO SOCIAL:")

	var totalLine string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "# TOTAL FACTURA") {
			totalLine = line
		}
	}
	assert.True(t, strings.HasSuffix(totalLine, " 86.64 €"), totalLine)
}

func TestText_DiscountAndSplitVAT(t *testing.T) {
	text, err := report.Text(goldenBill(t, tariff.Night, tariff.Canarias, true), tariff.DefaultTables())
	require.NoError(t, err)

	assert.Contains(t, text, "- DESCUENTO POR BONO SOCIAL:")
	assert.Contains(t, text, "¿Bono Social?")
	assert.Contains(t, text, "Periodo P2:")
	assert.Contains(t, text, "3% de ")
	assert.Contains(t, text, "7% de 0.80€")
}

func TestText_UnknownYear(t *testing.T) {
	b := goldenBill(t, tariff.General, tariff.PeninsulaBaleares, false)
	b.Periods[0].Year = 2018

	_, err := report.Text(b, tariff.DefaultTables())
	assert.ErrorIs(t, err, tariff.ErrConfiguration)
}

func TestXLSX(t *testing.T) {
	b := goldenBill(t, tariff.Night, tariff.PeninsulaBaleares, false)

	raw, err := report.XLSX(b)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"factura", "periodos"}, f.GetSheetList())

	rows, err := f.GetRows("factura")
	require.NoError(t, err)
	assert.Equal(t, []string{"Identificador", b.Identifier()}, rows[0])
	assert.Equal(t, []string{"Total factura (€)", "78.91"}, rows[len(rows)-1])

	periods, err := f.GetRows("periodos")
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Equal(t, "P1", periods[1][2])
	assert.Equal(t, "P2", periods[2][2])
}

func TestPDF(t *testing.T) {
	raw, err := report.PDF(goldenBill(t, tariff.ElectricVehicle, tariff.CeutaMelilla, true))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF-")))
}
