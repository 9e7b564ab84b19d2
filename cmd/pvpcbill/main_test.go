package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
)

func TestContractFromFlags_Defaults(t *testing.T) {
	defaults := config.ContractDefault{
		CUPS:               model.DefaultCUPS,
		Tariff:             "NOC",
		TaxZone:            "IGIC",
		ContractedPowerKW:  5.75,
		AnnualRentalFee:    model.DefaultAnnualRentalFee,
		ElectricityTaxRate: model.DefaultElectricityTaxRate,
	}
	// No flag set on the command line: the configured contract is kept.
	c, err := contractFromFlags(defaults, options{power: 1, tariff: "VHC"})
	require.NoError(t, err)
	assert.Equal(t, tariff.Night, c.Tariff)
	assert.Equal(t, tariff.Canarias, c.TaxZone)
	assert.Equal(t, 5.75, c.ContractedPowerKW)
}

func TestRenderAndWrite(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, tariff.Location)
	bill := model.Bill{
		Contract: model.DefaultContract(),
		Start:    model.NewTimestamp(start),
		End:      model.NewTimestamp(start.Add(23 * time.Hour)),
	}

	_, _, err := render(bill, tariff.DefaultTables(), "html")
	assert.Error(t, err)

	body, ext, err := render(bill, tariff.DefaultTables(), "json")
	require.NoError(t, err)
	assert.Equal(t, "json", ext)

	assert.Equal(t, "-", outputPath(options{format: "text"}, bill, "txt"))
	assert.Equal(t, bill.Identifier()+".json", outputPath(options{format: "json"}, bill, ext))

	path := filepath.Join(t.TempDir(), "out", "bill.json")
	require.NoError(t, write(body, path, zap.NewNop()))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, written)
}
