package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "pvpc-bills", cfg.Kafka.Topic)
	assert.Equal(t, 200*time.Millisecond, cfg.Publisher.Retry.InitialBackoff)
	assert.Equal(t, uint64(3), cfg.ESIOS.MaxRetries)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	c, err := cfg.Billing.Defaults.Contract()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultContract(), c)

	tables, err := cfg.Billing.Tables()
	require.NoError(t, err)
	assert.Same(t, tariff.DefaultTables(), tables)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9000
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: bills
billing:
  defaults:
    tariff: 2.0DHA
    tax_zone: IGIC
    contracted_power_kw: 5.75
    social_discount: true
logging:
  format: console
`)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("ESIOS_CONCURRENCY", "8")

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.File)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 8, cfg.ESIOS.Concurrency)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "console", cfg.Logging.Format)

	c, err := cfg.Billing.Defaults.Contract()
	require.NoError(t, err)
	assert.Equal(t, tariff.Night, c.Tariff)
	assert.Equal(t, tariff.Canarias, c.TaxZone)
	assert.Equal(t, 5.75, c.ContractedPowerKW)
	assert.True(t, c.WithSocialDiscount)
	assert.Equal(t, model.DefaultAnnualRentalFee, c.AnnualRentalFee)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"kafka_without_topic", "kafka:\n  enabled: true\n  topic: \"\"\n"},
		{"kafka_without_workers", "kafka:\n  enabled: true\npublisher:\n  num_workers: 0\n"},
		{"bad_tariff", "billing:\n  defaults:\n    tariff: 3.0TD\n"},
		{"zero_power", "billing:\n  defaults:\n    contracted_power_kw: 0\n"},
		{"bad_port", "server:\n  port: -1\n"},
		{"not_yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestBillingConfig_TablesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
years:
  2021:
    commercial_margin: "3.113"
    power_access_toll: "38.043426"
    energy_access_toll:
      GEN: ["0.044027"]
      NOC: ["0.062012", "0.002215"]
      VHC: ["0.062012", "0.002879", "0.000886"]
`), 0o600))

	tables, err := config.BillingConfig{TablesPath: path}.Tables()
	require.NoError(t, err)
	assert.Equal(t, []int{2021}, tables.Years())

	_, err = config.BillingConfig{TablesPath: filepath.Join(t.TempDir(), "missing.yaml")}.Tables()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := config.NewLogger(config.LoggingConfig{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
	}

	_, err := config.NewLogger(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
	_, err = config.NewLogger(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
