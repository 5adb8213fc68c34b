package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "marketdata", cfg.Database.DBName)
	assert.Equal(t, "https://api.binance.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 1200, cfg.Exchange.WeightPerMinute)
	assert.Equal(t, 10, cfg.Collection.TopSymbols)
	assert.Equal(t, 720, cfg.Collection.BatchHours)
	assert.Equal(t, "@hourly", cfg.Collection.CronSpec)
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
exchange:
  weight_per_minute: 600
  request_timeout: 10s
collection:
  start_date: "2023-06-01"
  top_symbols: 25
  cron_spec: "@every 30m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 600, cfg.Exchange.WeightPerMinute)
	assert.Equal(t, 10*time.Second, cfg.Exchange.RequestTimeout)
	assert.Equal(t, 25, cfg.Collection.TopSymbols)
	assert.Equal(t, "@every 30m", cfg.Collection.CronSpec)

	start, err := cfg.Collection.ParsedStartDate()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: "from-file"
`)

	t.Setenv("DB_HOST", "from-env")
	t.Setenv("COLLECTION_TOP_SYMBOLS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Host)
	assert.Equal(t, 3, cfg.Collection.TopSymbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	cfg.Collection.StartDate = "June 1st"
	assert.Error(t, cfg.Validate())

	cfg.Collection.StartDate = "2023-06-01"
	cfg.Collection.TopSymbols = 0
	assert.Error(t, cfg.Validate())

	cfg.Collection.TopSymbols = 10
	cfg.Exchange.WeightPerMinute = -1
	assert.Error(t, cfg.Validate())
}

func TestConnectionString(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: "5433", User: "svc", Password: "pw",
		DBName: "marketdata", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://svc:pw@db:5433/marketdata?sslmode=disable", d.ConnectionString())
}
