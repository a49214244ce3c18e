package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-indexer/internal/instrument"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	require.Len(t, cfg.Instruments, 2)
	assert.Equal(t, "ANTI", cfg.Instruments[0].Name)
	assert.Equal(t, "PRO", cfg.Instruments[1].Name)
	assert.Equal(t, "raydium", cfg.Price.Source)
	assert.Equal(t, 10*time.Second, cfg.Ledger.RequestTimeout)

	require.Contains(t, cfg.Cadences, "hourly")
	assert.Equal(t, []string{"ingest_market_cap", "rollup_hourly_price"}, cfg.Cadences["hourly"].Jobs)
	assert.Equal(t, time.Hour, cfg.Cadences["hourly"].Interval)
	assert.Equal(t, []string{"minute", "hourly", "daily"}, cfg.CadenceNames())

	require.Contains(t, cfg.Rollups, "daily_market_cap")
	assert.Equal(t, 24*time.Hour, cfg.Rollups["daily_market_cap"].Window)
	assert.Equal(t, "daily_market_caps", cfg.Rollups["daily_market_cap"].Destination)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
instruments:
  - name: PRO
    address: CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump
cadences:
  minute:
    interval: 1m
    jobs: [ingest_prices, ingest_market_cap]
api:
  legacy_errors: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, "PRO", cfg.Instruments[0].Name)
	assert.Equal(t, []string{"ingest_prices", "ingest_market_cap"}, cfg.Cadences["minute"].Jobs)
	assert.True(t, cfg.API.LegacyErrors)
	assert.Len(t, cfg.Rollups, 3, "rollups left unset keep the defaults")
}

func TestLoadReplacesCadenceAndRollupMaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
cadences:
  minute:
    interval: 1m
    cron: "* * * * *"
    jobs: [ingest_prices, ingest_market_cap, rollup_daily_market_cap]
rollups:
  daily_market_cap:
    source: market_caps
    destination: daily_market_caps
    window: 24h
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"minute"}, cfg.CadenceNames(), "default cadences must not be merged in")
	require.Len(t, cfg.Rollups, 1)
	rollup := cfg.Rollups["daily_market_cap"]
	assert.Empty(t, rollup.DependsOn, "omitted fields must not inherit defaults")
	assert.Equal(t, 24*time.Hour, rollup.Window)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Instruments: testInstruments(),
			Price:       PriceConfig{BaseURL: "http://x", Source: "raydium"},
			Ledger:      LedgerConfig{RPCURL: "http://y"},
			Cadences:    map[string]CadenceConfig{"minute": {Interval: time.Minute, Jobs: []string{"ingest_prices"}}},
			Export:      ExportConfig{MaxDataPoints: 10},
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Instruments = nil
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Cadences["minute"] = CadenceConfig{Interval: time.Minute}
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Rollups = map[string]RollupConfig{"bad": {Source: "prices", Destination: "daily_prices"}}
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Alerting.Telegram.Enabled = true
	require.Error(t, cfg.Validate())
}

func testInstruments() []instrument.Instrument {
	return []instrument.Instrument{
		{Name: "ANTI", Address: "HB8KrN7Bb3iLWUPsozp67kS4gxtbA4W5QJX4wKPvpump"},
		{Name: "PRO", Address: "CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump"},
	}
}
