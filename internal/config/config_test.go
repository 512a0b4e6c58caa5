package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjannette/bullion-backend/internal/extract"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("DB_USER", "bullion")
	t.Setenv("FETCH_TIMEOUT", "20s")
	t.Setenv("MARKET_SPREAD", "0.97")
	t.Setenv("CURRENCY", "usd")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.FetchTimeout)
	assert.True(t, decimal.RequireFromString("0.97").Equal(cfg.MarketSpread))
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 2*time.Minute, cfg.CacheFresh)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotTTL)
	assert.Equal(t, "postgres://bullion:@localhost:5432/bullion?sslmode=disable", cfg.DSN())
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := &Config{
		Timezone:          "Mars/Olympus",
		FetchTimeout:      time.Minute,
		CacheFresh:        5 * time.Minute,
		CacheRefreshAfter: 2 * time.Minute,
		PriceStore:        "clickhouse",
		MarketSpread:      decimal.NewFromInt(2),
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"DB_USER", "TIMEZONE", "FETCH_TIMEOUT", "CACHE_FRESH", "SNAPSHOT_TTL", "OUNCE_THRESHOLD", "MARKET_SPREAD", "CLICKHOUSE_DSN"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestWarnings(t *testing.T) {
	cfg := &Config{Currency: "EGP", EthereumAPIEndpoint: "http://rpc"}
	w := cfg.Warnings()
	assert.Len(t, w, 4)
}

func TestDefaultSourcesValidate(t *testing.T) {
	srcs := DefaultSources()
	require.NotEmpty(t, srcs)
	for _, s := range srcs {
		assert.NoError(t, s.Validate(), s.Name)
	}
	byMetal := ByMetal(srcs)
	assert.Len(t, byMetal[models.Gold], 2)
	assert.Len(t, byMetal[models.Silver], 1)
	assert.Equal(t, "isagha-gold", byMetal[models.Gold][0].Name)
}

func TestLoadSources_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	yaml := `
sources:
  - name: json-feed
    url: https://example.com/prices.json
    metal: Gold
    format: json
    timeout: 12s
    headers:
      Accept: application/json
    matchers:
      - path: data.gold.buy
        role: buy
        unit: gram
      - path: data.gold.sell
        role: sell
        unit: gram
  - name: silver-table
    url: https://example.com/silver
    metal: silver
    currency: egp
    format: html-table
    currency_markers: ["$"]
    matchers:
      - pattern: silver 999
        columns: [sell, buy]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	srcs, err := LoadSources(path, "EGP")
	require.NoError(t, err)
	require.Len(t, srcs, 2)

	gold := srcs[0]
	assert.Equal(t, models.Gold, gold.Metal)
	assert.Equal(t, extract.FormatJSON, gold.Format)
	assert.Equal(t, 12*time.Second, gold.Timeout)
	assert.Equal(t, "EGP", gold.Currency)
	assert.Equal(t, "application/json", gold.Headers["accept"])
	require.Len(t, gold.Matchers, 2)
	assert.Equal(t, models.RoleBuy, gold.Matchers[0].Role)
	assert.Equal(t, models.UnitGram, gold.Matchers[0].Unit)

	silver := srcs[1]
	assert.Equal(t, "EGP", silver.Currency)
	assert.Equal(t, []models.Role{models.RoleSell, models.RoleBuy}, silver.Matchers[0].Columns)
	assert.Equal(t, []string{"$"}, silver.CurrencyMarkers)
}

func TestLoadSources_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - name: broken
    url: ftp://example.com
    metal: gold
    format: html-text
    matchers:
      - pattern: gold
`), 0o600))

	_, err := LoadSources(path, "EGP")
	assert.Error(t, err)

	_, err = LoadSources(filepath.Join(t.TempDir(), "missing.yaml"), "EGP")
	assert.Error(t, err)
}

func TestLoadSources_CurrencyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - name: usd-feed
    url: https://example.com/prices
    metal: gold
    currency: USD
    format: html-table
    matchers:
      - pattern: gold 24k
        columns: [sell, buy]
`), 0o600))

	_, err := LoadSources(path, "EGP")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usd-feed")
	assert.Contains(t, err.Error(), "USD")
}

func TestLoadSources_EmptyPathUsesDefaults(t *testing.T) {
	srcs, err := LoadSources("", "EGP")
	require.NoError(t, err)
	for _, s := range srcs {
		assert.Equal(t, "EGP", s.Currency)
	}
}
