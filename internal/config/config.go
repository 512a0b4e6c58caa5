package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Secrets (from .env)
	APIKey              string
	CORSAllowOrigin     string
	GoldAPIKey          string
	EthereumAPIEndpoint string

	// Server
	APIPort   int
	LogLevel  string
	LogFormat string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Price storage
	PriceStore    string // "postgres" or "clickhouse"
	ClickHouseDSN string

	// Shared cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Deployment
	Currency string
	Timezone string

	// Ingestion
	IngestSchedule  string
	FetchTimeout    time.Duration
	SourcesFile     string
	UserAgent       string
	MaxBodyBytes    int64
	HostRatePerSec  float64
	BreakerFailures int
	OunceThreshold  decimal.Decimal
	BorderlineBand  decimal.Decimal

	// Cache freshness
	CacheFresh        time.Duration
	CacheRefreshAfter time.Duration

	// Snapshots
	SnapshotTTL time.Duration

	// Market rates
	GoldAPIBaseURL     string
	MarketRefreshAfter time.Duration
	MarketSpread       decimal.Decimal
	OracleGoldFeed     string
	OracleSilverFeed   string
	OracleFXRate       decimal.Decimal

	// Risk Management
	MaxTradeAmount        decimal.Decimal
	MaxDailyTradesPerUser int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Secrets
		APIKey:              envStr("API_KEY", ""),
		CORSAllowOrigin:     envStr("CORS_ALLOW_ORIGIN", "*"),
		GoldAPIKey:          envStr("GOLDAPI_KEY", ""),
		EthereumAPIEndpoint: envStr("ETHEREUM_API_ENDPOINT", ""),

		// Server
		APIPort:   envInt("API_PORT", 3001),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),

		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "bullion"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),

		// Price storage
		PriceStore:    strings.ToLower(envStr("PRICE_STORE", "postgres")),
		ClickHouseDSN: envStr("CLICKHOUSE_DSN", ""),

		// Shared cache
		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		// Deployment
		Currency: strings.ToUpper(envStr("CURRENCY", "EGP")),
		Timezone: envStr("TIMEZONE", "Africa/Cairo"),

		// Ingestion
		IngestSchedule:  envStr("INGEST_SCHEDULE", "0 */15 * * * *"),
		FetchTimeout:    envDuration("FETCH_TIMEOUT", 15*time.Second),
		SourcesFile:     envStr("SOURCES_FILE", ""),
		UserAgent:       envStr("FETCH_USER_AGENT", DefaultUserAgent),
		MaxBodyBytes:    int64(envInt("FETCH_MAX_BODY_BYTES", 4<<20)),
		HostRatePerSec:  envFloat("FETCH_HOST_RATE_PER_SEC", 1),
		BreakerFailures: envInt("FETCH_BREAKER_FAILURES", 5),
		OunceThreshold:  envDecimal("OUNCE_THRESHOLD", decimal.NewFromInt(10000)),
		BorderlineBand:  envDecimal("OUNCE_BORDERLINE_BAND", decimal.RequireFromString("0.10")),

		// Cache freshness
		CacheFresh:        envDuration("CACHE_FRESH", 2*time.Minute),
		CacheRefreshAfter: envDuration("CACHE_REFRESH_AFTER", 5*time.Minute),

		// Snapshots
		SnapshotTTL: envDuration("SNAPSHOT_TTL", 5*time.Minute),

		// Market rates
		GoldAPIBaseURL:     envStr("GOLDAPI_BASE_URL", "https://www.goldapi.io/api"),
		MarketRefreshAfter: envDuration("MARKET_REFRESH_AFTER", time.Hour),
		MarketSpread:       envDecimal("MARKET_SPREAD", decimal.RequireFromString("0.98")),
		OracleGoldFeed:     envStr("ORACLE_XAU_FEED", "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6"),
		OracleSilverFeed:   envStr("ORACLE_XAG_FEED", "0x379589227b15F1a12195D3f2d90bBc9F31f95235"),
		OracleFXRate:       envDecimal("ORACLE_FX_RATE", decimal.Zero),

		// Risk Management
		MaxTradeAmount:        envDecimal("MAX_TRADE_AMOUNT", decimal.Zero),
		MaxDailyTradesPerUser: envInt("MAX_DAILY_TRADES_PER_USER", 0),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.DBUser == "" {
		errs = append(errs, "DB_USER is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("TIMEZONE %q is not a valid IANA zone", c.Timezone))
	}
	if c.FetchTimeout < 10*time.Second || c.FetchTimeout > 30*time.Second {
		errs = append(errs, "FETCH_TIMEOUT must be between 10s and 30s")
	}
	if c.CacheFresh <= 0 || c.CacheRefreshAfter <= c.CacheFresh {
		errs = append(errs, "CACHE_FRESH must be positive and below CACHE_REFRESH_AFTER")
	}
	if c.SnapshotTTL <= 0 {
		errs = append(errs, "SNAPSHOT_TTL must be positive")
	}
	if !c.OunceThreshold.IsPositive() {
		errs = append(errs, "OUNCE_THRESHOLD must be positive")
	}
	if !c.MarketSpread.IsPositive() || c.MarketSpread.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "MARKET_SPREAD must be in (0, 1]")
	}
	switch c.PriceStore {
	case "postgres":
	case "clickhouse":
		if c.ClickHouseDSN == "" {
			errs = append(errs, "CLICKHOUSE_DSN is required when PRICE_STORE=clickhouse")
		}
	default:
		errs = append(errs, fmt.Sprintf("PRICE_STORE %q must be postgres or clickhouse", c.PriceStore))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Warnings lists settings that are legal but leave a feature degraded.
func (c *Config) Warnings() []string {
	var out []string
	if c.GoldAPIKey == "" && c.EthereumAPIEndpoint == "" {
		out = append(out, "GOLDAPI_KEY and ETHEREUM_API_ENDPOINT not set, market prices will be served from stored records only")
	}
	if c.EthereumAPIEndpoint != "" && !c.OracleFXRate.IsPositive() && c.Currency != "USD" {
		out = append(out, "ORACLE_FX_RATE not set, on-chain oracle disabled for non-USD deployment")
	}
	if c.MaxTradeAmount.IsZero() && c.MaxDailyTradesPerUser == 0 {
		out = append(out, "MAX_TRADE_AMOUNT and MAX_DAILY_TRADES_PER_USER are both 0, no per-trade limits active")
	}
	if c.APIKey == "" {
		out = append(out, "API_KEY not set, REST API has no authentication")
	}
	if c.SourcesFile == "" {
		out = append(out, "SOURCES_FILE not set, using built-in sources")
	}
	return out
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Print() {
	fmt.Println("=== Bullion Price Service Configuration ===")
	fmt.Printf("Currency: %s | Timezone: %s\n", c.Currency, c.Timezone)
	fmt.Println("--------------------------------------")
	fmt.Println("Ingestion:")
	fmt.Printf("  Schedule: %s\n", c.IngestSchedule)
	fmt.Printf("  Fetch timeout: %s\n", c.FetchTimeout)
	fmt.Printf("  Sources: %s\n", boolLabel(c.SourcesFile != "", c.SourcesFile, "built-in"))
	fmt.Printf("  Ounce threshold: %s\n", c.OunceThreshold)
	fmt.Println("--------------------------------------")
	fmt.Println("Storage:")
	fmt.Printf("  Prices: %s\n", c.PriceStore)
	fmt.Printf("  Cache: %s\n", boolLabel(c.RedisAddr != "", "redis "+c.RedisAddr, "in-process"))
	fmt.Printf("  Cache fresh/refresh: %s / %s\n", c.CacheFresh, c.CacheRefreshAfter)
	fmt.Printf("  Snapshot TTL: %s\n", c.SnapshotTTL)
	fmt.Println("--------------------------------------")
	fmt.Println("Market rates:")
	fmt.Printf("  GoldAPI: %s\n", boolLabel(c.GoldAPIKey != "", "configured", "not set"))
	fmt.Printf("  Oracle RPC: %s\n", boolLabel(c.EthereumAPIEndpoint != "", "configured", "not set"))
	fmt.Printf("  Refresh after: %s | Spread: %s\n", c.MarketRefreshAfter, c.MarketSpread)
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
