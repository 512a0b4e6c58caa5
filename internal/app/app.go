// Package app wires configuration into the running services shared by the
// API server and the one-shot ingestion command.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/bullion-backend/internal/api"
	"github.com/kjannette/bullion-backend/internal/cache"
	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/db"
	"github.com/kjannette/bullion-backend/internal/ethereum"
	"github.com/kjannette/bullion-backend/internal/external"
	"github.com/kjannette/bullion-backend/internal/fetch"
	"github.com/kjannette/bullion-backend/internal/ingest"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/normalize"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/pricecache"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/kjannette/bullion-backend/internal/repository/clickhouse"
	"github.com/kjannette/bullion-backend/internal/risk"
	"github.com/kjannette/bullion-backend/internal/snapshot"
	"github.com/kjannette/bullion-backend/internal/trading"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RedisKeyPrefix namespaces every key this service writes to Redis.
const RedisKeyPrefix = "bullion:"

type App struct {
	Config  *config.Config
	Log     logrus.FieldLogger
	Metrics *observability.Metrics

	Pool      *pgxpool.Pool
	Prices    repository.PriceStore
	Reader    *pricecache.Reader
	Snapshots *snapshot.Service
	Trades    repository.TradeStore
	Ledger    repository.Ledger
	Executor  *trading.Executor
	Job       *ingest.Job
	Market    *ingest.MarketSync
	Checks    map[string]api.HealthCheck

	closers []func()
}

// New connects every backing store and builds the services. Close releases
// whatever New managed to open, also after a failure.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (a *App, err error) {
	a = &App{
		Config:  cfg,
		Log:     log,
		Metrics: observability.NewMetrics(),
		Checks:  make(map[string]api.HealthCheck),
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	loc := cfg.Location()

	// Database
	log.WithFields(logrus.Fields{"host": cfg.DBHost, "port": cfg.DBPort, "db": cfg.DBName}).Info("connecting to database")
	a.Pool, err = db.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, a.Pool.Close)
	if err := db.TestConnection(a.Pool, log); err != nil {
		return nil, err
	}
	applied, err := db.Migrate(ctx, a.Pool)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.WithField("files", applied).Info("migrations applied")
	a.Checks["database"] = a.Pool.Ping

	// Price history
	switch cfg.PriceStore {
	case "clickhouse":
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { conn.Close() })
		store := clickhouse.NewPriceStore(conn, loc)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.Prices = store
		a.Checks["clickhouse"] = conn.Ping
	default:
		a.Prices = repository.NewPriceRepo(a.Pool, loc)
	}

	// Latest-price cache
	var entries cache.Store = cache.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, RedisKeyPrefix)
		a.closers = append(a.closers, func() { _ = rs.Close() })
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		entries = rs
		a.Checks["redis"] = rs.Ping
	}
	a.Reader = pricecache.NewReader(a.Prices, entries, pricecache.Config{
		Fresh:        cfg.CacheFresh,
		RefreshAfter: cfg.CacheRefreshAfter,
	}, a.Metrics, log)

	// Snapshots and trading
	snapshots := repository.NewSnapshotRepo(a.Pool)
	a.Snapshots = snapshot.NewService(a.Reader, snapshots, cfg.SnapshotTTL, a.Metrics, log)
	trades := repository.NewTradeRepo(a.Pool)
	a.Trades = trades
	a.Ledger = repository.NewLedgerRepo(a.Pool)
	guardian := risk.NewGuardian(risk.Limits{
		MaxDailyTrades: cfg.MaxDailyTradesPerUser,
		MaxTradeAmount: cfg.MaxTradeAmount,
	}, trades)
	a.Executor = trading.NewExecutor(trades, a.Ledger, snapshots, log,
		trading.WithGuardian(guardian),
		trading.WithLocation(loc),
		trading.WithMetrics(a.Metrics),
	)

	// Scraping
	sources, err := config.LoadSources(cfg.SourcesFile, cfg.Currency)
	if err != nil {
		return nil, err
	}
	transport := fetch.NewHTTPTransport(fetch.HTTPConfig{
		UserAgent:       cfg.UserAgent,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RatePerSec:      cfg.HostRatePerSec,
		BreakerFailures: cfg.BreakerFailures,
	}, log)
	fetcher := fetch.NewFetcher(transport, cfg.FetchTimeout, cfg.UserAgent, a.Metrics)
	normalizer := normalize.New(normalize.Config{
		OunceThreshold: cfg.OunceThreshold,
		BorderlineBand: cfg.BorderlineBand,
	}, log)
	a.Job = ingest.NewJob(sources, fetcher, normalizer, a.Prices, a.Reader, a.Metrics, log,
		ingest.WithLocker(repository.NewAdvisoryLock(a.Pool, repository.IngestLockKey)))
	log.WithField("sources", len(sources)).Info("ingestion job ready")

	// Market rates
	providers, err := a.providers()
	if err != nil {
		return nil, err
	}
	a.Market = ingest.NewMarketSync(providers, a.Prices, a.Reader, ingest.MarketConfig{
		RefreshAfter: cfg.MarketRefreshAfter,
		Spread:       cfg.MarketSpread,
		Currency:     cfg.Currency,
	}, a.Metrics, log)

	return a, nil
}

// providers lists the market rate providers in preference order: the paid
// API first, then the on-chain oracle.
func (a *App) providers() ([]external.RateProvider, error) {
	cfg := a.Config
	out := []external.RateProvider{external.NewGoldAPIClient(cfg.GoldAPIBaseURL, cfg.GoldAPIKey, cfg.Currency)}
	if cfg.EthereumAPIEndpoint == "" {
		return out, nil
	}

	fx := cfg.OracleFXRate
	if !fx.IsPositive() && cfg.Currency == "USD" {
		fx = decimal.NewFromInt(1)
	}
	if !fx.IsPositive() {
		a.Log.Warn("ORACLE_FX_RATE not set, on-chain oracle disabled")
		return out, nil
	}

	client, err := ethereum.NewClient(cfg.EthereumAPIEndpoint)
	if err != nil {
		return nil, fmt.Errorf("ethereum client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	oracle, err := ethereum.NewOracleReader(client, map[models.Metal]string{
		models.Gold:   cfg.OracleGoldFeed,
		models.Silver: cfg.OracleSilverFeed,
	}, fx)
	if err != nil {
		return nil, err
	}
	return append(out, oracle), nil
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Prices:    a.Reader,
		History:   a.Prices,
		Market:    a.Market,
		Snapshots: a.Snapshots,
		Executor:  a.Executor,
		Trades:    a.Trades,
		Ledger:    a.Ledger,
		Ingest:    a.Job,
		Checks:    a.Checks,
		Metrics:   a.Metrics,
		Currency:  a.Config.Currency,
		Log:       a.Log,
	}, a.Config.APIPort, a.Config.APIKey, a.Config.CORSAllowOrigin)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
