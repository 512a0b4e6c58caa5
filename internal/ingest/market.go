package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/bullion-backend/internal/external"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/normalize"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const DefaultMarketRefreshAfter = time.Hour

// ErrPriceUnavailable means no provider answered and nothing is stored.
var ErrPriceUnavailable = errors.New("market price unavailable")

type MarketConfig struct {
	RefreshAfter time.Duration
	Spread       decimal.Decimal
	Currency     string
}

// MarketQuote is the answer of the market-fetch path. IsCached is set when
// the providers could not be used and an older stored record was returned.
type MarketQuote struct {
	Price    *models.PriceRecord `json:"price"`
	IsCached bool                `json:"isCached"`
}

// MarketSync keeps a derived price per metal from paid rate providers,
// calling them at most once per RefreshAfter.
type MarketSync struct {
	providers []external.RateProvider
	store     repository.PriceStore
	cache     Invalidator
	cfg       MarketConfig
	metrics   *observability.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
	group     singleflight.Group
}

func NewMarketSync(providers []external.RateProvider, store repository.PriceStore, cache Invalidator, cfg MarketConfig, metrics *observability.Metrics, log logrus.FieldLogger) *MarketSync {
	if cfg.RefreshAfter <= 0 {
		cfg.RefreshAfter = DefaultMarketRefreshAfter
	}
	if !cfg.Spread.IsPositive() {
		cfg.Spread = normalize.DefaultSpread
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MarketSync{
		providers: providers,
		store:     store,
		cache:     cache,
		cfg:       cfg,
		metrics:   metrics,
		log:       log.WithField("component", "market"),
		now:       time.Now,
	}
}

// Refresh returns the market price of metal, fetching a new rate only when
// the latest stored record is older than RefreshAfter.
func (m *MarketSync) Refresh(ctx context.Context, metal models.Metal) (*MarketQuote, error) {
	v, err, _ := m.group.Do(string(metal), func() (interface{}, error) {
		return m.refresh(ctx, metal)
	})
	if err != nil {
		return nil, err
	}
	return v.(*MarketQuote), nil
}

func (m *MarketSync) refresh(ctx context.Context, metal models.Metal) (*MarketQuote, error) {
	latest, err := m.store.Latest(ctx, metal)
	if err != nil {
		return nil, fmt.Errorf("read latest %s: %w", metal, err)
	}
	if latest != nil && m.now().Sub(latest.ObservedAt) < m.cfg.RefreshAfter {
		return &MarketQuote{Price: latest}, nil
	}

	rec, err := m.fetch(ctx, metal)
	if err == nil {
		return &MarketQuote{Price: rec}, nil
	}

	if latest == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, metal, err)
	}
	m.log.WithError(err).WithFields(logrus.Fields{
		"metal":       metal,
		"record":      latest.ID,
		"observed_at": latest.ObservedAt,
	}).Warn("market providers unavailable, serving stored price")
	return &MarketQuote{Price: latest, IsCached: true}, nil
}

// fetch asks each configured provider in order and stores the first rate.
func (m *MarketSync) fetch(ctx context.Context, metal models.Metal) (*models.PriceRecord, error) {
	var errs []error
	for _, p := range m.providers {
		if !p.Configured() {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), external.ErrNotConfigured))
			continue
		}
		rate, err := p.RatePerGram(ctx, metal)
		if err != nil {
			m.metrics.ObserveMetal(string(metal), p.Name(), false)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		price, err := normalize.DeriveFromRate(metal, rate, m.cfg.Spread, normalize.Meta{
			Source:     p.Name(),
			Currency:   m.cfg.Currency,
			ObservedAt: m.now(),
		})
		if err != nil {
			m.metrics.ObserveMetal(string(metal), p.Name(), false)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		rec, err := m.store.Insert(ctx, price)
		if err != nil {
			return nil, fmt.Errorf("store %s market price: %w", metal, err)
		}
		m.metrics.ObserveMetal(string(metal), p.Name(), true)
		if m.cache != nil {
			if err := m.cache.Invalidate(ctx, metal); err != nil {
				m.log.WithError(err).WithField("metal", metal).Warn("cache invalidation failed")
			}
		}
		m.log.WithFields(logrus.Fields{
			"metal":    metal,
			"provider": p.Name(),
			"rate":     rate.String(),
			"record":   rec.ID,
		}).Info("market price stored")
		return rec, nil
	}
	if len(errs) == 0 {
		return nil, external.ErrNotConfigured
	}
	return nil, errors.Join(errs...)
}
