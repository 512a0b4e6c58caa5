// Package pricecache serves the latest price per metal from a cache in
// front of the price store. Reads never fail because data is old: a stale
// entry is served and refreshed, and a store outage falls back to whatever
// was cached last.
package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/bullion-backend/internal/cache"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFresh        = 2 * time.Minute
	DefaultRefreshAfter = 5 * time.Minute
	DefaultEntryTTL     = 24 * time.Hour

	refreshTimeout = 5 * time.Second
	keyPrefix      = "price:latest:"
)

// Read classes reported to metrics.
const (
	ClassFresh    = "fresh"
	ClassStale    = "stale"
	ClassMiss     = "miss"
	ClassFallback = "fallback"
)

type Config struct {
	// Fresh entries are served without touching the store.
	Fresh time.Duration
	// Entries older than Fresh but younger than RefreshAfter are served and
	// refreshed in the background. Older entries are re-read synchronously.
	RefreshAfter time.Duration
	// EntryTTL bounds how long an entry can serve as a fallback.
	EntryTTL time.Duration
}

// Latest is the current price of every metal. A nil metal has never been
// recorded.
type Latest struct {
	Gold     *models.PriceRecord `json:"gold"`
	Silver   *models.PriceRecord `json:"silver"`
	IsCached bool                `json:"isCached"`
}

func (l *Latest) Get(metal models.Metal) *models.PriceRecord {
	switch metal {
	case models.Gold:
		return l.Gold
	case models.Silver:
		return l.Silver
	}
	return nil
}

type entry struct {
	Record    *models.PriceRecord `json:"record"`
	FetchedAt time.Time           `json:"fetchedAt"`
}

type Reader struct {
	store   repository.PriceStore
	cache   cache.Store
	cfg     Config
	metrics *observability.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
	group   singleflight.Group
}

func NewReader(store repository.PriceStore, c cache.Store, cfg Config, metrics *observability.Metrics, log logrus.FieldLogger) *Reader {
	if cfg.Fresh <= 0 {
		cfg.Fresh = DefaultFresh
	}
	if cfg.RefreshAfter < cfg.Fresh {
		cfg.RefreshAfter = DefaultRefreshAfter
		if cfg.RefreshAfter < cfg.Fresh {
			cfg.RefreshAfter = cfg.Fresh
		}
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = DefaultEntryTTL
	}
	if c == nil {
		c = cache.NewMemoryStore()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reader{
		store:   store,
		cache:   c,
		cfg:     cfg,
		metrics: metrics,
		log:     log.WithField("component", "pricecache"),
		now:     time.Now,
	}
}

// LatestPrices returns the latest record of every metal. It only fails when
// no metal could be read at all.
func (r *Reader) LatestPrices(ctx context.Context) (*Latest, error) {
	out := &Latest{}
	var firstErr error
	failed := 0

	for _, metal := range models.Metals {
		rec, cached, err := r.Latest(ctx, metal)
		if err != nil {
			r.log.WithError(err).WithField("metal", metal).Warn("latest price unavailable")
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		out.IsCached = out.IsCached || cached
		switch metal {
		case models.Gold:
			out.Gold = rec
		case models.Silver:
			out.Silver = rec
		}
	}

	if failed == len(models.Metals) {
		return nil, firstErr
	}
	if failed > 0 {
		out.IsCached = true
	}
	return out, nil
}

// Latest returns the latest record for metal and whether it should be
// flagged as cached: the observation is older than RefreshAfter, or the
// store could not be reached and an older entry was served instead.
func (r *Reader) Latest(ctx context.Context, metal models.Metal) (*models.PriceRecord, bool, error) {
	e, ok := r.load(ctx, metal)
	if ok {
		age := r.now().Sub(e.FetchedAt)
		switch {
		case age < r.cfg.Fresh:
			r.metrics.ObserveCacheRead(ClassFresh)
			return e.Record, r.stale(e.Record), nil
		case age < r.cfg.RefreshAfter:
			r.metrics.ObserveCacheRead(ClassStale)
			go r.refreshInBackground(metal)
			return e.Record, r.stale(e.Record), nil
		}
	}

	fresh, err := r.refresh(ctx, metal)
	if err != nil {
		if ok {
			r.metrics.ObserveCacheRead(ClassFallback)
			r.log.WithError(err).WithField("metal", metal).Warn("store read failed, serving cached price")
			return e.Record, true, nil
		}
		return nil, false, err
	}
	r.metrics.ObserveCacheRead(ClassMiss)
	return fresh.Record, r.stale(fresh.Record), nil
}

// Invalidate drops the cached entry so the next read goes to the store.
func (r *Reader) Invalidate(ctx context.Context, metal models.Metal) error {
	if err := r.cache.Delete(ctx, key(metal)); err != nil {
		return fmt.Errorf("invalidate %s: %w", metal, err)
	}
	return nil
}

func (r *Reader) stale(rec *models.PriceRecord) bool {
	return rec != nil && r.now().Sub(rec.ObservedAt) > r.cfg.RefreshAfter
}

func (r *Reader) load(ctx context.Context, metal models.Metal) (entry, bool) {
	raw, found, err := r.cache.Get(ctx, key(metal))
	if err != nil {
		r.log.WithError(err).WithField("metal", metal).Warn("cache get failed")
		return entry{}, false
	}
	if !found {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.log.WithError(err).WithField("metal", metal).Warn("dropping undecodable cache entry")
		return entry{}, false
	}
	return e, true
}

func (r *Reader) refreshInBackground(metal models.Metal) {
	if _, err := r.refresh(context.Background(), metal); err != nil {
		r.log.WithError(err).WithField("metal", metal).Warn("background refresh failed")
	}
}

// refresh re-reads the store once per metal no matter how many callers ask
// at the same time. The shared read is detached from any single caller's
// cancellation.
func (r *Reader) refresh(ctx context.Context, metal models.Metal) (entry, error) {
	ch := r.group.DoChan(string(metal), func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		rec, err := r.store.Latest(rctx, metal)
		if err != nil {
			return entry{}, fmt.Errorf("read latest %s: %w", metal, err)
		}
		e := entry{Record: rec, FetchedAt: r.now()}
		raw, err := json.Marshal(e)
		if err != nil {
			return entry{}, fmt.Errorf("encode cache entry: %w", err)
		}
		if err := r.cache.Set(rctx, key(metal), raw, r.cfg.EntryTTL); err != nil {
			r.log.WithError(err).WithField("metal", metal).Warn("cache set failed")
		}
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return entry{}, res.Err
		}
		return res.Val.(entry), nil
	case <-ctx.Done():
		return entry{}, errors.Join(fmt.Errorf("read latest %s", metal), ctx.Err())
	}
}

func key(metal models.Metal) string {
	return keyPrefix + string(metal)
}
