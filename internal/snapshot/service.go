// Package snapshot freezes the current quote of a metal for a short window
// so a trade can execute at exactly the price the user saw.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = 5 * time.Minute

var (
	// ErrPriceUnavailable means no price has ever been recorded for the metal.
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrNotFound         = errors.New("snapshot not found")
)

// PriceSource yields the latest known record for a metal.
type PriceSource interface {
	Latest(ctx context.Context, metal models.Metal) (*models.PriceRecord, bool, error)
}

type Service struct {
	prices  PriceSource
	store   repository.SnapshotStore
	ttl     time.Duration
	metrics *observability.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(prices PriceSource, store repository.SnapshotStore, ttl time.Duration, metrics *observability.Metrics, log logrus.FieldLogger, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		prices:  prices,
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		log:     log.WithField("component", "snapshot"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create copies the latest price of metal into a new snapshot valid for
// the configured TTL.
func (s *Service) Create(ctx context.Context, metal models.Metal) (*models.PriceSnapshot, error) {
	if _, err := models.ParseMetal(string(metal)); err != nil {
		return nil, err
	}

	rec, cached, err := s.prices.Latest(ctx, metal)
	if err != nil {
		return nil, fmt.Errorf("latest %s price: %w", metal, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no %s price recorded", ErrPriceUnavailable, metal)
	}

	now := s.now()
	snap := &models.PriceSnapshot{
		ID:                  uuid.New(),
		Metal:               metal,
		BuyPricePerGram:     rec.BuyPricePerGram,
		SellPricePerGram:    rec.SellPricePerGram,
		Currency:            rec.Currency,
		CreatedAt:           now,
		ValidUntil:          now.Add(s.ttl),
		SourcePriceRecordID: rec.ID,
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}

	s.metrics.ObserveSnapshot(string(metal))
	s.log.WithFields(logrus.Fields{
		"snapshot": snap.ID,
		"metal":    metal,
		"record":   rec.ID,
		"cached":   cached,
	}).Debug("snapshot created")
	return snap, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PriceSnapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return snap, nil
}
