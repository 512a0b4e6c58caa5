// Package memory holds in-process implementations of the repository
// interfaces. They back unit tests and single-instance development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository"
)

type PriceStore struct {
	mu     sync.RWMutex
	loc    *time.Location
	nextID int64
	data   map[models.Metal][]models.PriceRecord
	now    func() time.Time
}

var _ repository.PriceStore = (*PriceStore)(nil)

func NewPriceStore(loc *time.Location) *PriceStore {
	return &PriceStore{
		loc:  loc,
		data: make(map[models.Metal][]models.PriceRecord),
		now:  time.Now,
	}
}

func (s *PriceStore) Insert(_ context.Context, p *models.NormalizedPrice) (*models.PriceRecord, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: buy and sell must be positive", repository.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec := models.PriceRecord{
		ID:              s.nextID,
		NormalizedPrice: *p,
		CreatedAt:       s.now(),
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = rec.CreatedAt
	}
	rec.TradingDay = repository.TradingDay(rec.ObservedAt, s.loc)
	s.data[p.Metal] = append(s.data[p.Metal], rec)
	return &rec, nil
}

func (s *PriceStore) Latest(_ context.Context, metal models.Metal) (*models.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.PriceRecord
	for i := range s.data[metal] {
		r := &s.data[metal][i]
		if best == nil || newer(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (s *PriceStore) History(_ context.Context, metal models.Metal, limit int) ([]models.PriceRecord, error) {
	s.mu.RLock()
	out := append([]models.PriceRecord(nil), s.data[metal]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return newer(&out[i], &out[j]) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []models.PriceRecord{}
	}
	return out, nil
}

func (s *PriceStore) ByDay(_ context.Context, metal models.Metal, day string) ([]models.PriceRecord, error) {
	s.mu.RLock()
	out := []models.PriceRecord{}
	for _, r := range s.data[metal] {
		if r.TradingDay == day {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return newer(&out[j], &out[i]) })
	return out, nil
}

func newer(a, b *models.PriceRecord) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.ID > b.ID
}
