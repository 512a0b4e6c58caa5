package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/bullion-backend/internal/external"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var marketNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type stubProvider struct {
	name       string
	configured bool
	rate       decimal.Decimal
	err        error
	calls      atomic.Int32
}

func (p *stubProvider) Name() string     { return p.name }
func (p *stubProvider) Configured() bool { return p.configured }

func (p *stubProvider) RatePerGram(_ context.Context, _ models.Metal) (decimal.Decimal, error) {
	p.calls.Add(1)
	return p.rate, p.err
}

type invalidations struct{ metals []models.Metal }

func (i *invalidations) Invalidate(_ context.Context, metal models.Metal) error {
	i.metals = append(i.metals, metal)
	return nil
}

func newMarket(t *testing.T, providers ...external.RateProvider) (*MarketSync, *memory.PriceStore, *invalidations) {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := memory.NewPriceStore(time.UTC)
	inv := &invalidations{}
	m := NewMarketSync(providers, store, inv, MarketConfig{Currency: "EGP"}, nil, log)
	m.now = func() time.Time { return marketNow }
	return m, store, inv
}

func seed(t *testing.T, store *memory.PriceStore, age time.Duration) *models.PriceRecord {
	t.Helper()
	rec, err := store.Insert(context.Background(), &models.NormalizedPrice{
		Metal:            models.Gold,
		BuyPricePerGram:  decimal.RequireFromString("4200"),
		SellPricePerGram: decimal.RequireFromString("4116"),
		Currency:         "EGP",
		Source:           "goldapi",
		ObservedAt:       marketNow.Add(-age),
		IsDerived:        true,
	})
	require.NoError(t, err)
	return rec
}

func TestMarket_FreshRecordSkipsProviders(t *testing.T) {
	p := &stubProvider{name: "goldapi", configured: true, rate: decimal.NewFromInt(4300)}
	m, store, _ := newMarket(t, p)
	prev := seed(t, store, 10*time.Minute)

	q, err := m.Refresh(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.Equal(t, prev.ID, q.Price.ID)
	assert.False(t, q.IsCached)
	assert.Zero(t, p.calls.Load())
}

func TestMarket_StaleRecordIsRefreshed(t *testing.T) {
	p := &stubProvider{name: "chainlink", configured: true, rate: decimal.RequireFromString("4260.645908")}
	m, store, inv := newMarket(t, p)
	seed(t, store, 2*time.Hour)

	q, err := m.Refresh(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.False(t, q.IsCached)
	assert.Equal(t, int32(1), p.calls.Load())

	assert.Equal(t, "chainlink", q.Price.Source)
	assert.True(t, q.Price.IsDerived)
	assert.Equal(t, "4260.645908", q.Price.BuyPricePerGram.String())
	assert.True(t, decimal.RequireFromString("4175.43299").Equal(q.Price.SellPricePerGram))
	assert.Equal(t, marketNow, q.Price.ObservedAt)
	assert.Equal(t, []models.Metal{models.Gold}, inv.metals)

	latest, err := store.Latest(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.Equal(t, q.Price.ID, latest.ID)
}

func TestMarket_SkipsUnconfiguredProvider(t *testing.T) {
	missing := &stubProvider{name: "goldapi"}
	oracle := &stubProvider{name: "chainlink", configured: true, rate: decimal.NewFromInt(4250)}
	m, _, _ := newMarket(t, missing, oracle)

	q, err := m.Refresh(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.Equal(t, "chainlink", q.Price.Source)
	assert.Zero(t, missing.calls.Load())
}

func TestMarket_ProviderFailureFallsBackToStored(t *testing.T) {
	p := &stubProvider{name: "goldapi", configured: true, err: errors.New("quota exceeded")}
	m, store, inv := newMarket(t, p)
	prev := seed(t, store, 3*time.Hour)

	q, err := m.Refresh(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.True(t, q.IsCached)
	assert.Equal(t, prev.ID, q.Price.ID)
	assert.Empty(t, inv.metals)
}

func TestMarket_UnconfiguredFallsBackToStored(t *testing.T) {
	m, store, _ := newMarket(t)
	prev := seed(t, store, 3*time.Hour)

	q, err := m.Refresh(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.True(t, q.IsCached)
	assert.Equal(t, prev.ID, q.Price.ID)
}

func TestMarket_NothingStoredNothingConfigured(t *testing.T) {
	m, _, _ := newMarket(t, &stubProvider{name: "goldapi"})

	_, err := m.Refresh(context.Background(), models.Silver)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestMarket_NonPositiveRateIsRejected(t *testing.T) {
	p := &stubProvider{name: "goldapi", configured: true, rate: decimal.Zero}
	m, _, _ := newMarket(t, p)

	_, err := m.Refresh(context.Background(), models.Gold)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}
