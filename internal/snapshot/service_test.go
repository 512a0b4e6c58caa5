package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	rec *models.PriceRecord
	err error
}

func (s stubPrices) Latest(_ context.Context, _ models.Metal) (*models.PriceRecord, bool, error) {
	return s.rec, false, s.err
}

func goldRecord() *models.PriceRecord {
	return &models.PriceRecord{
		ID: 7,
		NormalizedPrice: models.NormalizedPrice{
			Metal:            models.Gold,
			BuyPricePerGram:  decimal.RequireFromString("6984.82"),
			SellPricePerGram: decimal.RequireFromString("6845.12"),
			Currency:         "EGP",
			Source:           "isagha-gold",
		},
	}
}

func TestCreate_CopiesPriceAndSetsTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := memory.NewSnapshotStore()
	svc := NewService(stubPrices{rec: goldRecord()}, store, 0, nil, nil, WithClock(func() time.Time { return now }))

	snap, err := svc.Create(context.Background(), models.Gold)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, snap.ID)
	assert.Equal(t, "6984.82", snap.BuyPricePerGram.String())
	assert.Equal(t, "6845.12", snap.SellPricePerGram.String())
	assert.Equal(t, "EGP", snap.Currency)
	assert.Equal(t, int64(7), snap.SourcePriceRecordID)
	assert.Equal(t, now.Add(5*time.Minute), snap.ValidUntil)

	got, err := svc.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ValidUntil, got.ValidUntil)
}

func TestCreate_NoPrice(t *testing.T) {
	svc := NewService(stubPrices{}, memory.NewSnapshotStore(), time.Minute, nil, nil)
	_, err := svc.Create(context.Background(), models.Silver)
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestCreate_PriceReadError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(stubPrices{err: boom}, memory.NewSnapshotStore(), time.Minute, nil, nil)
	_, err := svc.Create(context.Background(), models.Gold)
	assert.ErrorIs(t, err, boom)
}

func TestCreate_UnknownMetal(t *testing.T) {
	svc := NewService(stubPrices{rec: goldRecord()}, memory.NewSnapshotStore(), time.Minute, nil, nil)
	_, err := svc.Create(context.Background(), models.Metal("platinum"))
	assert.ErrorIs(t, err, models.ErrUnknownMetal)
}

func TestGet_Unknown(t *testing.T) {
	svc := NewService(stubPrices{}, memory.NewSnapshotStore(), time.Minute, nil, nil)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiry_Boundaries(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc := NewService(stubPrices{rec: goldRecord()}, memory.NewSnapshotStore(), 5*time.Minute, nil, nil,
		WithClock(func() time.Time { return now }))
	snap, err := svc.Create(context.Background(), models.Gold)
	require.NoError(t, err)

	assert.False(t, snap.Expired(now.Add(4*time.Minute+59*time.Second)))
	assert.False(t, snap.Expired(now.Add(5*time.Minute)))
	assert.True(t, snap.Expired(now.Add(5*time.Minute+time.Second)))
}
