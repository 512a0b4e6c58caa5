package trading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository/memory"
	"github.com/kjannette/bullion-backend/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	exec      *Executor
	ledger    *memory.TradeLedger
	snapshots *memory.SnapshotStore
	now       time.Time
	mu        sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &fixture{
		ledger:    memory.NewTradeLedger(),
		snapshots: memory.NewSnapshotStore(),
		now:       t0,
	}
	opts = append([]Option{WithClock(f.clock)}, opts...)
	f.exec = NewExecutor(f.ledger, f.ledger, f.snapshots, log, opts...)
	return f
}

func (f *fixture) snapshot(t *testing.T, metal models.Metal) *models.PriceSnapshot {
	t.Helper()
	s := &models.PriceSnapshot{
		ID:               uuid.New(),
		Metal:            metal,
		BuyPricePerGram:  decimal.RequireFromString("6984.82"),
		SellPricePerGram: decimal.RequireFromString("6845.12"),
		Currency:         "EGP",
		CreatedAt:        t0,
		ValidUntil:       t0.Add(5 * time.Minute),
	}
	require.NoError(t, f.snapshots.CreateSnapshot(context.Background(), s))
	return s
}

func (f *fixture) credit(t *testing.T, asset, amount string) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), "u1", asset, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

func (f *fixture) balance(asset string) string {
	b, _ := f.ledger.Balance(context.Background(), "u1", asset)
	return b.String()
}

func buyReq(snap *models.PriceSnapshot, amount, key string) Request {
	return Request{
		UserID:         "u1",
		Direction:      models.Buy,
		Metal:          snap.Metal,
		SnapshotID:     snap.ID,
		Amount:         decimal.RequireFromString(amount),
		IdempotencyKey: key,
	}
}

func TestExecute_Buy(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	res, err := f.exec.Execute(context.Background(), buyReq(snap, "1000", "k1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.TradeCompleted, res.Trade.Status)
	assert.Equal(t, "0.143168", res.Trade.AmountGrams.String())
	assert.Equal(t, "6984.82", res.Trade.PricePerGram.String())
	assert.Equal(t, "2026-03-02", res.Trade.TradingDay)

	assert.Equal(t, "4000", f.balance("EGP"))
	assert.Equal(t, "0.143168", f.balance("gold"))
}

func TestExecute_Sell(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "gold", "1")

	res, err := f.exec.Execute(context.Background(), Request{
		UserID:         "u1",
		Direction:      models.Sell,
		Metal:          models.Gold,
		SnapshotID:     snap.ID,
		Amount:         decimal.RequireFromString("0.5"),
		IdempotencyKey: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, "3422.56", res.Trade.AmountCurrency.String())
	assert.Equal(t, "6845.12", res.Trade.PricePerGram.String())
	assert.Equal(t, "0.5", f.balance("gold"))
	assert.Equal(t, "3422.56", f.balance("EGP"))
}

func TestExecute_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	first, err := f.exec.Execute(context.Background(), buyReq(snap, "1000", "k1"))
	require.NoError(t, err)

	// the replay does not look at the request beyond its key
	second, err := f.exec.Execute(context.Background(), buyReq(snap, "2000", "k1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Trade.ID, second.Trade.ID)
	assert.Equal(t, "1000", second.Trade.AmountCurrency.String())
	assert.Equal(t, "4000", f.balance("EGP"))
}

func TestExecute_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	const n = 16
	var (
		wg  sync.WaitGroup
		ids = make([]uuid.UUID, n)
		err = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, e := f.exec.Execute(context.Background(), buyReq(snap, "1000", "same"))
			err[i] = e
			if res != nil {
				ids[i] = res.Trade.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, err[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, "4000", f.balance("EGP"))
	assert.Equal(t, "0.143168", f.balance("gold"))

	trades, _ := f.ledger.ListByUser(context.Background(), "u1", 100)
	assert.Len(t, trades, 1)
}

func TestExecute_SnapshotExpiry(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	f.setNow(t0.Add(4*time.Minute + 59*time.Second))
	_, err := f.exec.Execute(context.Background(), buyReq(snap, "100", "in-time"))
	require.NoError(t, err)

	f.setNow(t0.Add(5*time.Minute + time.Second))
	res, err := f.exec.Execute(context.Background(), buyReq(snap, "100", "late"))
	assert.ErrorIs(t, err, ErrSnapshotExpired)
	require.NotNil(t, res)
	assert.Equal(t, models.TradeFailed, res.Trade.Status)
	assert.Contains(t, res.Trade.FailureReason, "snapshot_expired")
	assert.Equal(t, "4900", f.balance("EGP"))
}

func TestExecute_FailedTradeReplaysSameError(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)

	_, err := f.exec.Execute(context.Background(), buyReq(snap, "1000", "k1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// funding the account afterwards does not change the recorded outcome
	f.credit(t, "EGP", "5000")
	res, err := f.exec.Execute(context.Background(), buyReq(snap, "1000", "k1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	require.NotNil(t, res)
	assert.True(t, res.Replayed)
	assert.Equal(t, models.TradeFailed, res.Trade.Status)
	assert.Equal(t, "5000", f.balance("EGP"))
}

func TestExecute_SnapshotErrors(t *testing.T) {
	f := newFixture(t)
	gold := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	req := buyReq(gold, "100", "unknown")
	req.SnapshotID = uuid.New()
	_, err := f.exec.Execute(context.Background(), req)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	req = buyReq(gold, "100", "mismatch")
	req.Metal = models.Silver
	_, err = f.exec.Execute(context.Background(), req)
	assert.ErrorIs(t, err, ErrSnapshotMetalMismatch)

	assert.Equal(t, "5000", f.balance("EGP"))
}

func TestExecute_SellInsufficientMetal(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Silver)
	f.credit(t, "silver", "2")

	res, err := f.exec.Execute(context.Background(), Request{
		UserID:         "u1",
		Direction:      models.Sell,
		Metal:          models.Silver,
		SnapshotID:     snap.ID,
		Amount:         decimal.RequireFromString("2.5"),
		IdempotencyKey: "s1",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, res.Trade.FailureReason, "insufficient_balance")
	assert.Equal(t, "2", f.balance("silver"))
}

func TestExecute_LimitExceeded(t *testing.T) {
	g := risk.NewGuardian(risk.Limits{MaxTradeAmount: decimal.NewFromInt(500)}, nil)
	f := newFixture(t, WithGuardian(g))
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	res, err := f.exec.Execute(context.Background(), buyReq(snap, "1000", "big"))
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, models.TradeFailed, res.Trade.Status)
}

func TestExecute_DailyLimit(t *testing.T) {
	f := newFixture(t)
	f.exec.guardian = risk.NewGuardian(risk.Limits{MaxDailyTrades: 1}, f.ledger)
	snap := f.snapshot(t, models.Gold)
	f.credit(t, "EGP", "5000")

	_, err := f.exec.Execute(context.Background(), buyReq(snap, "100", "a"))
	require.NoError(t, err)
	_, err = f.exec.Execute(context.Background(), buyReq(snap, "100", "b"))
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestExecute_InvalidRequestsAreNotPersisted(t *testing.T) {
	f := newFixture(t)
	snap := f.snapshot(t, models.Gold)

	cases := map[string]func(r *Request){
		"zero amount":     func(r *Request) { r.Amount = decimal.Zero },
		"negative amount": func(r *Request) { r.Amount = decimal.NewFromInt(-5) },
		"too precise":     func(r *Request) { r.Amount = decimal.RequireFromString("10.001") },
		"empty key":       func(r *Request) { r.IdempotencyKey = "  " },
		"no user":         func(r *Request) { r.UserID = "" },
		"bad metal":       func(r *Request) { r.Metal = "platinum" },
		"bad direction":   func(r *Request) { r.Direction = "hold" },
		"no snapshot":     func(r *Request) { r.SnapshotID = uuid.Nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := buyReq(snap, "100", "key-"+name)
			mutate(&req)
			_, err := f.exec.Execute(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	trades, _ := f.ledger.ListByUser(context.Background(), "u1", 100)
	assert.Empty(t, trades)
}

func TestFailureError_RoundTrip(t *testing.T) {
	assert.ErrorIs(t, FailureError("snapshot_expired: valid until x"), ErrSnapshotExpired)
	assert.ErrorIs(t, FailureError("limit_exceeded"), ErrLimitExceeded)
	assert.EqualError(t, FailureError("something else"), "something else")
}
