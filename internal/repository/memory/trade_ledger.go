package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/shopspring/decimal"
)

// TradeLedger keeps trades and balances behind one mutex so a commit is
// atomic the same way a database transaction is.
type TradeLedger struct {
	mu       sync.RWMutex
	trades   []models.Trade
	byKey    map[tradeKey]int
	balances map[balanceKey]models.Balance
	entries  []LedgerEntry
}

type LedgerEntry struct {
	TradeID uuid.UUID
	models.Posting
	CreatedAt time.Time
}

type tradeKey struct{ user, key string }

type balanceKey struct{ user, asset string }

var (
	_ repository.TradeStore = (*TradeLedger)(nil)
	_ repository.Ledger     = (*TradeLedger)(nil)
)

func NewTradeLedger() *TradeLedger {
	return &TradeLedger{
		byKey:    make(map[tradeKey]int),
		balances: make(map[balanceKey]models.Balance),
	}
}

func (l *TradeLedger) GetByKey(_ context.Context, userID, key string) (*models.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byKey[tradeKey{userID, key}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t := l.trades[i]
	return &t, nil
}

func (l *TradeLedger) Commit(_ context.Context, t *models.Trade, postings []models.Posting) (*models.Trade, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.byKey[tradeKey{t.UserID, t.IdempotencyKey}]; ok {
		existing := l.trades[i]
		return &existing, false, nil
	}

	// validate every debit before touching anything
	next := make(map[balanceKey]decimal.Decimal, len(postings))
	for _, p := range postings {
		k := balanceKey{p.UserID, p.Asset}
		cur, seen := next[k]
		if !seen {
			cur = l.balances[k].Amount
		}
		cur = cur.Add(p.Delta)
		if cur.IsNegative() {
			return nil, false, fmt.Errorf("%w: %s", repository.ErrInsufficientFunds, p.Asset)
		}
		next[k] = cur
	}

	stored := l.insertLocked(t)
	now := time.Now()
	for k, amount := range next {
		l.balances[k] = models.Balance{UserID: k.user, Asset: k.asset, Amount: amount, UpdatedAt: now}
	}
	for _, p := range postings {
		l.entries = append(l.entries, LedgerEntry{TradeID: stored.ID, Posting: p, CreatedAt: now})
	}
	return stored, true, nil
}

func (l *TradeLedger) SaveFailed(_ context.Context, t *models.Trade) (*models.Trade, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i, ok := l.byKey[tradeKey{t.UserID, t.IdempotencyKey}]; ok {
		existing := l.trades[i]
		return &existing, false, nil
	}
	return l.insertLocked(t), true, nil
}

func (l *TradeLedger) insertLocked(t *models.Trade) *models.Trade {
	rec := *t
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	l.trades = append(l.trades, rec)
	l.byKey[tradeKey{rec.UserID, rec.IdempotencyKey}] = len(l.trades) - 1
	return &rec
}

func (l *TradeLedger) ListByUser(_ context.Context, userID string, limit int) ([]models.Trade, error) {
	l.mu.RLock()
	out := []models.Trade{}
	for _, t := range l.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *TradeLedger) CountByUserDay(_ context.Context, userID, day string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, t := range l.trades {
		if t.UserID == userID && t.TradingDay == day && t.Status == models.TradeCompleted {
			n++
		}
	}
	return n, nil
}

func (l *TradeLedger) Balance(_ context.Context, userID, asset string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{userID, asset}].Amount, nil
}

func (l *TradeLedger) Balances(_ context.Context, userID string) ([]models.Balance, error) {
	l.mu.RLock()
	out := []models.Balance{}
	for k, b := range l.balances {
		if k.user == userID {
			out = append(out, b)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (l *TradeLedger) Credit(_ context.Context, userID, asset string, amount decimal.Decimal) (*models.Balance, error) {
	if userID == "" || asset == "" || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit needs a user, an asset and a positive amount", repository.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{userID, asset}
	now := time.Now()
	b := models.Balance{UserID: userID, Asset: asset, Amount: l.balances[k].Amount.Add(amount), UpdatedAt: now}
	l.balances[k] = b
	l.entries = append(l.entries, LedgerEntry{
		Posting:   models.Posting{UserID: userID, Asset: asset, Delta: amount},
		CreatedAt: now,
	})
	return &b, nil
}

// Entries returns a copy of the audit trail, which the Postgres ledger
// keeps in ledger_entries. Tests use it to check postings.
func (l *TradeLedger) Entries() []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]LedgerEntry(nil), l.entries...)
}
