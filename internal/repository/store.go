package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
)

// PriceStore is the append-only history of normalized prices.
type PriceStore interface {
	Insert(ctx context.Context, p *models.NormalizedPrice) (*models.PriceRecord, error)
	// Latest returns nil, nil when nothing has been recorded for metal.
	Latest(ctx context.Context, metal models.Metal) (*models.PriceRecord, error)
	// History returns up to limit records, most recent first.
	History(ctx context.Context, metal models.Metal, limit int) ([]models.PriceRecord, error)
	// ByDay returns every record of a trading day in observation order.
	ByDay(ctx context.Context, metal models.Metal, day string) ([]models.PriceRecord, error)
}

type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, s *models.PriceSnapshot) error
	// GetSnapshot returns ErrNotFound for an unknown id.
	GetSnapshot(ctx context.Context, id uuid.UUID) (*models.PriceSnapshot, error)
}

// TradeStore persists trades. (UserID, IdempotencyKey) is unique: a second
// insert with the same pair never creates a row, it yields the first one.
type TradeStore interface {
	// GetByKey returns ErrNotFound when no trade carries the key.
	GetByKey(ctx context.Context, userID, key string) (*models.Trade, error)

	// Commit inserts a completed trade and applies its postings atomically.
	// created is false when a trade with the same key already existed, in
	// which case that trade is returned and no posting is applied. A posting
	// that would make a balance negative aborts with ErrInsufficientFunds.
	Commit(ctx context.Context, t *models.Trade, postings []models.Posting) (stored *models.Trade, created bool, err error)

	// SaveFailed records a failed trade with the same key semantics as Commit.
	SaveFailed(ctx context.Context, t *models.Trade) (stored *models.Trade, created bool, err error)

	ListByUser(ctx context.Context, userID string, limit int) ([]models.Trade, error)
	// CountByUserDay counts the user's completed trades on a trading day.
	CountByUserDay(ctx context.Context, userID, day string) (int, error)
}

type Ledger interface {
	// Balance returns zero for an asset the user never held.
	Balance(ctx context.Context, userID, asset string) (decimal.Decimal, error)
	Balances(ctx context.Context, userID string) ([]models.Balance, error)
	// Credit adds a positive amount outside of any trade, e.g. a deposit.
	Credit(ctx context.Context, userID, asset string, amount decimal.Decimal) (*models.Balance, error)
}
