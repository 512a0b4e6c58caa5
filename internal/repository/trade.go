package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/bullion-backend/internal/models"
)

// TradeRepo stores trades and applies their ledger postings. The unique
// constraint on (user_id, idempotency_key) is the only concurrency guard.
type TradeRepo struct {
	pool *pgxpool.Pool
}

var _ TradeStore = (*TradeRepo)(nil)

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

const tradeColumns = `id, user_id, metal, direction, amount_currency::text, amount_grams::text,
	price_per_gram::text, currency, snapshot_id, idempotency_key, status, failure_reason,
	trading_day, created_at`

func (r *TradeRepo) GetByKey(ctx context.Context, userID, key string) (*models.Trade, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trade by key: %w", err)
	}
	return t, nil
}

func (r *TradeRepo) Commit(ctx context.Context, t *models.Trade, postings []models.Posting) (*models.Trade, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	stored, err := insertTrade(ctx, tx, t)
	if err != nil {
		if isNotFoundError(err) {
			// another request with the same key won
			_ = tx.Rollback(ctx)
			committed = true
			existing, err := r.GetByKey(ctx, t.UserID, t.IdempotencyKey)
			return existing, false, err
		}
		return nil, false, err
	}

	for _, p := range postings {
		if err := applyPosting(ctx, tx, &stored.ID, p); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit trade: %w", err)
	}
	committed = true
	return stored, true, nil
}

func (r *TradeRepo) SaveFailed(ctx context.Context, t *models.Trade) (*models.Trade, bool, error) {
	stored, err := insertTrade(ctx, r.pool, t)
	if err != nil {
		if isNotFoundError(err) {
			existing, err := r.GetByKey(ctx, t.UserID, t.IdempotencyKey)
			return existing, false, err
		}
		return nil, false, err
	}
	return stored, true, nil
}

func (r *TradeRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (r *TradeRepo) CountByUserDay(ctx context.Context, userID, day string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE user_id = $1 AND trading_day = $2 AND status = $3`,
		userID, day, string(models.TradeCompleted),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return count, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertTrade returns pgx.ErrNoRows when the idempotency key is taken.
func insertTrade(ctx context.Context, q queryRower, t *models.Trade) (*models.Trade, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := q.QueryRow(ctx,
		`INSERT INTO trades
		 (id, user_id, metal, direction, amount_currency, amount_grams, price_per_gram,
		  currency, snapshot_id, idempotency_key, status, failure_reason, trading_day, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT ON CONSTRAINT trades_user_idempotency_key DO NOTHING
		 RETURNING `+tradeColumns,
		t.ID, t.UserID, string(t.Metal), string(t.Direction),
		t.AmountCurrency.String(), t.AmountGrams.String(), t.PricePerGram.String(),
		t.Currency, t.SnapshotID, t.IdempotencyKey, string(t.Status), t.FailureReason,
		t.TradingDay, created,
	)
	stored, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	return stored, nil
}

// --- scan helpers ---

func scanTrade(row scannable) (*models.Trade, error) {
	var (
		t                            models.Trade
		metal, direction, status     string
		amountCurrency, grams, price string
		td                           time.Time
	)
	err := row.Scan(&t.ID, &t.UserID, &metal, &direction, &amountCurrency, &grams, &price,
		&t.Currency, &t.SnapshotID, &t.IdempotencyKey, &status, &t.FailureReason, &td, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Metal = models.Metal(metal)
	t.Direction = models.Direction(direction)
	t.Status = models.TradeStatus(status)
	if t.AmountCurrency, err = parseDecimal(amountCurrency, "amount"); err != nil {
		return nil, err
	}
	if t.AmountGrams, err = parseDecimal(grams, "grams"); err != nil {
		return nil, err
	}
	if t.PricePerGram, err = parseDecimal(price, "price"); err != nil {
		return nil, err
	}
	t.TradingDay = td.Format(dayLayout)
	return &t, nil
}

func collectTrades(rows rowsIter) ([]models.Trade, error) {
	out := []models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
