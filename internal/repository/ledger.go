package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*LedgerRepo)(nil)

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func (r *LedgerRepo) Balance(ctx context.Context, userID, asset string) (decimal.Decimal, error) {
	var amount string
	err := r.pool.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE user_id = $1 AND asset = $2`,
		userID, asset,
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return parseDecimal(amount, "balance")
}

func (r *LedgerRepo) Balances(ctx context.Context, userID string) ([]models.Balance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, asset, amount::text, updated_at FROM balances
		 WHERE user_id = $1 ORDER BY asset ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	out := []models.Balance{}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) Credit(ctx context.Context, userID, asset string, amount decimal.Decimal) (*models.Balance, error) {
	if userID == "" || asset == "" || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit needs a user, an asset and a positive amount", ErrInvalidInput)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := applyPosting(ctx, tx, nil, models.Posting{UserID: userID, Asset: asset, Delta: amount}); err != nil {
		return nil, err
	}
	b, err := scanBalance(tx.QueryRow(ctx,
		`SELECT user_id, asset, amount::text, updated_at FROM balances WHERE user_id = $1 AND asset = $2`,
		userID, asset,
	))
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	return b, nil
}

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// applyPosting moves one balance by p.Delta and writes the audit entry.
// Debits only succeed when the balance stays non-negative.
func applyPosting(ctx context.Context, tx execQuerier, tradeID *uuid.UUID, p models.Posting) error {
	now := time.Now()
	delta := p.Delta.String()

	if p.Delta.IsNegative() {
		tag, err := tx.Exec(ctx,
			`UPDATE balances SET amount = amount + $3, updated_at = $4
			 WHERE user_id = $1 AND asset = $2 AND amount + $3 >= 0`,
			p.UserID, p.Asset, delta, now,
		)
		if err != nil {
			return fmt.Errorf("debit %s: %w", p.Asset, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, p.Asset)
		}
	} else {
		_, err := tx.Exec(ctx,
			`INSERT INTO balances (user_id, asset, amount, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_id, asset)
			 DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at`,
			p.UserID, p.Asset, delta, now,
		)
		if err != nil {
			return fmt.Errorf("credit %s: %w", p.Asset, err)
		}
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (trade_id, user_id, asset, delta, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		tradeID, p.UserID, p.Asset, delta, now,
	)
	if err != nil {
		return fmt.Errorf("ledger entry: %w", err)
	}
	return nil
}

func scanBalance(row scannable) (*models.Balance, error) {
	var (
		b      models.Balance
		amount string
	)
	if err := row.Scan(&b.UserID, &b.Asset, &amount, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Amount, err = parseDecimal(amount, "balance"); err != nil {
		return nil, err
	}
	return &b, nil
}
