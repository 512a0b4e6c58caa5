package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/bullion-backend/internal/models"
)

type SnapshotRepo struct {
	pool *pgxpool.Pool
}

var _ SnapshotStore = (*SnapshotRepo)(nil)

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

func (r *SnapshotRepo) CreateSnapshot(ctx context.Context, s *models.PriceSnapshot) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO price_snapshots
		 (id, metal, buy_price_per_gram, sell_price_per_gram, currency,
		  created_at, valid_until, source_price_record_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, string(s.Metal), s.BuyPricePerGram.String(), s.SellPricePerGram.String(),
		s.Currency, s.CreatedAt, s.ValidUntil, s.SourcePriceRecordID,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) GetSnapshot(ctx context.Context, id uuid.UUID) (*models.PriceSnapshot, error) {
	var (
		s         models.PriceSnapshot
		metal     string
		buy, sell string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, metal, buy_price_per_gram::text, sell_price_per_gram::text, currency,
		        created_at, valid_until, source_price_record_id
		 FROM price_snapshots WHERE id = $1`,
		id,
	).Scan(&s.ID, &metal, &buy, &sell, &s.Currency, &s.CreatedAt, &s.ValidUntil, &s.SourcePriceRecordID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	s.Metal = models.Metal(metal)
	if s.BuyPricePerGram, err = parseDecimal(buy, "buy price"); err != nil {
		return nil, err
	}
	if s.SellPricePerGram, err = parseDecimal(sell, "sell price"); err != nil {
		return nil, err
	}
	return &s, nil
}
