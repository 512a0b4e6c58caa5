package clickhouse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_history (
	id                  UInt64,
	metal               LowCardinality(String),
	buy_price_per_gram  Decimal(20, 6),
	sell_price_per_gram Decimal(20, 6),
	opening_per_gram    Nullable(Decimal(20, 6)),
	change_per_gram     Nullable(Decimal(20, 6)),
	currency            LowCardinality(String),
	source              String,
	observed_at         DateTime64(6, 'UTC'),
	is_derived          Bool,
	trading_day         Date,
	created_at          DateTime64(6, 'UTC')
) ENGINE = MergeTree
ORDER BY (metal, observed_at, id)`

const priceColumns = `id, metal, buy_price_per_gram, sell_price_per_gram, opening_per_gram,
	change_per_gram, currency, source, observed_at, is_derived, trading_day, created_at`

// PriceStore implements repository.PriceStore on ClickHouse. Record ids are
// derived from the insert time since MergeTree has no sequences.
type PriceStore struct {
	conn   *Conn
	loc    *time.Location
	lastID atomic.Uint64
}

var _ repository.PriceStore = (*PriceStore)(nil)

func NewPriceStore(conn *Conn, loc *time.Location) *PriceStore {
	return &PriceStore{conn: conn, loc: loc}
}

func (s *PriceStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create price_history: %w", err)
	}
	return nil
}

func (s *PriceStore) nextID(now time.Time) uint64 {
	for {
		last := s.lastID.Load()
		id := uint64(now.UnixMicro())
		if id <= last {
			id = last + 1
		}
		if s.lastID.CompareAndSwap(last, id) {
			return id
		}
	}
}

func (s *PriceStore) Insert(ctx context.Context, p *models.NormalizedPrice) (*models.PriceRecord, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: buy and sell must be positive", repository.ErrInvalidInput)
	}
	now := time.Now().UTC()
	rec := models.PriceRecord{
		ID:              int64(s.nextID(now)),
		NormalizedPrice: *p,
		CreatedAt:       now,
	}
	if rec.ObservedAt.IsZero() {
		rec.ObservedAt = now
	}
	rec.TradingDay = repository.TradingDay(rec.ObservedAt, s.loc)
	day, err := repository.ParseDay(rec.TradingDay)
	if err != nil {
		return nil, err
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO price_history (`+priceColumns+`)`)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}
	err = batch.Append(
		uint64(rec.ID), string(rec.Metal), rec.BuyPricePerGram, rec.SellPricePerGram,
		rec.OpeningPerGram, rec.ChangePerGram, rec.Currency, rec.Source,
		rec.ObservedAt.UTC(), rec.IsDerived, day, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append to batch: %w", err)
	}
	if err := batch.Send(); err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}
	return &rec, nil
}

func (s *PriceStore) Latest(ctx context.Context, metal models.Metal) (*models.PriceRecord, error) {
	out, err := s.History(ctx, metal, 1)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (s *PriceStore) History(ctx context.Context, metal models.Metal, limit int) ([]models.PriceRecord, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE metal = ? ORDER BY observed_at DESC, id DESC LIMIT ?`,
		string(metal), uint64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanPrices(rows)
}

func (s *PriceStore) ByDay(ctx context.Context, metal models.Metal, day string) ([]models.PriceRecord, error) {
	d, err := repository.ParseDay(day)
	if err != nil {
		return nil, fmt.Errorf("%w: day %q", repository.ErrInvalidInput, day)
	}
	rows, err := s.conn.Query(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE metal = ? AND trading_day = ? ORDER BY observed_at ASC, id ASC`,
		string(metal), d,
	)
	if err != nil {
		return nil, fmt.Errorf("query by day: %w", err)
	}
	defer rows.Close()
	return scanPrices(rows)
}

type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPrices(rows chRows) ([]models.PriceRecord, error) {
	out := []models.PriceRecord{}
	for rows.Next() {
		var (
			p               models.PriceRecord
			id              uint64
			metal           string
			opening, change *decimal.Decimal
			day             time.Time
		)
		err := rows.Scan(&id, &metal, &p.BuyPricePerGram, &p.SellPricePerGram, &opening, &change,
			&p.Currency, &p.Source, &p.ObservedAt, &p.IsDerived, &day, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		p.ID = int64(id)
		p.Metal = models.Metal(metal)
		p.OpeningPerGram = opening
		p.ChangePerGram = change
		p.TradingDay = day.Format("2006-01-02")
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}
	return out, nil
}
