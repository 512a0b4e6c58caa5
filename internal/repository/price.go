package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
)

type PriceRepo struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

var _ PriceStore = (*PriceRepo)(nil)

// NewPriceRepo stores prices with trading days computed in loc.
func NewPriceRepo(pool *pgxpool.Pool, loc *time.Location) *PriceRepo {
	return &PriceRepo{pool: pool, loc: loc}
}

const priceColumns = `id, metal, buy_price_per_gram::text, sell_price_per_gram::text,
	opening_per_gram::text, change_per_gram::text, currency, source, observed_at,
	is_derived, trading_day, created_at`

func (r *PriceRepo) Insert(ctx context.Context, p *models.NormalizedPrice) (*models.PriceRecord, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: buy and sell must be positive", ErrInvalidInput)
	}
	observed := p.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	td := TradingDay(observed, r.loc)

	row := r.pool.QueryRow(ctx,
		`INSERT INTO price_history
		 (metal, buy_price_per_gram, sell_price_per_gram, opening_per_gram, change_per_gram,
		  currency, source, observed_at, is_derived, trading_day)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING `+priceColumns,
		string(p.Metal), p.BuyPricePerGram.String(), p.SellPricePerGram.String(),
		optionalText(p.OpeningPerGram), optionalText(p.ChangePerGram),
		p.Currency, p.Source, observed, p.IsDerived, td,
	)
	rec, err := scanPrice(row)
	if err != nil {
		return nil, fmt.Errorf("insert price: %w", err)
	}
	return rec, nil
}

func (r *PriceRepo) Latest(ctx context.Context, metal models.Metal) (*models.PriceRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE metal = $1 ORDER BY observed_at DESC, id DESC LIMIT 1`,
		string(metal),
	)
	p, err := scanPrice(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest price: %w", err)
	}
	return p, nil
}

func (r *PriceRepo) History(ctx context.Context, metal models.Metal, limit int) ([]models.PriceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE metal = $1 ORDER BY observed_at DESC, id DESC LIMIT $2`,
		string(metal), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	defer rows.Close()
	return collectPrices(rows)
}

func (r *PriceRepo) ByDay(ctx context.Context, metal models.Metal, day string) ([]models.PriceRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM price_history
		 WHERE metal = $1 AND trading_day = $2 ORDER BY observed_at ASC, id ASC`,
		string(metal), day,
	)
	if err != nil {
		return nil, fmt.Errorf("prices by day: %w", err)
	}
	defer rows.Close()
	return collectPrices(rows)
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPrice(row scannable) (*models.PriceRecord, error) {
	var (
		p                models.PriceRecord
		metal, buy, sell string
		opening, change  *string
		td               time.Time
	)
	err := row.Scan(&p.ID, &metal, &buy, &sell, &opening, &change,
		&p.Currency, &p.Source, &p.ObservedAt, &p.IsDerived, &td, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Metal = models.Metal(metal)
	if p.BuyPricePerGram, err = decimal.NewFromString(buy); err != nil {
		return nil, fmt.Errorf("parse buy price: %w", err)
	}
	if p.SellPricePerGram, err = decimal.NewFromString(sell); err != nil {
		return nil, fmt.Errorf("parse sell price: %w", err)
	}
	if p.OpeningPerGram, err = parseOptional(opening); err != nil {
		return nil, fmt.Errorf("parse opening: %w", err)
	}
	if p.ChangePerGram, err = parseOptional(change); err != nil {
		return nil, fmt.Errorf("parse change: %w", err)
	}
	p.TradingDay = td.Format(dayLayout)
	return &p, nil
}

func collectPrices(rows rowsIter) ([]models.PriceRecord, error) {
	out := []models.PriceRecord{}
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func optionalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseOptional(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDecimal(s string, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}
