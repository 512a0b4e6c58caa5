// Package trading executes buy and sell orders against a price snapshot.
//
// A trade moves pending -> completed or pending -> failed. Every attempt
// that gets past request validation is recorded under the caller's
// idempotency key, so a retry with the same key returns the first outcome
// unchanged, including a failure.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/kjannette/bullion-backend/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	gramsScale    = 6
	currencyScale = 2
	maxKeyLength  = 128
)

var (
	ErrInvalidRequest        = errors.New("invalid trade request")
	ErrSnapshotNotFound      = errors.New("snapshot not found")
	ErrSnapshotExpired       = errors.New("snapshot expired")
	ErrSnapshotMetalMismatch = errors.New("snapshot metal mismatch")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrLimitExceeded         = risk.ErrLimitExceeded
)

// failure codes stored in Trade.FailureReason, ahead of the detail text
var failureCodes = map[string]error{
	"snapshot_not_found":      ErrSnapshotNotFound,
	"snapshot_expired":        ErrSnapshotExpired,
	"snapshot_metal_mismatch": ErrSnapshotMetalMismatch,
	"insufficient_balance":    ErrInsufficientBalance,
	"limit_exceeded":          ErrLimitExceeded,
}

func failureCode(err error) string {
	for code, target := range failureCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return "failed"
}

// FailureError maps a stored failure reason back to its typed error.
func FailureError(reason string) error {
	code, detail, _ := strings.Cut(reason, ": ")
	if target, ok := failureCodes[code]; ok {
		if detail == "" {
			return target
		}
		return fmt.Errorf("%w: %s", target, detail)
	}
	return errors.New(reason)
}

type Request struct {
	UserID     string           `json:"-"`
	Direction  models.Direction `json:"direction"`
	Metal      models.Metal     `json:"metal"`
	SnapshotID uuid.UUID        `json:"snapshotId"`
	// Amount is currency for a buy and grams for a sell.
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

func (r *Request) Validate() error {
	var problems []string
	if strings.TrimSpace(r.UserID) == "" {
		problems = append(problems, "user id is required")
	}
	if k := strings.TrimSpace(r.IdempotencyKey); k == "" || len(k) > maxKeyLength {
		problems = append(problems, fmt.Sprintf("idempotency key must be 1-%d characters", maxKeyLength))
	}
	if _, err := models.ParseDirection(string(r.Direction)); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := models.ParseMetal(string(r.Metal)); err != nil {
		problems = append(problems, err.Error())
	}
	if r.SnapshotID == uuid.Nil {
		problems = append(problems, "snapshot id is required")
	}
	if !r.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	} else {
		scale := int32(currencyScale)
		if r.Direction == models.Sell {
			scale = gramsScale
		}
		if !r.Amount.Equal(r.Amount.Round(scale)) {
			problems = append(problems, fmt.Sprintf("amount has more than %d decimal places", scale))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// Result is the outcome of Execute. Replayed is true when the trade was
// found under the idempotency key instead of being executed now.
type Result struct {
	Trade    *models.Trade `json:"trade"`
	Replayed bool          `json:"replayed"`
}

type Executor struct {
	trades    repository.TradeStore
	ledger    repository.Ledger
	snapshots repository.SnapshotStore
	guardian  *risk.Guardian
	loc       *time.Location
	metrics   *observability.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithGuardian(g *risk.Guardian) Option {
	return func(e *Executor) { e.guardian = g }
}

// WithLocation sets the zone trading days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(e *Executor) { e.loc = loc }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(trades repository.TradeStore, ledger repository.Ledger, snapshots repository.SnapshotStore, log logrus.FieldLogger, opts ...Option) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Executor{
		trades:    trades,
		ledger:    ledger,
		snapshots: snapshots,
		loc:       time.UTC,
		log:       log.WithField("component", "trading"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs one trade request. Financial rejections come back as one of
// the package's sentinel errors together with the persisted failed trade;
// an invalid request is rejected without being persisted.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.Metal = models.Metal(strings.ToLower(string(req.Metal)))
	req.Direction = models.Direction(strings.ToLower(string(req.Direction)))
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := e.trades.GetByKey(ctx, req.UserID, req.IdempotencyKey)
	switch {
	case err == nil:
		return e.replay(existing)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	now := e.now()
	trade := &models.Trade{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Metal:          req.Metal,
		Direction:      req.Direction,
		SnapshotID:     req.SnapshotID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         models.TradePending,
		TradingDay:     repository.TradingDay(now, e.loc),
		CreatedAt:      now,
	}
	if req.Direction == models.Buy {
		trade.AmountCurrency = req.Amount
	} else {
		trade.AmountGrams = req.Amount
	}

	snap, err := e.snapshots.GetSnapshot(ctx, req.SnapshotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return e.fail(ctx, trade, fmt.Errorf("%w: %s", ErrSnapshotNotFound, req.SnapshotID))
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	trade.Currency = snap.Currency
	if snap.Expired(now) {
		return e.fail(ctx, trade, fmt.Errorf("%w: valid until %s", ErrSnapshotExpired, snap.ValidUntil.UTC().Format(time.RFC3339)))
	}
	if snap.Metal != req.Metal {
		return e.fail(ctx, trade, fmt.Errorf("%w: snapshot is %s, request is %s", ErrSnapshotMetalMismatch, snap.Metal, req.Metal))
	}

	var (
		postings []models.Posting
		value    decimal.Decimal
		need     decimal.Decimal
		asset    string
		metal    = string(req.Metal)
	)
	switch req.Direction {
	case models.Buy:
		trade.PricePerGram = snap.BuyPricePerGram
		trade.AmountGrams = req.Amount.DivRound(snap.BuyPricePerGram, gramsScale)
		value, need, asset = trade.AmountCurrency, trade.AmountCurrency, snap.Currency
		postings = []models.Posting{
			{UserID: req.UserID, Asset: snap.Currency, Delta: trade.AmountCurrency.Neg()},
			{UserID: req.UserID, Asset: metal, Delta: trade.AmountGrams},
		}
	case models.Sell:
		trade.PricePerGram = snap.SellPricePerGram
		trade.AmountCurrency = req.Amount.Mul(snap.SellPricePerGram).Round(currencyScale)
		value, need, asset = trade.AmountCurrency, trade.AmountGrams, metal
		postings = []models.Posting{
			{UserID: req.UserID, Asset: metal, Delta: trade.AmountGrams.Neg()},
			{UserID: req.UserID, Asset: snap.Currency, Delta: trade.AmountCurrency},
		}
	}
	if !trade.AmountGrams.IsPositive() || !trade.AmountCurrency.IsPositive() {
		return nil, fmt.Errorf("%w: amount too small to trade at %s per gram", ErrInvalidRequest, trade.PricePerGram)
	}

	if err := e.guardian.PreTradeCheck(ctx, req.UserID, trade.TradingDay, value); err != nil {
		if errors.Is(err, risk.ErrLimitExceeded) {
			return e.fail(ctx, trade, err)
		}
		return nil, err
	}

	have, err := e.ledger.Balance(ctx, req.UserID, asset)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if have.LessThan(need) {
		return e.fail(ctx, trade, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, need, asset, have))
	}

	trade.Status = models.TradeCompleted
	stored, created, err := e.trades.Commit(ctx, trade, postings)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			trade.Status = models.TradePending
			return e.fail(ctx, trade, fmt.Errorf("%w: %v", ErrInsufficientBalance, err))
		}
		return nil, fmt.Errorf("commit trade: %w", err)
	}
	if !created {
		return e.replay(stored)
	}

	e.metrics.ObserveTrade(string(stored.Direction), string(stored.Status))
	e.log.WithFields(logrus.Fields{
		"trade":     stored.ID,
		"user":      stored.UserID,
		"direction": stored.Direction,
		"metal":     stored.Metal,
		"grams":     stored.AmountGrams.String(),
		"amount":    stored.AmountCurrency.String(),
		"price":     stored.PricePerGram.String(),
	}).Info("trade completed")
	return &Result{Trade: stored}, nil
}

// fail persists trade as failed with cause as its reason. If another
// request already claimed the key, that request's outcome is returned.
func (e *Executor) fail(ctx context.Context, trade *models.Trade, cause error) (*Result, error) {
	trade.Status = models.TradeFailed
	trade.FailureReason = failureCode(cause) + ": " + detail(cause)

	stored, created, err := e.trades.SaveFailed(ctx, trade)
	if err != nil {
		return nil, errors.Join(cause, fmt.Errorf("record failed trade: %w", err))
	}
	if !created {
		return e.replay(stored)
	}

	e.metrics.ObserveTrade(string(stored.Direction), string(stored.Status))
	e.log.WithFields(logrus.Fields{
		"trade":  stored.ID,
		"user":   stored.UserID,
		"reason": stored.FailureReason,
	}).Warn("trade failed")
	return &Result{Trade: stored}, cause
}

func (e *Executor) replay(t *models.Trade) (*Result, error) {
	res := &Result{Trade: t, Replayed: true}
	if t.Status == models.TradeFailed {
		return res, FailureError(t.FailureReason)
	}
	return res, nil
}

// detail strips the sentinel prefix from a wrapped error message.
func detail(err error) string {
	msg := err.Error()
	for _, target := range failureCodes {
		if rest, ok := strings.CutPrefix(msg, target.Error()+": "); ok {
			return rest
		}
	}
	return msg
}
