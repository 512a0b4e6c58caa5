package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnknownDirection = errors.New("unknown direction")

type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
	}
}

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// Trade is one buy or sell of metal. For buys AmountCurrency is what the
// user asked to spend; for sells AmountGrams is what they asked to sell.
type Trade struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"userId"`
	Metal          Metal           `json:"metal"`
	Direction      Direction       `json:"direction"`
	AmountCurrency decimal.Decimal `json:"amountCurrency"`
	AmountGrams    decimal.Decimal `json:"amountGrams"`
	PricePerGram   decimal.Decimal `json:"pricePerGram"`
	Currency       string          `json:"currency"`
	SnapshotID     uuid.UUID       `json:"snapshotId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         TradeStatus     `json:"status"`
	FailureReason  string          `json:"failureReason,omitempty"`
	TradingDay     string          `json:"tradingDay"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Posting is a signed change to one ledger balance.
type Posting struct {
	UserID string          `json:"userId"`
	Asset  string          `json:"asset"`
	Delta  decimal.Decimal `json:"delta"`
}

type Balance struct {
	UserID    string          `json:"userId"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
