package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TroyOunceGrams is the number of grams in one troy ounce.
var TroyOunceGrams = decimal.RequireFromString("31.1035")

// PriceScale is the number of decimal places kept for per-gram prices.
const PriceScale = 6

var ErrUnknownMetal = errors.New("unknown metal")

type Metal string

const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
)

// Metals lists every supported metal in ingestion order.
var Metals = []Metal{Gold, Silver}

func ParseMetal(s string) (Metal, error) {
	switch Metal(strings.ToLower(strings.TrimSpace(s))) {
	case Gold:
		return Gold, nil
	case Silver:
		return Silver, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetal, s)
	}
}

type Unit string

const (
	UnitOunce   Unit = "ounce"
	UnitGram    Unit = "gram"
	UnitUnknown Unit = "unknown"
)

type Role string

const (
	RoleBuy     Role = "buy"
	RoleSell    Role = "sell"
	RoleOpening Role = "opening"
	RoleChange  Role = "change"
	RoleUnknown Role = "unknown"
)

// RawObservation is a single labeled value pulled from a source document.
// It is never persisted.
type RawObservation struct {
	Metal   Metal  `json:"metal"`
	Label   string `json:"label"`
	RawText string `json:"rawText"`
	Unit    Unit   `json:"unit"`
	Role    Role   `json:"role"`
}

type NormalizedPrice struct {
	Metal            Metal            `json:"metal"`
	BuyPricePerGram  decimal.Decimal  `json:"buyPricePerGram"`
	SellPricePerGram decimal.Decimal  `json:"sellPricePerGram"`
	OpeningPerGram   *decimal.Decimal `json:"openingPerGram,omitempty"`
	ChangePerGram    *decimal.Decimal `json:"changePerGram,omitempty"`
	Currency         string           `json:"currency"`
	Source           string           `json:"source"`
	ObservedAt       time.Time        `json:"observedAt"`
	IsDerived        bool             `json:"isDerived"`
}

// Valid reports whether both sides of the quote are strictly positive.
func (p *NormalizedPrice) Valid() bool {
	return p != nil && p.BuyPricePerGram.IsPositive() && p.SellPricePerGram.IsPositive()
}

// PriceRecord is a stored NormalizedPrice. Records are append-only.
type PriceRecord struct {
	ID int64 `json:"id"`
	NormalizedPrice
	TradingDay string    `json:"tradingDay"`
	CreatedAt  time.Time `json:"createdAt"`
}
