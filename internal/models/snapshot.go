package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSnapshot freezes a quote for a short window so a trade can be
// executed against the exact price the user was shown.
type PriceSnapshot struct {
	ID                  uuid.UUID       `json:"snapshotId"`
	Metal               Metal           `json:"metal"`
	BuyPricePerGram     decimal.Decimal `json:"buyPricePerGram"`
	SellPricePerGram    decimal.Decimal `json:"sellPricePerGram"`
	Currency            string          `json:"currency"`
	CreatedAt           time.Time       `json:"createdAt"`
	ValidUntil          time.Time       `json:"validUntil"`
	SourcePriceRecordID int64           `json:"sourcePriceRecordId"`
}

// Expired reports whether the snapshot can no longer be used at now.
// A snapshot is still usable at exactly ValidUntil.
func (s *PriceSnapshot) Expired(now time.Time) bool {
	return now.After(s.ValidUntil)
}
