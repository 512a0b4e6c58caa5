package external

import (
	"context"
	"errors"

	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned by a provider that lacks credentials.
var ErrNotConfigured = errors.New("provider not configured")

// RateProvider quotes a market rate per gram in the deployment currency.
type RateProvider interface {
	Name() string
	Configured() bool
	RatePerGram(ctx context.Context, metal models.Metal) (decimal.Decimal, error)
}

// Symbol is the ISO 4217 code of a metal.
func Symbol(metal models.Metal) string {
	switch metal {
	case models.Gold:
		return "XAU"
	case models.Silver:
		return "XAG"
	}
	return ""
}
