package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrLimitExceeded is returned when a trade breaks a configured limit.
var ErrLimitExceeded = errors.New("trade limit exceeded")

// DailyTradeCounter abstracts the trade-counting dependency so Guardian
// can be tested without a real database.
type DailyTradeCounter interface {
	CountByUserDay(ctx context.Context, userID, day string) (int, error)
}

// Limits holds the per-user thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxDailyTrades int
	MaxTradeAmount decimal.Decimal
}

type Guardian struct {
	limits  Limits
	counter DailyTradeCounter
}

func NewGuardian(limits Limits, counter DailyTradeCounter) *Guardian {
	return &Guardian{limits: limits, counter: counter}
}

// PreTradeCheck validates per-trade constraints before execution. value is
// the trade's worth in the deployment currency and day is the current
// trading day. A violated limit wraps ErrLimitExceeded; a counter failure
// is returned as is so callers can tell the two apart.
func (g *Guardian) PreTradeCheck(ctx context.Context, userID, day string, value decimal.Decimal) error {
	if g == nil {
		return nil
	}
	if g.limits.MaxTradeAmount.IsPositive() && value.GreaterThan(g.limits.MaxTradeAmount) {
		return fmt.Errorf("%w: trade value %s exceeds max %s",
			ErrLimitExceeded, value.StringFixed(2), g.limits.MaxTradeAmount.StringFixed(2))
	}

	if g.limits.MaxDailyTrades > 0 && g.counter != nil {
		count, err := g.counter.CountByUserDay(ctx, userID, day)
		if err != nil {
			return fmt.Errorf("unable to verify daily trade count: %w", err)
		}
		if count >= g.limits.MaxDailyTrades {
			return fmt.Errorf("%w: daily limit of %d trades reached (%d executed on %s)",
				ErrLimitExceeded, g.limits.MaxDailyTrades, count, day)
		}
	}

	return nil
}
