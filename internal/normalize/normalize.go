// Package normalize turns raw observations into a canonical per-gram quote.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/bullion-backend/internal/extract"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNotAvailable means no valid buy or sell price could be built from the
// observations.
var ErrNotAvailable = errors.New("price not available")

var (
	DefaultOunceThreshold = decimal.NewFromInt(10000)
	DefaultBorderlineBand = decimal.RequireFromString("0.10")
	DefaultSpread         = decimal.RequireFromString("0.98")
)

type Config struct {
	// OunceThreshold is the magnitude above which a value with no declared
	// unit is read as a per-ounce price.
	OunceThreshold decimal.Decimal
	// BorderlineBand is the fraction of OunceThreshold within which the
	// heuristic logs a warning.
	BorderlineBand decimal.Decimal
}

// Meta carries the source details stamped onto every normalized price.
type Meta struct {
	Source     string
	Currency   string
	ObservedAt time.Time
}

type Normalizer struct {
	cfg Config
	log logrus.FieldLogger
}

func New(cfg Config, log logrus.FieldLogger) *Normalizer {
	if !cfg.OunceThreshold.IsPositive() {
		cfg.OunceThreshold = DefaultOunceThreshold
	}
	if cfg.BorderlineBand.IsNegative() || cfg.BorderlineBand.IsZero() {
		cfg.BorderlineBand = DefaultBorderlineBand
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Normalizer{cfg: cfg, log: log.WithField("component", "normalize")}
}

type parsed struct {
	obs   models.RawObservation
	value decimal.Decimal
}

// Normalize converts observations for one metal into a NormalizedPrice.
// Units are resolved per field; explicit units win over the magnitude
// heuristic. When only one of buy or sell is present it is used for both.
func (n *Normalizer) Normalize(obs []models.RawObservation, meta Meta) (*models.NormalizedPrice, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no observations", ErrNotAvailable)
	}

	byRole := map[models.Role]*parsed{}
	for _, o := range obs {
		role := o.Role
		if role == "" {
			role = models.RoleUnknown
		}
		if _, seen := byRole[role]; seen {
			continue
		}
		v, ok := extract.ParseNumber(o.RawText)
		if !ok {
			continue
		}
		byRole[role] = &parsed{obs: o, value: n.PerGram(v, o.Unit)}
	}

	buy, sell := byRole[models.RoleBuy], byRole[models.RoleSell]
	if buy == nil && sell == nil {
		if u := byRole[models.RoleUnknown]; u != nil {
			buy, sell = u, u
		}
	}
	switch {
	case buy == nil && sell == nil:
		return nil, fmt.Errorf("%w: no buy or sell value among %s", ErrNotAvailable, describe(obs))
	case buy == nil:
		buy = sell
	case sell == nil:
		sell = buy
	}

	if !buy.value.IsPositive() || !sell.value.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive price buy=%s sell=%s (raw %q / %q)",
			ErrNotAvailable, buy.value, sell.value, buy.obs.RawText, sell.obs.RawText)
	}

	out := &models.NormalizedPrice{
		Metal:            obs[0].Metal,
		BuyPricePerGram:  buy.value,
		SellPricePerGram: sell.value,
		Currency:         meta.Currency,
		Source:           meta.Source,
		ObservedAt:       meta.ObservedAt,
	}
	if o := byRole[models.RoleOpening]; o != nil && o.value.IsPositive() {
		v := o.value
		out.OpeningPerGram = &v
	}
	if c := byRole[models.RoleChange]; c != nil {
		v := c.value
		out.ChangePerGram = &v
	}
	return out, nil
}

// PerGram converts v to a per-gram value, rounded to models.PriceScale.
func (n *Normalizer) PerGram(v decimal.Decimal, unit models.Unit) decimal.Decimal {
	switch unit {
	case models.UnitOunce:
		return OunceToGram(v)
	case models.UnitGram:
		return v.Round(models.PriceScale)
	}

	mag := v.Abs()
	band := n.cfg.OunceThreshold.Mul(n.cfg.BorderlineBand)
	if mag.Sub(n.cfg.OunceThreshold).Abs().LessThanOrEqual(band) {
		n.log.WithFields(logrus.Fields{
			"value":     v.String(),
			"threshold": n.cfg.OunceThreshold.String(),
		}).Warn("value near ounce/gram threshold, unit is a guess")
	}
	if mag.GreaterThan(n.cfg.OunceThreshold) {
		return OunceToGram(v)
	}
	return v.Round(models.PriceScale)
}

// OunceToGram divides a troy-ounce price down to one gram.
func OunceToGram(v decimal.Decimal) decimal.Decimal {
	return v.Div(models.TroyOunceGrams).Round(models.PriceScale)
}

// DeriveFromRate builds a quote from a single market rate per gram. Sell is
// the rate scaled by spread.
func DeriveFromRate(metal models.Metal, ratePerGram, spread decimal.Decimal, meta Meta) (*models.NormalizedPrice, error) {
	if !spread.IsPositive() {
		spread = DefaultSpread
	}
	p := &models.NormalizedPrice{
		Metal:            metal,
		BuyPricePerGram:  ratePerGram.Round(models.PriceScale),
		SellPricePerGram: ratePerGram.Mul(spread).Round(models.PriceScale),
		Currency:         meta.Currency,
		Source:           meta.Source,
		ObservedAt:       meta.ObservedAt,
		IsDerived:        true,
	}
	if !p.Valid() {
		return nil, fmt.Errorf("%w: rate %s", ErrNotAvailable, ratePerGram)
	}
	return p, nil
}

func describe(obs []models.RawObservation) string {
	parts := make([]string, 0, len(obs))
	for _, o := range obs {
		parts = append(parts, fmt.Sprintf("%s/%s=%q", o.Role, o.Unit, o.RawText))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
