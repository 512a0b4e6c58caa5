package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/bullion-backend/internal/extract"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/spf13/viper"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Source is one place a metal price can be scraped from. Sources for the
// same metal are tried in the order they are listed.
type Source struct {
	Name          string            `mapstructure:"name"`
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Currency      string            `mapstructure:"currency"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	extract.Rules `mapstructure:",squash"`
}

func (s Source) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return fmt.Errorf("source %s: url must be http(s)", s.Name)
	}
	if _, err := models.ParseMetal(string(s.Metal)); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	if err := s.Rules.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	return nil
}

// LoadSources reads the source list from a YAML, JSON or TOML file. An
// empty path returns the built-in defaults.
func LoadSources(path, currency string) ([]Source, error) {
	if path == "" {
		return withCurrency(DefaultSources(), currency)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var sources []Source
	if err := v.UnmarshalKey("sources", &sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}
	for i := range sources {
		m, err := models.ParseMetal(string(sources[i].Metal))
		if err == nil {
			sources[i].Metal = m
		}
		if err := sources[i].Validate(); err != nil {
			return nil, err
		}
	}
	return withCurrency(sources, currency)
}

// ByMetal groups sources per metal keeping file order.
func ByMetal(sources []Source) map[models.Metal][]Source {
	out := make(map[models.Metal][]Source)
	for _, s := range sources {
		out[s.Metal] = append(out[s.Metal], s)
	}
	return out
}

// withCurrency fills in the deployment currency. Every price in one
// deployment is quoted in the same currency, so a source declaring another
// one is rejected.
func withCurrency(sources []Source, currency string) ([]Source, error) {
	currency = strings.ToUpper(currency)
	for i := range sources {
		c := strings.ToUpper(strings.TrimSpace(sources[i].Currency))
		switch {
		case c == "":
			sources[i].Currency = currency
		case c != currency:
			return nil, fmt.Errorf("source %s: currency %s differs from deployment currency %s", sources[i].Name, c, currency)
		default:
			sources[i].Currency = c
		}
	}
	return sources, nil
}

// DefaultSources is used when no sources file is configured.
func DefaultSources() []Source {
	arMarkers := []string{"جنيه", "ج.م", "EGP"}
	return []Source{
		{
			Name: "isagha-gold",
			URL:  "https://market.isagha.com/prices",
			Rules: extract.Rules{
				Metal:  models.Gold,
				Format: extract.FormatHTMLTable,
				Matchers: []extract.LabelMatcher{
					{Pattern: "عيار 24", Unit: models.UnitGram, Language: "ar", Columns: []models.Role{models.RoleSell, models.RoleBuy}},
					{Pattern: "gold 24k", Unit: models.UnitGram, Language: "en", Columns: []models.Role{models.RoleSell, models.RoleBuy}},
					{Pattern: "الاوقيه", Unit: models.UnitOunce, Language: "ar", Role: models.RoleOpening},
				},
				CurrencyMarkers: arMarkers,
			},
		},
		{
			Name: "goldprice-today-gold",
			URL:  "https://egypt.gold-price-today.com/",
			Rules: extract.Rules{
				Metal:  models.Gold,
				Format: extract.FormatHTMLText,
				Matchers: []extract.LabelMatcher{
					{Pattern: "سعر البيع عيار 24", Role: models.RoleSell, Language: "ar"},
					{Pattern: "سعر الشراء عيار 24", Role: models.RoleBuy, Language: "ar"},
					{Pattern: "24k gold price", Role: models.RoleBuy, Language: "en"},
				},
				CurrencyMarkers: arMarkers,
			},
		},
		{
			Name: "isagha-silver",
			URL:  "https://market.isagha.com/prices/silver",
			Rules: extract.Rules{
				Metal:  models.Silver,
				Format: extract.FormatHTMLTable,
				Matchers: []extract.LabelMatcher{
					{Pattern: "عيار 999", Unit: models.UnitGram, Language: "ar", Columns: []models.Role{models.RoleSell, models.RoleBuy}},
					{Pattern: "silver 999", Unit: models.UnitGram, Language: "en", Columns: []models.Role{models.RoleSell, models.RoleBuy}},
				},
				CurrencyMarkers: arMarkers,
			},
		},
	}
}
