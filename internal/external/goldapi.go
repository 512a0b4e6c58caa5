package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/bullion-backend/internal/httputil"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/shopspring/decimal"
)

const DefaultGoldAPIURL = "https://www.goldapi.io/api"

// GoldAPIClient reads spot prices from goldapi.io. The API key goes in the
// x-access-token header.
type GoldAPIClient struct {
	httpClient *http.Client
	retry      httputil.RetryConfig
	baseURL    string
	apiKey     string
	currency   string
}

var _ RateProvider = (*GoldAPIClient)(nil)

func NewGoldAPIClient(baseURL, apiKey, currency string) *GoldAPIClient {
	if baseURL == "" {
		baseURL = DefaultGoldAPIURL
	}
	return &GoldAPIClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		currency: strings.ToUpper(currency),
	}
}

func (c *GoldAPIClient) Name() string { return "goldapi" }

func (c *GoldAPIClient) Configured() bool { return c.apiKey != "" && c.currency != "" }

func (c *GoldAPIClient) RatePerGram(ctx context.Context, metal models.Metal) (decimal.Decimal, error) {
	if !c.Configured() {
		return decimal.Zero, ErrNotConfigured
	}
	symbol := Symbol(metal)
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", models.ErrUnknownMetal, metal)
	}
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, symbol, c.currency)

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-access-token", c.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("goldapi fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("goldapi returned status %d", resp.StatusCode)
	}

	var data struct {
		Price        decimal.NullDecimal `json:"price"`
		PriceGram24k decimal.NullDecimal `json:"price_gram_24k"`
		Currency     string              `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return decimal.Zero, fmt.Errorf("decode: %w", err)
	}
	if data.Currency != "" && !strings.EqualFold(data.Currency, c.currency) {
		return decimal.Zero, fmt.Errorf("goldapi quoted %s, want %s", data.Currency, c.currency)
	}

	var perGram decimal.Decimal
	switch {
	case data.PriceGram24k.Valid && data.PriceGram24k.Decimal.IsPositive():
		perGram = data.PriceGram24k.Decimal
	case data.Price.Valid && data.Price.Decimal.IsPositive():
		perGram = data.Price.Decimal.DivRound(models.TroyOunceGrams, models.PriceScale)
	default:
		return decimal.Zero, fmt.Errorf("invalid price for %s", symbol)
	}
	return perGram.Round(models.PriceScale), nil
}
