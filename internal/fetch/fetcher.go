package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/observability"
)

const DefaultTimeout = 15 * time.Second

// Fetcher applies per-source settings on top of a Transport.
type Fetcher struct {
	transport Transport
	timeout   time.Duration
	userAgent string
	metrics   *observability.Metrics
}

func NewFetcher(t Transport, timeout time.Duration, userAgent string, m *observability.Metrics) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	return &Fetcher{transport: t, timeout: timeout, userAgent: userAgent, metrics: m}
}

// Fetch retrieves the source document within the source's timeout. A timed
// out fetch returns ErrTimeout and is not retried.
func (f *Fetcher) Fetch(ctx context.Context, src config.Source) ([]byte, error) {
	timeout := f.timeout
	if src.Timeout > 0 {
		timeout = src.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := map[string]string{"User-Agent": f.userAgent}
	for k, v := range src.Headers {
		headers[k] = v
	}

	start := time.Now()
	body, err := f.transport.Fetch(ctx, src.URL, headers)
	f.metrics.ObserveFetch(src.Name, time.Since(start))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, src.Name)
		}
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}
	return body, nil
}
