// Package fetch retrieves raw source documents.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/httputil"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

var (
	ErrHTTPStatus   = errors.New("unexpected http status")
	ErrBodyTooLarge = errors.New("response body too large")
	ErrTimeout      = errors.New("fetch timed out")
)

// Transport retrieves a document by URL.
type Transport interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

type HTTPConfig struct {
	UserAgent       string
	MaxBodyBytes    int64
	RatePerSec      float64
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	Retry           httputil.RetryConfig
}

// HTTPTransport is a Transport over net/http. Each host gets its own rate
// limiter and circuit breaker.
type HTTPTransport struct {
	client *http.Client
	cfg    HTTPConfig
	log    logrus.FieldLogger

	mu    sync.Mutex
	hosts map[string]*hostGuard
}

type hostGuard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPTransport(cfg HTTPConfig, log logrus.FieldLogger) *HTTPTransport {
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = httputil.RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, JitterRange: 0.1}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "fetch")
	cfg.Retry.Logger = log

	return &HTTPTransport{
		// per-call deadlines come from the caller's context
		client: &http.Client{},
		cfg:    cfg,
		log:    log,
		hosts:  make(map[string]*hostGuard),
	}
}

func (t *HTTPTransport) guard(host string) *hostGuard {
	t.mu.Lock()
	defer t.mu.Unlock()

	if g, ok := t.hosts[host]; ok {
		return g
	}
	failures := uint32(t.cfg.BreakerFailures)
	g := &hostGuard{
		limiter: rate.NewLimiter(rate.Limit(t.cfg.RatePerSec), t.cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Timeout:     t.cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				t.log.WithFields(logrus.Fields{"host": name, "from": from.String(), "to": to.String()}).
					Warn("circuit breaker state change")
			},
		}),
	}
	t.hosts[host] = g
	return g
}

func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	g := t.guard(u.Host)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", u.Host, err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return t.do(ctx, rawURL, headers)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (t *HTTPTransport) do(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := httputil.Do(ctx, t.client, t.cfg.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", t.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "ar,en;q=0.8")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d from %s", ErrHTTPStatus, resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > t.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, t.cfg.MaxBodyBytes)
	}
	return body, nil
}
