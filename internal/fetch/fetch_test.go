package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/httputil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(cfg HTTPConfig) *HTTPTransport {
	log, _ := test.NewNullLogger()
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
		cfg.Burst = 100
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = httputil.RetryConfig{MaxAttempts: 1}
	}
	return NewHTTPTransport(cfg, log)
}

func TestHTTPTransport_SendsHeaders(t *testing.T) {
	var gotUA, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	tr := newTestTransport(HTTPConfig{UserAgent: "bullion-test/1.0"})
	body, err := tr.Fetch(context.Background(), srv.URL, map[string]string{"X-Api-Key": "k1"})
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
	assert.Equal(t, "bullion-test/1.0", gotUA)
	assert.Equal(t, "k1", gotKey)
}

func TestHTTPTransport_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := newTestTransport(HTTPConfig{})
	_, err := tr.Fetch(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrHTTPStatus)
}

func TestHTTPTransport_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	tr := newTestTransport(HTTPConfig{MaxBodyBytes: 1024})
	_, err := tr.Fetch(context.Background(), srv.URL, nil)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestHTTPTransport_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := newTestTransport(HTTPConfig{BreakerFailures: 2, BreakerCooldown: time.Hour})
	for i := 0; i < 2; i++ {
		_, err := tr.Fetch(context.Background(), srv.URL, nil)
		require.Error(t, err)
	}

	_, err := tr.Fetch(context.Background(), srv.URL, nil)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState), "got %v", err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcher_TimeoutNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr := newTestTransport(HTTPConfig{Retry: httputil.RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}})
	f := NewFetcher(tr, time.Second, "", nil)

	src := config.Source{Name: "slow", URL: srv.URL, Timeout: 100 * time.Millisecond}
	_, err := f.Fetch(context.Background(), src)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), hits.Load())
}

type stubTransport struct {
	headers map[string]string
}

func (s *stubTransport) Fetch(_ context.Context, _ string, headers map[string]string) ([]byte, error) {
	s.headers = headers
	return []byte("ok"), nil
}

func TestFetcher_MergesHeaders(t *testing.T) {
	st := &stubTransport{}
	f := NewFetcher(st, 0, "", nil)

	_, err := f.Fetch(context.Background(), config.Source{
		Name:    "s",
		URL:     "https://example.com",
		Headers: map[string]string{"Referer": "https://example.com/"},
	})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultUserAgent, st.headers["User-Agent"])
	assert.Equal(t, "https://example.com/", st.headers["Referer"])
}
