package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/ingest"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/pricecache"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/kjannette/bullion-backend/internal/trading"
	"github.com/sirupsen/logrus"
)

const (
	maxQueryLimit     = 1000
	defaultQueryLimit = 100

	// UserIDHeader carries the caller's identity, set by the auth layer in
	// front of this service.
	UserIDHeader = "X-User-ID"
	userIDKey    = "userID"
)

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type LatestReader interface {
	LatestPrices(ctx context.Context) (*pricecache.Latest, error)
}

type MarketRefresher interface {
	Refresh(ctx context.Context, metal models.Metal) (*ingest.MarketQuote, error)
}

type Snapshotter interface {
	Create(ctx context.Context, metal models.Metal) (*models.PriceSnapshot, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PriceSnapshot, error)
}

type TradeExecutor interface {
	Execute(ctx context.Context, req trading.Request) (*trading.Result, error)
}

type IngestRunner interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the API. Market and Ingest may be nil, in
// which case their routes answer 503.
type Deps struct {
	Prices    LatestReader
	History   repository.PriceStore
	Market    MarketRefresher
	Snapshots Snapshotter
	Executor  TradeExecutor
	Trades    repository.TradeStore
	Ledger    repository.Ledger
	Ingest    IngestRunner
	Checks    map[string]HealthCheck
	Metrics   *observability.Metrics
	Currency  string
	Log       logrus.FieldLogger
}

type Server struct {
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	apiKey     string
	log        logrus.FieldLogger
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		log:    deps.Log.WithField("component", "api"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware(corsOrigin), s.authMiddleware())

	// Health check and metrics (no auth required)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	v1 := r.Group("/v1")

	// Price routes
	v1.GET("/prices/latest", s.handleLatestPrices)
	v1.GET("/prices/:metal/history", s.handlePriceHistory)
	v1.GET("/prices/:metal/day/:date", s.handlePricesByDay)
	v1.GET("/prices/:metal/market", s.handleMarketPrice)

	// Snapshot routes
	v1.POST("/snapshots", s.handleCreateSnapshot)
	v1.GET("/snapshots/:id", s.handleGetSnapshot)

	// Caller routes
	user := v1.Group("", requireUser())
	user.POST("/trades", s.handleExecuteTrade)
	user.GET("/trades", s.handleListTrades)
	user.GET("/balances", s.handleBalances)
	user.POST("/balances/credit", s.handleCredit)

	// Ingestion trigger
	v1.POST("/ingest/run", s.handleIngestRun)

	s.engine = r
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	s.log.Infof("REST API server started on http://localhost%s", s.httpServer.Addr)
	if s.apiKey != "" {
		s.log.Info("authentication: enabled (Bearer token)")
	} else {
		s.log.Warn("authentication: disabled (no API_KEY configured)")
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if s.apiKey == "" || p == "/health" || p == "/metrics" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			abortError(c, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			abortError(c, http.StatusUnauthorized, "invalid API key")
			return
		}

		c.Next()
	}
}

func corsMiddleware(allowOrigin string) gin.HandlerFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if id == "" {
			abortError(c, http.StatusUnauthorized, "missing "+UserIDHeader+" header")
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(c *gin.Context, defaultLimit int) int {
	v := c.Query("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// metalParam reads the :metal path segment, answering 400 when it is not a
// known metal.
func metalParam(c *gin.Context) (models.Metal, bool) {
	metal, err := models.ParseMetal(c.Param("metal"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return metal, true
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// --- response helpers ---

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
