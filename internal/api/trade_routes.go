package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/trading"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type tradeJSON struct {
	TradeID        uuid.UUID          `json:"tradeId"`
	Status         models.TradeStatus `json:"status"`
	Direction      models.Direction   `json:"direction"`
	Metal          models.Metal       `json:"metal"`
	Grams          decimal.Decimal    `json:"grams"`
	Amount         decimal.Decimal    `json:"amount"`
	Currency       string             `json:"currency"`
	PricePerGram   decimal.Decimal    `json:"pricePerGram"`
	SnapshotID     uuid.UUID          `json:"snapshotId"`
	IdempotencyKey string             `json:"idempotencyKey"`
	FailureReason  string             `json:"failureReason,omitempty"`
	TradingDay     string             `json:"tradingDay"`
	CreatedAt      time.Time          `json:"createdAt"`
}

func toTradeJSON(t *models.Trade) tradeJSON {
	return tradeJSON{
		TradeID:        t.ID,
		Status:         t.Status,
		Direction:      t.Direction,
		Metal:          t.Metal,
		Grams:          t.AmountGrams,
		Amount:         t.AmountCurrency,
		Currency:       t.Currency,
		PricePerGram:   t.PricePerGram,
		SnapshotID:     t.SnapshotID,
		IdempotencyKey: t.IdempotencyKey,
		FailureReason:  t.FailureReason,
		TradingDay:     t.TradingDay,
		CreatedAt:      t.CreatedAt,
	}
}

type executeResponse struct {
	tradeJSON
	Replayed bool   `json:"replayed"`
	Error    string `json:"error,omitempty"`
}

// tradeStatus maps an execution error to the status the caller sees.
func tradeStatus(err error) int {
	switch {
	case errors.Is(err, trading.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, trading.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, trading.ErrSnapshotExpired):
		return http.StatusGone
	case errors.Is(err, trading.ErrSnapshotMetalMismatch):
		return http.StatusConflict
	case errors.Is(err, trading.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, trading.ErrLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleExecuteTrade(c *gin.Context) {
	var req trading.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID(c)
	if key := c.GetHeader("Idempotency-Key"); req.IdempotencyKey == "" && key != "" {
		req.IdempotencyKey = key
	}

	res, err := s.deps.Executor.Execute(c.Request.Context(), req)
	if err != nil {
		status := tradeStatus(err)
		if status == http.StatusInternalServerError {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user": req.UserID,
				"key":  req.IdempotencyKey,
			}).Error("trade execution")
			writeError(c, status, "failed to execute trade")
			return
		}
		if res == nil {
			writeError(c, status, err.Error())
			return
		}
		c.JSON(status, executeResponse{tradeJSON: toTradeJSON(res.Trade), Replayed: res.Replayed, Error: err.Error()})
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, executeResponse{tradeJSON: toTradeJSON(res.Trade), Replayed: res.Replayed})
}

func (s *Server) handleListTrades(c *gin.Context) {
	limit := parseLimit(c, defaultQueryLimit)
	trades, err := s.deps.Trades.ListByUser(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.log.WithError(err).Error("fetching trades")
		writeError(c, http.StatusInternalServerError, "failed to fetch trades")
		return
	}

	out := make([]tradeJSON, len(trades))
	for i := range trades {
		out[i] = toTradeJSON(&trades[i])
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleBalances(c *gin.Context) {
	balances, err := s.deps.Ledger.Balances(c.Request.Context(), userID(c))
	if err != nil {
		s.log.WithError(err).Error("fetching balances")
		writeError(c, http.StatusInternalServerError, "failed to fetch balances")
		return
	}
	if balances == nil {
		balances = []models.Balance{}
	}
	c.JSON(http.StatusOK, balances)
}

type creditRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// handleCredit funds the caller's account. It is only served when the API
// is protected by a key.
func (s *Server) handleCredit(c *gin.Context) {
	if s.apiKey == "" {
		writeError(c, http.StatusForbidden, "crediting requires API_KEY to be configured")
		return
	}

	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	asset, ok := s.asset(req.Asset)
	if !ok {
		writeError(c, http.StatusBadRequest, "asset must be gold, silver or "+s.deps.Currency)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(c, http.StatusBadRequest, "amount must be positive")
		return
	}

	bal, err := s.deps.Ledger.Credit(c.Request.Context(), userID(c), asset, req.Amount)
	if err != nil {
		s.log.WithError(err).WithField("asset", asset).Error("crediting balance")
		writeError(c, http.StatusInternalServerError, "failed to credit balance")
		return
	}
	c.JSON(http.StatusOK, bal)
}

// asset resolves a ledger asset name: a metal or the deployment currency.
func (s *Server) asset(name string) (string, bool) {
	if m, err := models.ParseMetal(name); err == nil {
		return string(m), true
	}
	if s.deps.Currency != "" && strings.EqualFold(strings.TrimSpace(name), s.deps.Currency) {
		return s.deps.Currency, true
	}
	return "", false
}
