package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kjannette/bullion-backend/internal/ingest"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/sirupsen/logrus"
)

func (s *Server) handleLatestPrices(c *gin.Context) {
	latest, err := s.deps.Prices.LatestPrices(c.Request.Context())
	if err != nil {
		s.log.WithError(err).Error("latest prices unavailable")
		writeError(c, http.StatusServiceUnavailable, "prices unavailable")
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (s *Server) handlePriceHistory(c *gin.Context) {
	metal, ok := metalParam(c)
	if !ok {
		return
	}
	limit := parseLimit(c, defaultQueryLimit)

	prices, err := s.deps.History.History(c.Request.Context(), metal, limit)
	if err != nil {
		s.log.WithError(err).WithField("metal", metal).Error("fetching price history")
		writeError(c, http.StatusInternalServerError, "failed to fetch prices")
		return
	}
	if prices == nil {
		prices = []models.PriceRecord{}
	}
	c.JSON(http.StatusOK, prices)
}

func (s *Server) handlePricesByDay(c *gin.Context) {
	metal, ok := metalParam(c)
	if !ok {
		return
	}
	date := c.Param("date")
	if !validateDate(date) {
		writeError(c, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}

	prices, err := s.deps.History.ByDay(c.Request.Context(), metal, date)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"metal": metal, "date": date}).Error("fetching prices by day")
		writeError(c, http.StatusInternalServerError, "failed to fetch prices")
		return
	}
	if prices == nil {
		prices = []models.PriceRecord{}
	}
	c.JSON(http.StatusOK, prices)
}

func (s *Server) handleMarketPrice(c *gin.Context) {
	metal, ok := metalParam(c)
	if !ok {
		return
	}
	if s.deps.Market == nil {
		writeError(c, http.StatusServiceUnavailable, "market prices not enabled")
		return
	}

	quote, err := s.deps.Market.Refresh(c.Request.Context(), metal)
	if err != nil {
		if errors.Is(err, ingest.ErrPriceUnavailable) {
			writeError(c, http.StatusServiceUnavailable, "no "+string(metal)+" market price available")
			return
		}
		s.log.WithError(err).WithField("metal", metal).Error("market price refresh")
		writeError(c, http.StatusInternalServerError, "failed to fetch market price")
		return
	}
	c.JSON(http.StatusOK, quote)
}
