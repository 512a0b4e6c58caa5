package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kjannette/bullion-backend/internal/ingest"
)

// handleIngestRun runs one ingestion cycle and answers with its summary.
// The HTTP status is the cycle's status.
func (s *Server) handleIngestRun(c *gin.Context) {
	if s.deps.Ingest == nil {
		writeError(c, http.StatusServiceUnavailable, "ingestion not enabled")
		return
	}

	res, err := s.deps.Ingest.Run(c.Request.Context())
	if err != nil && !errors.Is(err, ingest.ErrAlreadyRunning) {
		s.log.WithError(err).Error("ingestion run")
		writeError(c, http.StatusInternalServerError, "ingestion failed")
		return
	}
	c.JSON(res.Status, res)
}
