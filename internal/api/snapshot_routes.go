package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/snapshot"
)

type createSnapshotRequest struct {
	Metal string `json:"metal"`
}

func (s *Server) handleCreateSnapshot(c *gin.Context) {
	var req createSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	metal, err := models.ParseMetal(req.Metal)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.deps.Snapshots.Create(c.Request.Context(), metal)
	if err != nil {
		if errors.Is(err, snapshot.ErrPriceUnavailable) {
			writeError(c, http.StatusNotFound, err.Error())
			return
		}
		s.log.WithError(err).WithField("metal", metal).Error("creating snapshot")
		writeError(c, http.StatusInternalServerError, "failed to create snapshot")
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) handleGetSnapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid snapshot id")
		return
	}

	snap, err := s.deps.Snapshots.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			writeError(c, http.StatusNotFound, "snapshot not found")
			return
		}
		s.log.WithError(err).WithField("snapshot", id).Error("fetching snapshot")
		writeError(c, http.StatusInternalServerError, "failed to fetch snapshot")
		return
	}
	c.JSON(http.StatusOK, snap)
}
