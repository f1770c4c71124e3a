package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/profiles"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), sessionEmail(c))
	if err != nil {
		h.writeProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleUpsertProfile(c *gin.Context) {
	var request profiles.ProfileUpdate
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	profile, err := h.profiles.Upsert(c.Request.Context(), sessionEmail(c), request)
	if err != nil {
		h.writeProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) writeProfileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, profiles.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_argument"})
	case errors.Is(err, profiles.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("profile request failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	}
}
