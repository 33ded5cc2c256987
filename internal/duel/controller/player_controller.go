package controller

import (
	"context"

	"codeduel/internal/duel/repository"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// PlayerStatsReader loads cached player statistics.
type PlayerStatsReader interface {
	Stats(ctx context.Context, userID string) (repository.PlayerStats, error)
}

// PlayerController serves player ratings and records.
type PlayerController struct {
	stats PlayerStatsReader
}

// NewPlayerController creates a new PlayerController.
func NewPlayerController(stats PlayerStatsReader) *PlayerController {
	return &PlayerController{stats: stats}
}

// GetStats returns rating and win/loss/draw counters of one player.
func (h *PlayerController) GetStats(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		response.BadRequest(c, "Invalid user id")
		return
	}
	stats, err := h.stats.Stats(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}
