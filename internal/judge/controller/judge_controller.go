package controller

import (
	"context"

	"codeduel/internal/duel/model"
	"codeduel/internal/judge/queue"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// StatusReader loads cached submission statuses.
type StatusReader interface {
	Get(ctx context.Context, submissionID string) (*model.Submission, error)
}

// QueueStats reports judging queue depth.
type QueueStats interface {
	Stats() queue.Stats
}

// JudgeController handles judge status requests.
type JudgeController struct {
	status StatusReader
	queue  QueueStats
}

// NewJudgeController creates a new controller.
func NewJudgeController(status StatusReader, q QueueStats) *JudgeController {
	return &JudgeController{status: status, queue: q}
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.status.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	sub.Code = ""
	response.Success(c, sub)
}

// Stats returns a snapshot of the judging queue.
func (h *JudgeController) Stats(c *gin.Context) {
	response.Success(c, h.queue.Stats())
}
