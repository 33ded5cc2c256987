package controller

import (
	"context"
	"strings"

	commonmw "codeduel/internal/common/http/middleware"
	"codeduel/internal/duel/model"
	"codeduel/internal/duel/registry"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Duels is the registry surface behind the duel endpoints.
type Duels interface {
	Open(ctx context.Context, req registry.OpenRequest) (*model.Duel, error)
	JoinByInvite(ctx context.Context, code, userID string) (*model.Duel, error)
	Get(duelID string) (*model.Duel, error)
}

// TaskLister reads the task catalog.
type TaskLister interface {
	Get(ctx context.Context, taskID string) (*model.Task, error)
	IDs(ctx context.Context) ([]string, error)
}

// DuelController handles duel HTTP endpoints.
// Create and AcceptInvite expect commonmw.Auth in front of them.
type DuelController struct {
	duels Duels
	tasks TaskLister
}

// NewDuelController creates a new DuelController.
func NewDuelController(duels Duels, tasks TaskLister) *DuelController {
	return &DuelController{duels: duels, tasks: tasks}
}

// Create opens a duel for the caller, or returns the live one when the id is already taken.
func (h *DuelController) Create(c *gin.Context) {
	creatorID := commonmw.UserID(c)
	if creatorID == "" {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return
	}
	var req CreateDuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	duel, err := h.duels.Open(c.Request.Context(), registry.OpenRequest{
		DuelID:    strings.TrimSpace(req.DuelID),
		TaskID:    strings.TrimSpace(req.TaskID),
		CreatorID: creatorID,
		IsPrivate: req.IsPrivate,
	})
	if err != nil {
		// A duel that failed to start is still registered as Cancelled; hand its snapshot back.
		if duel != nil {
			err = appErr.GetError(err).
				WithDetail("duel_id", duel.ID).
				WithDetail("duel", duel.ForClient())
		}
		response.Error(c, err)
		return
	}
	response.Created(c, duel.ForClient())
}

// AcceptInvite adds the caller to the private duel behind the invite code.
func (h *DuelController) AcceptInvite(c *gin.Context) {
	userID := commonmw.UserID(c)
	if userID == "" {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return
	}
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		response.BadRequest(c, "Invalid invite code")
		return
	}
	duel, err := h.duels.JoinByInvite(c.Request.Context(), code, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, duel.ForClient())
}

// Get returns the current duel snapshot. Polling keeps the duel alive.
func (h *DuelController) Get(c *gin.Context) {
	duelID := c.Param("id")
	if duelID == "" {
		response.BadRequest(c, "Invalid duel id")
		return
	}
	duel, err := h.duels.Get(duelID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, duel.ForClient())
}

// ListTasks summarizes the tasks available to new duels. Test cases are never listed.
func (h *DuelController) ListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.tasks.IDs(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]TaskSummary, 0, len(ids))
	for _, id := range ids {
		task, err := h.tasks.Get(ctx, id)
		if appErr.Is(err, appErr.TaskNotFound) {
			continue
		}
		if err != nil {
			response.Error(c, err)
			return
		}
		out = append(out, summarize(task))
	}
	response.Success(c, TaskListResponse{Tasks: out})
}
