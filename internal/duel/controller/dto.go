package controller

import "codeduel/internal/duel/model"

// CreateDuelRequest opens a duel for the authenticated caller; DuelID is optional.
type CreateDuelRequest struct {
	DuelID    string `json:"duel_id"`
	TaskID    string `json:"task_id" binding:"required"`
	IsPrivate bool   `json:"is_private"`
}

// TaskSummary describes a task without any of its test cases.
type TaskSummary struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Difficulty    model.Difficulty `json:"difficulty"`
	TimeLimitMs   int64            `json:"time_limit_ms"`
	MemoryLimitMB int64            `json:"memory_limit_mb"`
	DuelWindowSec int64            `json:"duel_window_sec,omitempty"`
}

// TaskListResponse lists the tasks a duel can be opened on.
type TaskListResponse struct {
	Tasks []TaskSummary `json:"tasks"`
}

func summarize(t *model.Task) TaskSummary {
	return TaskSummary{
		ID:            t.ID,
		Title:         t.Title,
		Difficulty:    t.Difficulty,
		TimeLimitMs:   t.TimeLimitMs,
		MemoryLimitMB: t.MemoryLimitMB,
		DuelWindowSec: t.DuelWindowSec,
	}
}
