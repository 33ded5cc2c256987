// Package catalog resolves task ids to normalized tasks.
package catalog

import (
	"context"
	"sort"

	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
)

// Catalog returns immutable tasks. Missing ids fail with TaskNotFound.
type Catalog interface {
	Get(ctx context.Context, taskID string) (*model.Task, error)
	IDs(ctx context.Context) ([]string, error)
}

// Chain asks each catalog in order and returns the first hit.
type Chain []Catalog

func (c Chain) Get(ctx context.Context, taskID string) (*model.Task, error) {
	var lastErr error = appErr.New(appErr.TaskNotFound).WithDetail("task_id", taskID)
	for _, cat := range c {
		task, err := cat.Get(ctx, taskID)
		if err == nil {
			return task, nil
		}
		if !appErr.Is(err, appErr.TaskNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c Chain) IDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, cat := range c {
		ids, err := cat.IDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
