package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a local task catalog.
type File struct {
	Tasks []*model.Task `yaml:"tasks"`
}

// Local serves tasks held in memory.
type Local struct {
	tasks map[string]*model.Task
}

// NewLocal normalizes tasks and indexes them by id.
func NewLocal(tasks []*model.Task) (*Local, error) {
	out := &Local{tasks: make(map[string]*model.Task, len(tasks))}
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := task.Normalize(); err != nil {
			return nil, err
		}
		if _, dup := out.tasks[task.ID]; dup {
			return nil, appErr.New(appErr.TaskInvalid).WithMessagef("task %s defined twice", task.ID)
		}
		out.tasks[task.ID] = task
	}
	return out, nil
}

// LoadFile reads a YAML task catalog.
func LoadFile(path string) (*Local, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task catalog failed: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task catalog failed: %w", err)
	}
	return NewLocal(f.Tasks)
}

func (l *Local) Get(ctx context.Context, taskID string) (*model.Task, error) {
	task, ok := l.tasks[taskID]
	if !ok {
		return nil, appErr.New(appErr.TaskNotFound).WithDetail("task_id", taskID)
	}
	return task, nil
}

func (l *Local) IDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(l.tasks))
	for id := range l.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Tasks returns every task, ordered by id.
func (l *Local) Tasks() []*model.Task {
	ids, _ := l.IDs(context.Background())
	out := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.tasks[id])
	}
	return out
}
