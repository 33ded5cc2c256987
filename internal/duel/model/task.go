package model

import (
	"time"

	appErr "codeduel/pkg/errors"
)

// Difficulty grades a task.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

const (
	DefaultTimeLimitMs   int64 = 2000
	DefaultMemoryLimitMB int64 = 256
)

// TestCase is one input/expected-output pair of a task.
type TestCase struct {
	ID             string `json:"id" yaml:"id"`
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expected_output" yaml:"expectedOutput"`
	IsPublic       bool   `json:"is_public" yaml:"isPublic"`
}

// Task is immutable once a duel references it; duels share it by pointer.
type Task struct {
	ID            string     `json:"id" yaml:"id"`
	Title         string     `json:"title" yaml:"title"`
	Description   string     `json:"description" yaml:"description"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
	TimeLimitMs   int64      `json:"time_limit_ms" yaml:"timeLimitMs"`
	MemoryLimitMB int64      `json:"memory_limit_mb" yaml:"memoryLimitMB"`
	TestCases     []TestCase `json:"test_cases,omitempty" yaml:"testCases"`
	// DuelWindowSec overrides the service duel window when positive.
	DuelWindowSec int64 `json:"duel_window_sec,omitempty" yaml:"duelWindowSec"`
	// FullSampleEvaluation runs every public case even after a failure.
	FullSampleEvaluation bool `json:"full_sample_evaluation,omitempty" yaml:"fullSampleEvaluation"`
}

// Normalize fills defaults and validates the task.
func (t *Task) Normalize() error {
	if t.ID == "" {
		return appErr.ValidationError("task.id", "required")
	}
	if len(t.TestCases) == 0 {
		return appErr.New(appErr.TaskInvalid).WithMessagef("task %s has no test cases", t.ID)
	}
	switch t.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	case "":
		t.Difficulty = DifficultyEasy
	default:
		return appErr.New(appErr.TaskInvalid).WithMessagef("task %s has unknown difficulty %q", t.ID, t.Difficulty)
	}
	if t.TimeLimitMs <= 0 {
		t.TimeLimitMs = DefaultTimeLimitMs
	}
	if t.MemoryLimitMB <= 0 {
		t.MemoryLimitMB = DefaultMemoryLimitMB
	}
	seen := make(map[string]struct{}, len(t.TestCases))
	for i := range t.TestCases {
		tc := &t.TestCases[i]
		if tc.ID == "" {
			return appErr.New(appErr.TaskInvalid).WithMessagef("task %s test case %d has no id", t.ID, i)
		}
		if _, dup := seen[tc.ID]; dup {
			return appErr.New(appErr.TaskInvalid).WithMessagef("task %s repeats test case id %s", t.ID, tc.ID)
		}
		seen[tc.ID] = struct{}{}
	}
	return nil
}

// Window returns the duel window for this task, falling back to def.
func (t *Task) Window(def time.Duration) time.Duration {
	if t != nil && t.DuelWindowSec > 0 {
		return time.Duration(t.DuelWindowSec) * time.Second
	}
	return def
}

// Public returns the task without hidden test cases, as shown to players.
func (t *Task) Public() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.TestCases = nil
	for _, tc := range t.TestCases {
		if tc.IsPublic {
			out.TestCases = append(out.TestCases, tc)
		}
	}
	return &out
}
