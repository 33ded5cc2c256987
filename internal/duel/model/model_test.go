package model_test

import (
	"testing"
	"time"

	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
)

func TestWorseFollowsPrecedence(t *testing.T) {
	t.Parallel()
	order := []model.SubmissionStatus{
		model.StatusAccepted,
		model.StatusWrongAnswer,
		model.StatusMemoryLimitExceeded,
		model.StatusTimeLimitExceeded,
		model.StatusRuntimeError,
		model.StatusCompilationError,
	}
	for i := range order {
		for j := range order {
			want := order[i]
			if j > i {
				want = order[j]
			}
			if got := model.Worse(order[i], order[j]); got != want {
				t.Fatalf("Worse(%s, %s) = %s, want %s", order[i], order[j], got, want)
			}
		}
	}
}

func TestTaskNormalizeAppliesDefaults(t *testing.T) {
	t.Parallel()
	task := &model.Task{ID: "two-sum", TestCases: []model.TestCase{{ID: "1", IsPublic: true}}}
	if err := task.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if task.TimeLimitMs != 2000 || task.MemoryLimitMB != 256 || task.Difficulty != model.DifficultyEasy {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if got := task.Window(30 * time.Minute); got != 30*time.Minute {
		t.Fatalf("expected default window, got %s", got)
	}
	task.DuelWindowSec = 60
	if got := task.Window(30 * time.Minute); got != time.Minute {
		t.Fatalf("expected task window, got %s", got)
	}
}

func TestTaskNormalizeRejectsBrokenTasks(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		task model.Task
	}{
		{name: "no cases", task: model.Task{ID: "a"}},
		{name: "duplicate ids", task: model.Task{ID: "a", TestCases: []model.TestCase{{ID: "1"}, {ID: "1"}}}},
		{name: "bad difficulty", task: model.Task{ID: "a", Difficulty: "insane", TestCases: []model.TestCase{{ID: "1"}}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.task.Normalize(); !appErr.Is(err, appErr.TaskInvalid) {
				t.Fatalf("expected task invalid, got %v", err)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	start := time.Unix(100, 0)
	d := &model.Duel{
		ID:        "d1",
		Players:   []model.DuelPlayer{{UserID: "a"}, {UserID: "b"}},
		StartTime: &start,
	}
	c := d.Clone()
	c.Players[0].IsReady = true
	*c.StartTime = time.Unix(200, 0)
	if d.Players[0].IsReady || !d.StartTime.Equal(time.Unix(100, 0)) {
		t.Fatalf("clone shares state with original")
	}
}

func TestForClientHidesPrivateCases(t *testing.T) {
	t.Parallel()
	task := &model.Task{ID: "t", TestCases: []model.TestCase{{ID: "1", IsPublic: true}, {ID: "2"}}}
	d := &model.Duel{ID: "d", Task: task, Players: []model.DuelPlayer{{UserID: "a"}}}
	view := d.ForClient()
	if len(view.Task.TestCases) != 1 || view.Task.TestCases[0].ID != "1" {
		t.Fatalf("expected only public case, got %+v", view.Task.TestCases)
	}
	if len(task.TestCases) != 2 {
		t.Fatalf("original task mutated")
	}
}

func TestFinishedEventFeedsDuelRecord(t *testing.T) {
	t.Parallel()
	d := &model.Duel{
		ID:           "d1",
		Status:       model.DuelFinished,
		Task:         &model.Task{ID: "two-sum"},
		Players:      []model.DuelPlayer{{UserID: "a", Verdict: model.StatusAccepted}, {UserID: "b"}},
		WinnerID:     "a",
		FinishReason: model.ReasonAccepted,
	}
	ev := model.FinishedEvent(d, nil)
	if ev.Type != model.EventDuelFinished || ev.Finished == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Finished.RatingUpdates == nil || ev.Finished.WinnerID != "a" {
		t.Fatalf("unexpected payload: %+v", ev.Finished)
	}

	rec := model.NewDuelRecord(ev.Finished)
	if rec.TaskID != "two-sum" || len(rec.Players) != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Outcome("a") != "win" || rec.Outcome("b") != "loss" {
		t.Fatalf("unexpected outcomes: %s %s", rec.Outcome("a"), rec.Outcome("b"))
	}
}
