package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeduel/internal/duel/machine"
	"codeduel/internal/duel/model"
	"codeduel/internal/duel/registry"
	"codeduel/internal/judge/queue"
	appErr "codeduel/pkg/errors"
)

type fakeCatalog struct {
	calls atomic.Int32
	delay time.Duration
	tasks map[string]*model.Task
}

func (f *fakeCatalog) Get(ctx context.Context, taskID string) (*model.Task, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, errors.New("object store unreachable")
	}
	return task, nil
}

type nopQueue struct{}

func (nopQueue) Enqueue(ctx context.Context, job queue.Job) error { return nil }
func (nopQueue) CancelDuel(duelID string) int                     { return 0 }

type anyLanguage struct{}

func (anyLanguage) Supports(string) bool { return true }

type recorder struct {
	mu     sync.Mutex
	events []model.Outbound
}

func (r *recorder) Publish(ctx context.Context, ev model.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(duelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.DuelID == duelID {
			n++
		}
	}
	return n
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleTask() *model.Task {
	return &model.Task{
		ID:            "two-sum",
		Title:         "Two Sum",
		Difficulty:    model.DifficultyEasy,
		TimeLimitMs:   2000,
		MemoryLimitMB: 256,
		TestCases:     []model.TestCase{{ID: "1", Input: "1 2", ExpectedOutput: "3", IsPublic: true}},
	}
}

func newRegistry(t *testing.T, cfg registry.Config, cat *fakeCatalog, pub *recorder, now func() time.Time) *registry.Registry {
	t.Helper()
	if cat == nil {
		cat = &fakeCatalog{tasks: map[string]*model.Task{"two-sum": sampleTask()}}
	}
	r, err := registry.New(cfg, registry.Deps{
		Catalog:   cat,
		Queue:     nopQueue{},
		Languages: anyLanguage{},
		Publisher: pub,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func TestOpenCreatesOneMachinePerID(t *testing.T) {
	cat := &fakeCatalog{delay: 20 * time.Millisecond, tasks: map[string]*model.Task{"two-sum": sampleTask()}}
	r := newRegistry(t, registry.Config{}, cat, &recorder{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Open(context.Background(), registry.OpenRequest{DuelID: "d1", TaskID: "two-sum", CreatorID: "alice"}); err != nil {
				t.Errorf("open: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := cat.calls.Load(); got != 1 {
		t.Fatalf("expected one task lookup, got %d", got)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one duel, got %d", r.Len())
	}
}

func TestOpenGeneratesID(t *testing.T) {
	r := newRegistry(t, registry.Config{}, nil, &recorder{}, nil)
	snap, err := r.Open(context.Background(), registry.OpenRequest{TaskID: "two-sum", CreatorID: "alice"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if snap.ID == "" || snap.Status != model.DuelWaiting || snap.InviteCode != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := r.Open(context.Background(), registry.OpenRequest{TaskID: "two-sum"}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTaskLookupFailureCancelsOnlyThatDuel(t *testing.T) {
	pub := &recorder{}
	r := newRegistry(t, registry.Config{}, nil, pub, nil)

	snap, err := r.Open(context.Background(), registry.OpenRequest{DuelID: "broken", TaskID: "missing", CreatorID: "alice"})
	if !appErr.Is(err, appErr.DuelCreateFailed) {
		t.Fatalf("expected duel create failure, got %v", err)
	}
	if snap == nil || snap.Status != model.DuelCancelled || snap.FinishReason != model.ReasonFault {
		t.Fatalf("expected cancelled duel, got %+v", snap)
	}
	if pub.count("broken") == 0 {
		t.Fatalf("expected a state change for the faulted duel")
	}

	if _, err := r.Open(context.Background(), registry.OpenRequest{DuelID: "fine", TaskID: "two-sum", CreatorID: "bob"}); err != nil {
		t.Fatalf("other duels must still open: %v", err)
	}
}

func TestJoinByInvite(t *testing.T) {
	r := newRegistry(t, registry.Config{}, nil, &recorder{}, nil)
	ctx := context.Background()
	snap, err := r.Open(ctx, registry.OpenRequest{DuelID: "p1", TaskID: "two-sum", CreatorID: "alice", IsPrivate: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(snap.InviteCode) != 8 {
		t.Fatalf("expected invite code, got %q", snap.InviteCode)
	}

	joined, err := r.JoinByInvite(ctx, snap.InviteCode, "bob")
	if err != nil {
		t.Fatalf("join by invite: %v", err)
	}
	if len(joined.Players) != 2 || joined.Status != model.DuelWaiting {
		t.Fatalf("unexpected duel after invite: %+v", joined)
	}
	if _, err := r.JoinByInvite(ctx, snap.InviteCode, "carol"); !appErr.Is(err, appErr.DuelFull) {
		t.Fatalf("expected duel full, got %v", err)
	}
	if _, err := r.JoinByInvite(ctx, "NOPE0000", "carol"); !appErr.Is(err, appErr.InviteNotFound) {
		t.Fatalf("expected invite not found, got %v", err)
	}
}

func TestDispatchUnknownDuel(t *testing.T) {
	r := newRegistry(t, registry.Config{}, nil, &recorder{}, nil)
	err := r.Dispatch(context.Background(), "ghost", machine.Join{UserID: "alice"})
	if !appErr.Is(err, appErr.DuelNotFound) {
		t.Fatalf("expected duel not found, got %v", err)
	}
	if _, err := r.Get("ghost"); !appErr.Is(err, appErr.DuelNotFound) {
		t.Fatalf("expected duel not found, got %v", err)
	}
}

func TestSweepEvictsIdleTerminalDuels(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := newRegistry(t, registry.Config{EvictAfter: 10 * time.Minute}, nil, &recorder{}, clk.Now)
	ctx := context.Background()

	done, err := r.Open(ctx, registry.OpenRequest{DuelID: "done", TaskID: "two-sum", CreatorID: "alice", IsPrivate: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := r.Open(ctx, registry.OpenRequest{DuelID: "waiting", TaskID: "two-sum", CreatorID: "carol"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Dispatch(ctx, "done", machine.Disconnect{UserID: "alice"}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	clk.Advance(5 * time.Minute)
	if n := r.Sweep(clk.Now()); n != 0 {
		t.Fatalf("evicted %d duels before they were idle long enough", n)
	}
	clk.Advance(6 * time.Minute)
	if n := r.Sweep(clk.Now()); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, err := r.Get("done"); !appErr.Is(err, appErr.DuelNotFound) {
		t.Fatalf("expected evicted duel to be gone, got %v", err)
	}
	if _, err := r.JoinByInvite(ctx, done.InviteCode, "bob"); !appErr.Is(err, appErr.InviteNotFound) {
		t.Fatalf("expected invite removed with its duel, got %v", err)
	}
	if _, err := r.Get("waiting"); err != nil {
		t.Fatalf("live duel evicted: %v", err)
	}
}

func TestGetCountsAsActivity(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := newRegistry(t, registry.Config{EvictAfter: 10 * time.Minute}, nil, &recorder{}, clk.Now)
	ctx := context.Background()

	if _, err := r.Open(ctx, registry.OpenRequest{DuelID: "polled", TaskID: "two-sum", CreatorID: "alice"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Dispatch(ctx, "polled", machine.Disconnect{UserID: "alice"}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	clk.Advance(8 * time.Minute)
	if _, err := r.Get("polled"); err != nil {
		t.Fatalf("get: %v", err)
	}
	clk.Advance(8 * time.Minute)
	if n := r.Sweep(clk.Now()); n != 0 {
		t.Fatalf("evicted a duel polled %s ago", 8*time.Minute)
	}
	clk.Advance(3 * time.Minute)
	if n := r.Sweep(clk.Now()); n != 1 {
		t.Fatalf("expected eviction once idle again, got %d", n)
	}
}

func TestSchedulerDeliversDeadlineTick(t *testing.T) {
	cfg := registry.Config{Duel: machine.Config{DuelWindow: 50 * time.Millisecond}}
	r := newRegistry(t, cfg, nil, &recorder{}, nil)
	r.Start()
	ctx := context.Background()
	if _, err := r.Open(ctx, registry.OpenRequest{DuelID: "d1", TaskID: "two-sum", CreatorID: "alice"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Dispatch(ctx, "d1", machine.Join{UserID: "bob"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := r.Get("d1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.Status == model.DuelFinished {
			if snap.FinishReason != model.ReasonTimeout || snap.WinnerID != "" {
				t.Fatalf("expected timeout draw, got %+v", snap)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("duel did not time out")
}
