package machine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeduel/internal/duel/machine"
	"codeduel/internal/duel/model"
	"codeduel/internal/judge/queue"
	appErr "codeduel/pkg/errors"
)

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []queue.Job
	err       error
	cancelled []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) CancelDuel(duelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, duelID)
	return 0
}

func (f *fakeQueue) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeQueue) job(t *testing.T, i int) queue.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.jobs) {
		t.Fatalf("expected job %d, have %d", i, len(f.jobs))
	}
	return f.jobs[i]
}

func (f *fakeQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeLanguages map[string]bool

func (f fakeLanguages) Supports(id string) bool { return f[id] }

type fakeRatings map[string]int

func (f fakeRatings) Ratings(ctx context.Context, ids ...string) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if r, ok := f[id]; ok {
			out[id] = r
		} else {
			out[id] = model.DefaultRating
		}
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.Outbound
}

func (r *recorder) Publish(ctx context.Context, ev model.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) finished() []*model.FinishedPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FinishedPayload
	for _, ev := range r.events {
		if ev.Type == model.EventDuelFinished {
			out = append(out, ev.Finished)
		}
	}
	return out
}

type fakeScheduler struct {
	mu   sync.Mutex
	last time.Time
}

func (f *fakeScheduler) Schedule(duelID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = at
}

func (f *fakeScheduler) next() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
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

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type harness struct {
	m     *machine.Machine
	queue *fakeQueue
	pub   *recorder
	sched *fakeScheduler
	clock *clock
}

var twoSum = &model.Task{
	ID:            "two-sum",
	Title:         "Two Sum",
	Difficulty:    model.DifficultyEasy,
	TimeLimitMs:   2000,
	MemoryLimitMB: 256,
	TestCases:     []model.TestCase{{ID: "1", Input: "1 2", ExpectedOutput: "3", IsPublic: true}},
}

func newHarness(t *testing.T, cfg machine.Config, private bool, ratings fakeRatings) *harness {
	t.Helper()
	h := &harness{
		queue: &fakeQueue{},
		pub:   &recorder{},
		sched: &fakeScheduler{},
		clock: &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	n := 0
	m, err := machine.New(cfg, machine.Deps{
		Queue:     h.queue,
		Languages: fakeLanguages{"python": true, "cpp": true},
		Ratings:   ratings,
		Publisher: h.pub,
		Scheduler: h.sched,
		Now:       h.clock.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("sub-%d", n)
		},
	}, machine.Params{ID: "duel-1", Task: twoSum, CreatorID: "alice", IsPrivate: private})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	m.Start()
	t.Cleanup(m.Stop)
	h.m = m
	return h
}

func (h *harness) do(t *testing.T, ev machine.Event) {
	t.Helper()
	if err := h.m.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("%s: %v", ev.Name(), err)
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.do(t, machine.Join{UserID: "bob"})
	if got := h.m.Snapshot().Status; got != model.DuelInProgress {
		t.Fatalf("expected in progress, got %s", got)
	}
}

func (h *harness) verdict(t *testing.T, job queue.Job, status model.SubmissionStatus) {
	t.Helper()
	sub := job.Submission.Clone()
	sub.Status = status
	h.do(t, machine.VerdictReady{Submission: sub})
}

func expectCode(t *testing.T, err error, code appErr.ErrorCode) {
	t.Helper()
	if !appErr.Is(err, code) {
		t.Fatalf("expected error code %d, got %v", code, err)
	}
}

func TestTwoSumAcceptedScenario(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	h.start(t)
	snap := h.m.Snapshot()
	if snap.StartTime == nil || snap.Deadline == nil {
		t.Fatalf("expected start time and deadline: %+v", snap)
	}
	if want := snap.StartTime.Add(1800 * time.Second); !snap.Deadline.Equal(want) {
		t.Fatalf("expected 1800s window, deadline %s", snap.Deadline)
	}

	h.do(t, machine.Submit{UserID: "alice", Code: "print(sum(map(int, input().split())))", Language: "python"})
	h.do(t, machine.Submit{UserID: "bob", Code: "print(3)", Language: "python"})
	aliceJob, bobJob := h.queue.job(t, 0), h.queue.job(t, 1)
	if aliceJob.Submission.Sequence != 1 || bobJob.Submission.Sequence != 2 {
		t.Fatalf("unexpected receipt order: %d, %d", aliceJob.Submission.Sequence, bobJob.Submission.Sequence)
	}

	h.verdict(t, aliceJob, model.StatusRunning)
	if h.m.Snapshot().Status != model.DuelInProgress {
		t.Fatalf("running verdict must not finish the duel")
	}
	h.verdict(t, aliceJob, model.StatusAccepted)

	snap = h.m.Snapshot()
	if snap.Status != model.DuelFinished || snap.WinnerID != "alice" || snap.FinishReason != model.ReasonAccepted {
		t.Fatalf("unexpected final state: %+v", snap)
	}
	if snap.Players[0].SubmissionTime == nil || !snap.Players[0].HasCompleted {
		t.Fatalf("expected alice completed with submission time: %+v", snap.Players[0])
	}
	if len(h.queue.cancelled) != 1 {
		t.Fatalf("expected judging jobs cancelled on finish")
	}

	h.verdict(t, bobJob, model.StatusAccepted)
	if got := h.m.Snapshot().WinnerID; got != "alice" {
		t.Fatalf("late verdict changed winner to %s", got)
	}
	err := h.m.Dispatch(context.Background(), machine.Submit{UserID: "bob", Code: "x", Language: "python"})
	expectCode(t, err, appErr.InvalidTransition)

	finished := h.pub.finished()
	if len(finished) != 1 {
		t.Fatalf("expected one DuelFinished, got %d", len(finished))
	}
	ups := finished[0].RatingUpdates
	if len(ups) != 2 || ups[0].UserID != "alice" || ups[0].NewRating != 1516 || ups[1].NewRating != 1484 {
		t.Fatalf("unexpected rating updates: %+v", ups)
	}
}

func TestPrivateDuelNeedsBothReady(t *testing.T) {
	h := newHarness(t, machine.Config{}, true, nil)
	h.do(t, machine.Join{UserID: "bob"})
	if h.m.Snapshot().Status != model.DuelWaiting {
		t.Fatalf("private duel started without ready")
	}
	h.do(t, machine.Ready{UserID: "alice"})
	if h.m.Snapshot().Status != model.DuelWaiting {
		t.Fatalf("started with one ready player")
	}
	h.do(t, machine.Ready{UserID: "bob"})
	if h.m.Snapshot().Status != model.DuelInProgress {
		t.Fatalf("expected start once both ready")
	}
	expectCode(t, h.m.Dispatch(context.Background(), machine.Ready{UserID: "bob"}), appErr.InvalidTransition)
}

func TestJoinRules(t *testing.T) {
	h := newHarness(t, machine.Config{}, true, nil)
	h.do(t, machine.Join{UserID: "bob"})
	h.do(t, machine.Join{UserID: "bob"})
	if n := len(h.m.Snapshot().Players); n != 2 {
		t.Fatalf("rejoin added a player: %d", n)
	}
	expectCode(t, h.m.Dispatch(context.Background(), machine.Join{UserID: "carol"}), appErr.DuelFull)
	if n := len(h.m.Snapshot().Players); n != 2 {
		t.Fatalf("duel has %d players", n)
	}

	h.do(t, machine.Ready{UserID: "alice"})
	h.do(t, machine.Ready{UserID: "bob"})
	expectCode(t, h.m.Dispatch(context.Background(), machine.Join{UserID: "carol"}), appErr.InvalidTransition)
	expectCode(t, h.m.Dispatch(context.Background(), machine.Ready{UserID: "carol"}), appErr.NotParticipant)
}

func TestSecondSubmitRejected(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	h.start(t)
	h.do(t, machine.Submit{UserID: "alice", Code: "a", Language: "python"})
	err := h.m.Dispatch(context.Background(), machine.Submit{UserID: "alice", Code: "b", Language: "python"})
	expectCode(t, err, appErr.AlreadySubmitted)
	if h.queue.count() != 1 {
		t.Fatalf("expected exactly one active submission, queued %d", h.queue.count())
	}

	h.verdict(t, h.queue.job(t, 0), model.StatusWrongAnswer)
	err = h.m.Dispatch(context.Background(), machine.Submit{UserID: "alice", Code: "c", Language: "python"})
	expectCode(t, err, appErr.AlreadySubmitted)
}

func TestResubmitAfterFailureWhenAllowed(t *testing.T) {
	h := newHarness(t, machine.Config{AllowResubmit: true}, false, nil)
	h.start(t)
	h.do(t, machine.Submit{UserID: "alice", Code: "a", Language: "python"})
	expectCode(t, h.m.Dispatch(context.Background(), machine.Submit{UserID: "alice", Code: "b", Language: "python"}), appErr.AlreadySubmitted)
	h.verdict(t, h.queue.job(t, 0), model.StatusWrongAnswer)
	h.do(t, machine.Submit{UserID: "alice", Code: "b", Language: "python"})
	if h.queue.count() != 2 {
		t.Fatalf("expected resubmission queued")
	}
	h.verdict(t, h.queue.job(t, 1), model.StatusAccepted)
	if snap := h.m.Snapshot(); snap.WinnerID != "alice" {
		t.Fatalf("expected alice to win on resubmission, got %+v", snap)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, machine.Config{MaxCodeBytes: 8}, false, nil)
	ctx := context.Background()
	expectCode(t, h.m.Dispatch(ctx, machine.Submit{UserID: "alice", Code: "a", Language: "python"}), appErr.InvalidTransition)
	h.start(t)
	expectCode(t, h.m.Dispatch(ctx, machine.Submit{UserID: "carol", Code: "a", Language: "python"}), appErr.NotParticipant)
	expectCode(t, h.m.Dispatch(ctx, machine.Submit{UserID: "alice", Code: "  ", Language: "python"}), appErr.ValidationFailed)
	expectCode(t, h.m.Dispatch(ctx, machine.Submit{UserID: "alice", Code: "a", Language: "cobol"}), appErr.LanguageNotSupported)
	expectCode(t, h.m.Dispatch(ctx, machine.Submit{UserID: "alice", Code: "123456789", Language: "python"}), appErr.CodeTooLarge)
	if h.queue.count() != 0 || h.m.Snapshot().Players[0].HasSubmitted {
		t.Fatalf("rejected submit mutated state")
	}
}

func TestQueueFullLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	h.start(t)
	h.queue.setErr(appErr.New(appErr.JudgeQueueFull))
	err := h.m.Dispatch(context.Background(), machine.Submit{UserID: "alice", Code: "a", Language: "python"})
	expectCode(t, err, appErr.JudgeQueueFull)
	if h.m.Snapshot().Players[0].HasSubmitted {
		t.Fatalf("busy rejection marked the player as submitted")
	}
	h.queue.setErr(nil)
	h.do(t, machine.Submit{UserID: "alice", Code: "a", Language: "python"})
	if seq := h.queue.job(t, 0).Submission.Sequence; seq != 1 {
		t.Fatalf("rejected submit consumed a sequence number: %d", seq)
	}
}

func TestLaterAcceptedWaitsForEarlierPending(t *testing.T) {
	cases := []struct {
		name        string
		aliceStatus model.SubmissionStatus
		wantWinner  string
	}{
		{name: "earlier fails", aliceStatus: model.StatusWrongAnswer, wantWinner: "bob"},
		{name: "earlier accepted", aliceStatus: model.StatusAccepted, wantWinner: "alice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, machine.Config{}, false, nil)
			h.start(t)
			h.do(t, machine.Submit{UserID: "alice", Code: "a", Language: "python"})
			h.do(t, machine.Submit{UserID: "bob", Code: "b", Language: "python"})

			h.verdict(t, h.queue.job(t, 1), model.StatusAccepted)
			if snap := h.m.Snapshot(); snap.Status != model.DuelInProgress {
				t.Fatalf("finished before earlier submission was judged: %+v", snap)
			}
			h.verdict(t, h.queue.job(t, 0), tc.aliceStatus)
			snap := h.m.Snapshot()
			if snap.Status != model.DuelFinished || snap.WinnerID != tc.wantWinner {
				t.Fatalf("expected %s to win, got %+v", tc.wantWinner, snap)
			}
		})
	}
}

func TestBothFailIsDraw(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	h.start(t)
	h.do(t, machine.Submit{UserID: "alice", Code: "a", Language: "python"})
	h.do(t, machine.Submit{UserID: "bob", Code: "b", Language: "cpp"})
	h.verdict(t, h.queue.job(t, 0), model.StatusTimeLimitExceeded)
	if h.m.Snapshot().Status != model.DuelInProgress {
		t.Fatalf("finished with one player still judging")
	}
	h.verdict(t, h.queue.job(t, 1), model.StatusCompilationError)
	snap := h.m.Snapshot()
	if snap.Status != model.DuelFinished || snap.WinnerID != "" || snap.FinishReason != model.ReasonAllCompleted {
		t.Fatalf("expected draw, got %+v", snap)
	}
}

func TestDeadlineWithoutAcceptedIsDraw(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, fakeRatings{"alice": 1600, "bob": 1400})
	h.start(t)
	deadline := *h.m.Snapshot().Deadline
	if !h.sched.next().Equal(deadline) {
		t.Fatalf("expected tick scheduled at deadline, got %s", h.sched.next())
	}

	h.do(t, machine.Tick{Now: deadline.Add(-time.Second)})
	if h.m.Snapshot().Status != model.DuelInProgress {
		t.Fatalf("finished before the deadline")
	}
	h.clock.Advance(1800 * time.Second)
	h.do(t, machine.Tick{Now: deadline})

	snap := h.m.Snapshot()
	if snap.Status != model.DuelFinished || snap.WinnerID != "" || snap.FinishReason != model.ReasonTimeout {
		t.Fatalf("expected timeout draw, got %+v", snap)
	}
	ups := h.pub.finished()[0].RatingUpdates
	if !(ups[0].NewRating < 1600 && ups[1].NewRating > 1400) {
		t.Fatalf("expected ratings to move toward each other: %+v", ups)
	}
	if !h.sched.next().IsZero() {
		t.Fatalf("expected schedule cleared after finish")
	}
}

func TestDeadlineAwardsProvisionalWinner(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	h.start(t)
	h.do(t, machine.Submit{UserID: "alice", Code: "a", Language: "python"})
	h.do(t, machine.Submit{UserID: "bob", Code: "b", Language: "python"})
	h.verdict(t, h.queue.job(t, 1), model.StatusAccepted)
	h.do(t, machine.Tick{Now: *h.m.Snapshot().Deadline})
	if snap := h.m.Snapshot(); snap.WinnerID != "bob" || snap.FinishReason != model.ReasonTimeout {
		t.Fatalf("expected bob to win at deadline, got %+v", snap)
	}
}

func TestDisconnectForfeit(t *testing.T) {
	h := newHarness(t, machine.Config{GraceWindow: 30 * time.Second}, false, nil)
	h.start(t)
	h.do(t, machine.Disconnect{UserID: "bob"})
	disconnectedAt := h.clock.Now()
	if want := disconnectedAt.Add(30 * time.Second); !h.sched.next().Equal(want) {
		t.Fatalf("expected grace expiry scheduled at %s, got %s", want, h.sched.next())
	}
	h.do(t, machine.Tick{Now: disconnectedAt.Add(29 * time.Second)})
	if h.m.Snapshot().Status != model.DuelInProgress {
		t.Fatalf("forfeit before grace expired")
	}
	h.do(t, machine.Tick{Now: disconnectedAt.Add(30 * time.Second)})
	snap := h.m.Snapshot()
	if snap.Status != model.DuelFinished || snap.WinnerID != "alice" || snap.FinishReason != model.ReasonForfeit {
		t.Fatalf("expected alice to win by forfeit, got %+v", snap)
	}
}

func TestRejoinAfterFinishLeavesDuelUntouched(t *testing.T) {
	h := newHarness(t, machine.Config{GraceWindow: 30 * time.Second}, false, nil)
	h.start(t)
	h.do(t, machine.Disconnect{UserID: "bob"})
	h.do(t, machine.Tick{Now: h.clock.Now().Add(30 * time.Second)})
	before := h.m.Snapshot()
	if before.Status != model.DuelFinished {
		t.Fatalf("expected finished duel, got %s", before.Status)
	}
	events := h.pub.count()

	h.do(t, machine.Join{UserID: "bob"})
	after := h.m.Snapshot()
	bob := after.Players[1]
	if bob.Connected || bob.DisconnectedAt == nil || !bob.LastSeenAt.Equal(before.Players[1].LastSeenAt) {
		t.Fatalf("rejoin changed a finished duel: %+v", bob)
	}
	if after.Status != model.DuelFinished || after.WinnerID != "alice" {
		t.Fatalf("unexpected final state: %+v", after)
	}
	if got := h.pub.count(); got != events {
		t.Fatalf("rejoin published %d events", got-events)
	}
}

func TestReconnectWithinGrace(t *testing.T) {
	h := newHarness(t, machine.Config{GraceWindow: 30 * time.Second}, false, nil)
	h.start(t)
	h.do(t, machine.Disconnect{UserID: "bob"})
	start := h.clock.Now()
	h.clock.Advance(10 * time.Second)
	before := len(h.pub.events)
	h.do(t, machine.Reconnect{UserID: "bob"})
	if len(h.pub.events) <= before {
		t.Fatalf("reconnect did not resend state")
	}
	h.do(t, machine.Tick{Now: start.Add(time.Minute)})
	snap := h.m.Snapshot()
	if snap.Status != model.DuelInProgress || !snap.Players[1].Connected {
		t.Fatalf("expected duel to continue, got %+v", snap)
	}
}

func TestBothDisconnectedIsDraw(t *testing.T) {
	h := newHarness(t, machine.Config{GraceWindow: 30 * time.Second}, false, nil)
	h.start(t)
	h.do(t, machine.Disconnect{UserID: "alice"})
	h.do(t, machine.Disconnect{UserID: "bob"})
	h.do(t, machine.Tick{Now: h.clock.Now().Add(time.Minute)})
	snap := h.m.Snapshot()
	if snap.Status != model.DuelFinished || snap.WinnerID != "" || snap.FinishReason != model.ReasonDisconnected {
		t.Fatalf("expected draw, got %+v", snap)
	}
}

func TestDisconnectWhileWaitingCancels(t *testing.T) {
	h := newHarness(t, machine.Config{}, true, nil)
	h.do(t, machine.Join{UserID: "bob"})
	h.do(t, machine.Disconnect{UserID: "bob"})
	snap := h.m.Snapshot()
	if snap.Status != model.DuelCancelled || snap.EndTime == nil {
		t.Fatalf("expected cancelled duel, got %+v", snap)
	}
	finished := h.pub.finished()
	if len(finished) != 1 || len(finished[0].RatingUpdates) != 0 {
		t.Fatalf("cancelled duel must not move ratings: %+v", finished)
	}
	h.do(t, machine.Disconnect{UserID: "alice"})
	if h.m.Snapshot().Status != model.DuelCancelled {
		t.Fatalf("terminal state changed")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	snap := h.m.Snapshot()
	h.start(t)
	if snap.Status != model.DuelWaiting || len(snap.Players) != 1 {
		t.Fatalf("published snapshot was mutated: %+v", snap)
	}
}

func TestDispatchAfterStop(t *testing.T) {
	h := newHarness(t, machine.Config{}, false, nil)
	h.m.Stop()
	err := h.m.Dispatch(context.Background(), machine.Join{UserID: "bob"})
	expectCode(t, err, appErr.DuelNotFound)
	h.m.Post(machine.Tick{})
}

func TestFaultedDuelStartsCancelled(t *testing.T) {
	m, err := machine.New(machine.Config{}, machine.Deps{}, machine.Params{
		ID:        "duel-x",
		CreatorID: "alice",
		Fault:     errors.New("task lookup failed"),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m.Start()
	defer m.Stop()
	snap := m.Snapshot()
	if snap.Status != model.DuelCancelled || snap.FinishReason != model.ReasonFault {
		t.Fatalf("unexpected faulted duel: %+v", snap)
	}
	err = m.Dispatch(context.Background(), machine.Join{UserID: "bob"})
	expectCode(t, err, appErr.InvalidTransition)
}
