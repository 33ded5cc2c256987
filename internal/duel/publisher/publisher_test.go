package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"codeduel/internal/common/mq"
	"codeduel/internal/duel/model"
	"codeduel/internal/duel/publisher"
)

type published struct {
	topic string
	msg   *mq.Message
}

type fakeProducer struct {
	mu       sync.Mutex
	out      []published
	failures int
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, msg *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.out = append(f.out, published{topic: topic, msg: msg})
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, topic string, msgs []*mq.Message) error {
	for _, m := range msgs {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProducer) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

func finishedDuel() *model.Duel {
	end := time.Date(2026, 2, 2, 10, 5, 0, 0, time.UTC)
	return &model.Duel{
		ID:           "d1",
		Status:       model.DuelFinished,
		Task:         &model.Task{ID: "two-sum"},
		WinnerID:     "alice",
		FinishReason: model.ReasonAccepted,
		EndTime:      &end,
		Players: []model.DuelPlayer{
			{UserID: "alice", SubmissionID: "s1", Verdict: model.StatusAccepted},
			{UserID: "bob", SubmissionID: "s2", Verdict: model.StatusWrongAnswer},
		},
	}
}

func TestRecordsPublishesTerminalEventsOnly(t *testing.T) {
	prod := &fakeProducer{}
	rec, err := publisher.NewRecords(publisher.RecordsConfig{}, prod)
	if err != nil {
		t.Fatalf("new records: %v", err)
	}
	rec.Start()
	ctx := context.Background()

	sub := &model.Submission{ID: "s1", DuelID: "d1", UserID: "alice", Code: "print(3)", Language: "python", Status: model.StatusRunning}
	rec.Publish(ctx, model.VerdictEvent(sub.Clone()))
	sub.Status = model.StatusAccepted
	rec.Publish(ctx, model.VerdictEvent(sub.Clone()))
	rec.Publish(ctx, model.StateChanged(finishedDuel()))
	rec.Publish(ctx, model.FinishedEvent(finishedDuel(), []model.RatingUpdate{
		{UserID: "alice", OldRating: 1500, NewRating: 1516, DuelID: "d1"},
		{UserID: "bob", OldRating: 1500, NewRating: 1484, DuelID: "d1"},
	}))
	rec.Stop()

	out := prod.messages()
	if len(out) != 2 {
		t.Fatalf("expected two records, got %d", len(out))
	}
	if out[0].topic != publisher.TopicSubmissionRecords || out[0].msg.Key != "d1" || out[0].msg.ID != "s1" {
		t.Fatalf("unexpected submission record: %+v", out[0])
	}
	var stored model.Submission
	if err := json.Unmarshal(out[0].msg.Body, &stored); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if stored.Code != "print(3)" || stored.Status != model.StatusAccepted {
		t.Fatalf("submission record must carry code and verdict: %+v", stored)
	}

	if out[1].topic != publisher.TopicDuelRecords || out[1].msg.Key != "d1" {
		t.Fatalf("unexpected duel record: %+v", out[1])
	}
	var duel model.DuelRecord
	if err := json.Unmarshal(out[1].msg.Body, &duel); err != nil {
		t.Fatalf("decode duel record: %v", err)
	}
	if duel.TaskID != "two-sum" || duel.WinnerID != "alice" || len(duel.RatingUpdates) != 2 || duel.Outcome("bob") != "loss" {
		t.Fatalf("unexpected duel record: %+v", duel)
	}
}

func TestRecordsRetriesPublish(t *testing.T) {
	prod := &fakeProducer{failures: 2}
	rec, err := publisher.NewRecords(publisher.RecordsConfig{PublishRetries: 3}, prod)
	if err != nil {
		t.Fatalf("new records: %v", err)
	}
	rec.Start()
	rec.Publish(context.Background(), model.FinishedEvent(finishedDuel(), nil))
	rec.Stop()
	if n := len(prod.messages()); n != 1 {
		t.Fatalf("expected record delivered after retries, got %d", n)
	}
}

type collect struct {
	mu     sync.Mutex
	events []model.Outbound
}

func (c *collect) Publish(ctx context.Context, ev model.Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

type panicky struct{}

func (panicky) Publish(ctx context.Context, ev model.Outbound) { panic("boom") }

func TestFanoutSurvivesFailingSink(t *testing.T) {
	a, b := &collect{}, &collect{}
	f := publisher.Fanout{a, panicky{}, b}
	f.Publish(context.Background(), model.StateChanged(finishedDuel()))
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event: %d, %d", len(a.events), len(b.events))
	}
}
