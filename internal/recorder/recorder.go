// Package recorder consumes duel and submission record topics into the durable store.
package recorder

import (
	"context"
	"encoding/json"
	"time"

	"codeduel/internal/common/mq"
	"codeduel/internal/duel/model"
	"codeduel/internal/duel/publisher"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Store is the durable side of the recorder.
type Store interface {
	SaveDuel(ctx context.Context, rec model.DuelRecord) (bool, error)
	SaveSubmission(ctx context.Context, sub *model.Submission) error
	PlayerRating(ctx context.Context, userID string) (PlayerRating, error)
}

// RatingCache is refreshed after a duel's ratings are stored.
type RatingCache interface {
	Apply(ctx context.Context, updates []model.RatingUpdate, winnerID string) error
	SetRating(ctx context.Context, userID string, rating int) error
}

// Config selects the consumed topics and consumer behaviour.
type Config struct {
	DuelTopic       string        `yaml:"duelTopic"`
	SubmissionTopic string        `yaml:"submissionTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

func (c *Config) applyDefaults() {
	if c.DuelTopic == "" {
		c.DuelTopic = publisher.TopicDuelRecords
	}
	if c.SubmissionTopic == "" {
		c.SubmissionTopic = publisher.TopicSubmissionRecords
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "codeduel-recorder"
	}
}

// Recorder turns record messages into store writes.
type Recorder struct {
	cfg   Config
	store Store
	cache RatingCache
}

// New creates a recorder. cache may be nil.
func New(cfg Config, store Store, cache RatingCache) (*Recorder, error) {
	if store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("store is required")
	}
	cfg.applyDefaults()
	return &Recorder{cfg: cfg, store: store, cache: cache}, nil
}

// Subscribe registers both record handlers on consumer.
func (r *Recorder) Subscribe(ctx context.Context, consumer mq.Consumer) error {
	opts := mq.SubscribeOptions{
		ConsumerGroup:   r.cfg.ConsumerGroup,
		Concurrency:     r.cfg.Concurrency,
		MaxRetries:      r.cfg.MaxRetries,
		RetryDelay:      r.cfg.RetryDelay,
		DeadLetterTopic: r.cfg.DeadLetterTopic,
	}
	if err := consumer.Subscribe(ctx, r.cfg.DuelTopic, r.HandleDuelRecord, &opts); err != nil {
		return err
	}
	return consumer.Subscribe(ctx, r.cfg.SubmissionTopic, r.HandleSubmissionRecord, &opts)
}

// HandleDuelRecord stores a terminal duel. Replayed records are acknowledged without effect.
func (r *Recorder) HandleDuelRecord(ctx context.Context, msg *mq.Message) error {
	var rec model.DuelRecord
	if err := json.Unmarshal(msg.Body, &rec); err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "decode duel record %s", msg.ID)
	}
	if rec.DuelID == "" {
		return appErr.ValidationError("duel_id", "required")
	}
	ctx = logger.WithDuel(ctx, rec.DuelID)

	inserted, err := r.store.SaveDuel(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Info(ctx, "duel record already stored")
		r.resync(ctx, rec)
		return nil
	}
	logger.Info(ctx, "duel recorded",
		zap.String("status", string(rec.Status)),
		zap.String("winner_id", rec.WinnerID),
		zap.String("reason", string(rec.Reason)),
	)
	if r.cache == nil || rec.Status != model.DuelFinished || len(rec.RatingUpdates) == 0 {
		return nil
	}
	// The durable write already happened; a cache failure must not cause a replay.
	if err := r.cache.Apply(ctx, rec.RatingUpdates, rec.WinnerID); err != nil {
		logger.Warn(ctx, "refresh rating cache failed", zap.Error(err))
	}
	return nil
}

// HandleSubmissionRecord stores a terminal submission.
func (r *Recorder) HandleSubmissionRecord(ctx context.Context, msg *mq.Message) error {
	var sub model.Submission
	if err := json.Unmarshal(msg.Body, &sub); err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "decode submission record %s", msg.ID)
	}
	if !sub.Status.IsTerminal() {
		logger.Warn(ctx, "skip non-terminal submission record",
			zap.String("submission_id", sub.ID), zap.String("status", string(sub.Status)))
		return nil
	}
	ctx = logger.WithDuel(ctx, sub.DuelID)
	if err := r.store.SaveSubmission(ctx, &sub); err != nil {
		return err
	}
	logger.Debug(ctx, "submission recorded",
		zap.String("submission_id", sub.ID), zap.String("status", string(sub.Status)))
	return nil
}

// resync copies durable ratings into the cache, repairing a refresh lost on an earlier delivery.
func (r *Recorder) resync(ctx context.Context, rec model.DuelRecord) {
	if r.cache == nil {
		return
	}
	for _, u := range rec.RatingUpdates {
		row, err := r.store.PlayerRating(ctx, u.UserID)
		if err != nil {
			logger.Warn(ctx, "load durable rating failed", zap.String("user_id", u.UserID), zap.Error(err))
			continue
		}
		if err := r.cache.SetRating(ctx, u.UserID, row.Rating); err != nil {
			logger.Warn(ctx, "resync rating cache failed", zap.String("user_id", u.UserID), zap.Error(err))
		}
	}
}
