package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeduel/internal/common/mq"
	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TopicDuelRecords       = "duel.records"
	TopicSubmissionRecords = "submission.records"

	headerRecordType = "x-record-type"

	defaultBuffer         = 1024
	defaultEnqueueTimeout = time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultPublishRetries = 3
)

// RecordsConfig tunes the record stream.
type RecordsConfig struct {
	DuelTopic       string        `yaml:"duelTopic"`
	SubmissionTopic string        `yaml:"submissionTopic"`
	Buffer          int           `yaml:"buffer"`
	EnqueueTimeout  time.Duration `yaml:"enqueueTimeout"`
	PublishTimeout  time.Duration `yaml:"publishTimeout"`
	PublishRetries  int           `yaml:"publishRetries"`
}

func (c *RecordsConfig) applyDefaults() {
	if c.DuelTopic == "" {
		c.DuelTopic = TopicDuelRecords
	}
	if c.SubmissionTopic == "" {
		c.SubmissionTopic = TopicSubmissionRecords
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = defaultEnqueueTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = defaultPublishRetries
	}
}

type record struct {
	topic string
	msg   *mq.Message
}

// Records turns terminal submissions and finished duels into messages on the
// record topics. Messages are keyed by duel id and written by one background
// goroutine, so records of a duel keep their order.
type Records struct {
	cfg      RecordsConfig
	producer mq.Producer

	ch       chan record
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRecords creates the record publisher; call Start before use.
func NewRecords(cfg RecordsConfig, producer mq.Producer) (*Records, error) {
	if producer == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("producer is required")
	}
	cfg.applyDefaults()
	return &Records{
		cfg:      cfg,
		producer: producer,
		ch:       make(chan record, cfg.Buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the writer goroutine.
func (r *Records) Start() {
	go r.run()
}

// Stop flushes queued records and stops the writer.
func (r *Records) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Records) Publish(ctx context.Context, ev model.Outbound) {
	rec, ok, err := r.build(ev)
	if err != nil {
		logger.Error(ctx, "encode record failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	timer := time.NewTimer(r.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case r.ch <- rec:
	case <-r.stop:
		logger.Warn(ctx, "record dropped after shutdown", zap.String("topic", rec.topic))
	case <-timer.C:
		logger.Error(ctx, "record buffer full, record dropped", zap.String("topic", rec.topic), zap.String("message_id", rec.msg.ID))
	}
}

// build maps events to records. Only terminal verdicts and duel endings are recorded.
func (r *Records) build(ev model.Outbound) (record, bool, error) {
	switch ev.Type {
	case model.EventSubmissionVerdict:
		if ev.Verdict == nil || ev.Verdict.Submission == nil || !ev.Verdict.Status.IsTerminal() {
			return record{}, false, nil
		}
		body, err := json.Marshal(ev.Verdict.Submission)
		if err != nil {
			return record{}, false, err
		}
		msg := mq.NewMessage(ev.DuelID, body)
		msg.ID = ev.Verdict.SubmissionID
		msg.SetHeader(headerRecordType, "submission")
		return record{topic: r.cfg.SubmissionTopic, msg: msg}, true, nil
	case model.EventDuelFinished:
		if ev.Finished == nil || ev.Finished.Duel == nil {
			return record{}, false, nil
		}
		body, err := json.Marshal(model.NewDuelRecord(ev.Finished))
		if err != nil {
			return record{}, false, err
		}
		msg := mq.NewMessage(ev.DuelID, body)
		msg.ID = uuid.NewString()
		msg.SetHeader(headerRecordType, "duel")
		return record{topic: r.cfg.DuelTopic, msg: msg}, true, nil
	}
	return record{}, false, nil
}

func (r *Records) run() {
	defer close(r.done)
	for {
		select {
		case rec := <-r.ch:
			r.write(rec)
		case <-r.stop:
			for {
				select {
				case rec := <-r.ch:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Records) write(rec record) {
	ctx := logger.WithDuel(context.Background(), rec.msg.Key)
	var err error
	for attempt := 0; attempt < r.cfg.PublishRetries; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
		err = r.producer.Publish(pubCtx, rec.topic, rec.msg)
		cancel()
		if err == nil {
			return
		}
		logger.Warn(ctx, "publish record failed", zap.String("topic", rec.topic), zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	logger.Error(ctx, "record lost", zap.String("topic", rec.topic), zap.String("message_id", rec.msg.ID), zap.Error(err))
}
