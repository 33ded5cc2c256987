// Package queue runs submissions through the evaluator on a bounded worker pool.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"codeduel/internal/duel/model"
	"codeduel/internal/judge/evaluator"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	judgeSystemErrorMessage = "judge system error"
	cancelledMessage        = "judging cancelled"
)

// Evaluator judges one submission.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.Request) (evaluator.Result, error)
}

// StatusStore mirrors submission status for polling clients.
type StatusStore interface {
	Save(ctx context.Context, sub *model.Submission) error
}

// Job is one submission to judge. Notify receives a snapshot when the job
// starts running and once more with the terminal verdict. It is never called
// for a job dropped by CancelDuel; the status store still records it as Cancelled.
type Job struct {
	Submission *model.Submission
	Task       *model.Task
	Notify     func(*model.Submission)
}

// Config controls the worker pool.
type Config struct {
	Workers         int           `yaml:"workers"`
	Depth           int           `yaml:"depth"`
	RetryBackoff    time.Duration `yaml:"retryBackoff"`
	RetryBackoffMax time.Duration `yaml:"retryBackoffMax"`
	JobTimeout      time.Duration `yaml:"jobTimeout"`
	StatusTimeout   time.Duration `yaml:"statusTimeout"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Workers  int `json:"workers"`
	Capacity int `json:"capacity"`
}

type entry struct {
	job    Job
	ctx    context.Context
	cancel context.CancelFunc
	// pending is closed after the Pending status is stored; workers wait on it
	// before writing Running.
	pending chan struct{}
}

// Queue is a bounded producer/worker pool. Enqueue never blocks.
type Queue struct {
	cfg     Config
	eval    Evaluator
	status  StatusStore
	metrics *Metrics

	jobs    chan *entry
	running atomic.Int64

	mu     sync.Mutex
	byDuel map[string]map[*entry]struct{}
	closed bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue. status and metrics may be nil.
func New(cfg Config, eval Evaluator, status StatusStore, metrics *Metrics) (*Queue, error) {
	if eval == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("evaluator is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Depth <= 0 {
		cfg.Depth = cfg.Workers * 4
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = time.Second
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Queue{
		cfg:     cfg,
		eval:    eval,
		status:  status,
		metrics: metrics,
		jobs:    make(chan *entry, cfg.Depth),
		byDuel:  make(map[string]map[*entry]struct{}),
		baseCtx: baseCtx,
		stop:    stop,
	}, nil
}

// Start launches the workers.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop rejects new jobs, cancels running ones and waits for the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.stop()
	q.wg.Wait()
}

// Enqueue accepts a job if there is room. A full queue returns JudgeQueueFull
// immediately; the job is not kept.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.Submission == nil || job.Submission.ID == "" {
		return appErr.ValidationError("submission", "required")
	}
	if job.Task == nil {
		return appErr.ValidationError("task", "required")
	}
	jobCtx, cancel := context.WithCancel(q.baseCtx)
	e := &entry{job: job, ctx: jobCtx, cancel: cancel, pending: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return appErr.New(appErr.ServiceUnavailable).WithMessage("judge queue is stopped")
	}
	select {
	case q.jobs <- e:
		q.track(e)
	default:
		q.mu.Unlock()
		cancel()
		q.metrics.enqueue("rejected")
		logger.Warn(ctx, "judge queue full",
			zap.String("submission_id", job.Submission.ID),
			zap.Int("capacity", q.cfg.Depth),
		)
		return appErr.New(appErr.JudgeQueueFull)
	}
	q.mu.Unlock()

	q.metrics.enqueue("accepted")
	q.metrics.setDepth(len(q.jobs), int(q.running.Load()))
	pending := job.Submission.Clone()
	pending.Status = model.StatusPending
	q.saveStatus(ctx, pending)
	close(e.pending)
	return nil
}

// CancelDuel cancels running jobs of a duel and drops its queued ones.
// It returns the number of affected jobs.
func (q *Queue) CancelDuel(duelID string) int {
	q.mu.Lock()
	entries := q.byDuel[duelID]
	delete(q.byDuel, duelID)
	q.mu.Unlock()
	for e := range entries {
		e.cancel()
	}
	return len(entries)
}

// Stats reports queue depth and worker usage.
func (q *Queue) Stats() Stats {
	return Stats{
		Queued:   len(q.jobs),
		Running:  int(q.running.Load()),
		Workers:  q.cfg.Workers,
		Capacity: q.cfg.Depth,
	}
}

// track must be called with q.mu held.
func (q *Queue) track(e *entry) {
	duelID := e.job.Submission.DuelID
	set, ok := q.byDuel[duelID]
	if !ok {
		set = make(map[*entry]struct{})
		q.byDuel[duelID] = set
	}
	set[e] = struct{}{}
}

func (q *Queue) untrack(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	duelID := e.job.Submission.DuelID
	if set, ok := q.byDuel[duelID]; ok {
		delete(set, e)
		if len(set) == 0 {
			delete(q.byDuel, duelID)
		}
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.baseCtx.Done():
			q.drain()
			return
		case e := <-q.jobs:
			q.process(e)
		}
	}
}

// drain releases jobs still queued at shutdown.
func (q *Queue) drain() {
	for {
		select {
		case e := <-q.jobs:
			e.cancel()
			q.untrack(e)
			<-e.pending
			sub := e.job.Submission.Clone()
			q.withdraw(logger.WithDuel(context.Background(), sub.DuelID), sub)
		default:
			return
		}
	}
}

func (q *Queue) process(e *entry) {
	defer e.cancel()
	defer q.untrack(e)

	<-e.pending
	sub := e.job.Submission.Clone()
	ctx := logger.WithDuel(context.Background(), sub.DuelID)
	if e.ctx.Err() != nil {
		q.metrics.drop()
		logger.Debug(ctx, "judge job dropped", zap.String("submission_id", sub.ID))
		q.withdraw(ctx, sub)
		return
	}

	q.running.Add(1)
	q.metrics.setDepth(len(q.jobs), int(q.running.Load()))
	defer func() {
		q.running.Add(-1)
		q.metrics.setDepth(len(q.jobs), int(q.running.Load()))
	}()

	sub.Status = model.StatusRunning
	q.saveStatus(ctx, sub)
	q.notify(e, sub)

	res, err := q.evaluate(ctx, e)
	if e.ctx.Err() != nil {
		q.metrics.drop()
		logger.Info(ctx, "judge job cancelled", zap.String("submission_id", sub.ID))
		q.withdraw(ctx, sub)
		return
	}

	done := time.Now()
	sub.FinishedAt = &done
	if err != nil {
		logger.Error(ctx, "judge job failed", zap.String("submission_id", sub.ID), zap.Error(err))
		sub.Status = model.StatusRuntimeError
		sub.TestResults = []model.TestResult{}
		sub.Error = judgeSystemErrorMessage
	} else {
		sub.Status = res.Status
		sub.TestResults = res.TestResults
		sub.CompileLog = res.CompileLog
		sub.CompileTimeMs = res.CompileTimeMs
		if !res.FinishedAt.IsZero() {
			sub.FinishedAt = &res.FinishedAt
		}
	}
	q.metrics.complete(string(sub.Status))
	q.saveStatus(ctx, sub)
	q.notify(e, sub)
}

// evaluate runs the job and retries once on a judge infrastructure error.
func (q *Queue) evaluate(ctx context.Context, e *entry) (evaluator.Result, error) {
	req := evaluator.Request{
		SubmissionID: e.job.Submission.ID,
		Language:     e.job.Submission.Language,
		Code:         e.job.Submission.Code,
		Task:         e.job.Task,
	}
	var (
		res evaluator.Result
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			q.metrics.retry()
			delay := ComputeBackoff(attempt-1, q.cfg.RetryBackoff, q.cfg.RetryBackoffMax)
			logger.Warn(ctx, "retrying judge job",
				zap.String("submission_id", req.SubmissionID),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if sleepErr := sleepCtx(e.ctx, delay); sleepErr != nil {
				return evaluator.Result{}, sleepErr
			}
		}
		res, err = q.runOnce(e.ctx, req)
		if err == nil || !retryable(err) {
			return res, err
		}
	}
	return res, err
}

func (q *Queue) runOnce(ctx context.Context, req evaluator.Request) (evaluator.Result, error) {
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}
	res, err := q.eval.Evaluate(ctx, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "judge job timed out")
	}
	return res, err
}

// withdraw stores the final Cancelled status of a job that will get no verdict.
func (q *Queue) withdraw(ctx context.Context, sub *model.Submission) {
	done := time.Now()
	sub.Status = model.StatusCancelled
	sub.FinishedAt = &done
	sub.TestResults = []model.TestResult{}
	sub.Error = cancelledMessage
	q.saveStatus(ctx, sub)
}

func (q *Queue) notify(e *entry, sub *model.Submission) {
	if e.job.Notify != nil {
		e.job.Notify(sub.Clone())
	}
}

func (q *Queue) saveStatus(ctx context.Context, sub *model.Submission) {
	if q.status == nil {
		return
	}
	ctxStatus, cancel := context.WithTimeout(ctx, q.cfg.StatusTimeout)
	defer cancel()
	if err := q.status.Save(ctxStatus, sub); err != nil {
		logger.Warn(ctx, "update submission status failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}
