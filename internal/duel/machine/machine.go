// Package machine owns the state of one duel. Every event for a duel is applied
// by a single goroutine in arrival order; readers only ever see published snapshots.
package machine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeduel/internal/duel/model"
	"codeduel/internal/judge/queue"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultDuelWindow   = 1800 * time.Second
	DefaultGraceWindow  = 30 * time.Second
	DefaultMaxCodeBytes = 64 * 1024
	defaultMailboxSize  = 64
	ratingLookupTimeout = 2 * time.Second
)

// JudgeQueue accepts judging jobs.
type JudgeQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	CancelDuel(duelID string) int
}

// Languages reports which languages can be judged.
type Languages interface {
	Supports(languageID string) bool
}

// RatingReader returns current ratings; unknown users map to model.DefaultRating.
type RatingReader interface {
	Ratings(ctx context.Context, userIDs ...string) (map[string]int, error)
}

// Publisher delivers outbound events to both players and to the record stream.
type Publisher interface {
	Publish(ctx context.Context, ev model.Outbound)
}

// Scheduler is told when the machine next needs a Tick. A zero time clears it.
type Scheduler interface {
	Schedule(duelID string, at time.Time)
}

// Config holds duel rules.
type Config struct {
	DuelWindow  time.Duration `yaml:"duelWindow"`
	GraceWindow time.Duration `yaml:"graceWindow"`
	// AllowResubmit lets a player submit again after a completed, non-accepted verdict.
	AllowResubmit bool `yaml:"allowResubmit"`
	MaxCodeBytes  int  `yaml:"maxCodeBytes"`
	MailboxSize   int  `yaml:"mailboxSize"`
}

func (c *Config) applyDefaults() {
	if c.DuelWindow <= 0 {
		c.DuelWindow = DefaultDuelWindow
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = DefaultMaxCodeBytes
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
}

// Deps are the collaborators of a machine. Ratings, Publisher and Scheduler may be nil.
type Deps struct {
	Queue     JudgeQueue
	Languages Languages
	Ratings   RatingReader
	Publisher Publisher
	Scheduler Scheduler
	Now       func() time.Time
	NewID     func() string
}

// Params describe a new duel.
type Params struct {
	ID         string
	Task       *model.Task
	CreatorID  string
	IsPrivate  bool
	InviteCode string
	// Fault, when set, creates the duel already cancelled.
	Fault error
}

type envelope struct {
	ev    Event
	reply chan error
}

// Machine is the single owner of one duel.
type Machine struct {
	cfg  Config
	deps Deps

	duel     *model.Duel
	subs     map[string]*model.Submission
	sequence int64

	snapshot     atomic.Pointer[model.Duel]
	lastActivity atomic.Int64

	mailbox  chan envelope
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	ctx      context.Context
}

// New creates a machine in Waiting with the creator as player one.
// Public duels mark players ready as they join.
func New(cfg Config, deps Deps, p Params) (*Machine, error) {
	if p.ID == "" {
		return nil, appErr.ValidationError("duel_id", "required")
	}
	if p.CreatorID == "" {
		return nil, appErr.ValidationError("creator_id", "required")
	}
	if p.Fault == nil && (deps.Queue == nil || deps.Languages == nil) {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("judge queue and languages are required")
	}
	if p.Fault == nil && p.Task == nil {
		return nil, appErr.ValidationError("task", "required")
	}
	cfg.applyDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	now := deps.Now()
	m := &Machine{
		cfg:  cfg,
		deps: deps,
		duel: &model.Duel{
			ID:         p.ID,
			Status:     model.DuelWaiting,
			Task:       p.Task,
			IsPrivate:  p.IsPrivate,
			InviteCode: p.InviteCode,
			CreatedAt:  now,
			Players: []model.DuelPlayer{{
				UserID:     p.CreatorID,
				IsReady:    !p.IsPrivate,
				Connected:  true,
				LastSeenAt: now,
			}},
		},
		subs:    make(map[string]*model.Submission),
		mailbox: make(chan envelope, cfg.MailboxSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     logger.WithDuel(context.Background(), p.ID),
	}
	if p.Fault != nil {
		m.duel.Status = model.DuelCancelled
		m.duel.FinishReason = model.ReasonFault
		m.duel.EndTime = model.TimePtr(now)
		logger.Error(m.ctx, "duel cancelled at creation", zap.Error(p.Fault))
	}
	m.lastActivity.Store(now.UnixNano())
	m.publishSnapshot()
	return m, nil
}

// ID returns the duel id.
func (m *Machine) ID() string {
	return m.duel.ID
}

// Start runs the event loop and announces the initial state.
func (m *Machine) Start() {
	m.emit(model.StateChanged(m.snapshot.Load()))
	go m.loop()
}

// Stop ends the event loop. Pending Dispatch calls fail with DuelNotFound.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.stopped
}

// Snapshot returns the last published state. Callers must not modify it.
func (m *Machine) Snapshot() *model.Duel {
	return m.snapshot.Load()
}

// LastActivity is the time of the last event or Touch.
func (m *Machine) LastActivity() time.Time {
	return time.Unix(0, m.lastActivity.Load())
}

// Touch records client activity without changing state.
func (m *Machine) Touch() {
	m.lastActivity.Store(m.deps.Now().UnixNano())
}

// Dispatch applies ev and returns its protocol error, if any, to the caller only.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	env := envelope{ev: ev, reply: make(chan error, 1)}
	select {
	case m.mailbox <- env:
	case <-m.stop:
		return appErr.New(appErr.DuelNotFound).WithMessage("duel is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.reply:
		return err
	case <-m.stopped:
		return appErr.New(appErr.DuelNotFound).WithMessage("duel is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues ev without waiting for it to be applied. It blocks only while the
// mailbox is full and returns at once if the machine is stopped.
func (m *Machine) Post(ev Event) {
	select {
	case m.mailbox <- envelope{ev: ev}:
	case <-m.stop:
	}
}

func (m *Machine) loop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.stop:
			return
		case env := <-m.mailbox:
			err := m.apply(env.ev)
			if env.reply != nil {
				env.reply <- err
			}
		}
	}
}

func (m *Machine) apply(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(m.ctx, "duel event panicked", zap.String("event", ev.Name()), zap.Any("panic", r))
			err = appErr.New(appErr.InternalServerError)
		}
	}()
	if _, isTick := ev.(Tick); !isTick {
		m.lastActivity.Store(m.deps.Now().UnixNano())
	}
	err = m.handle(ev)
	if err != nil {
		logger.Debug(m.ctx, "duel event rejected", zap.String("event", ev.Name()), zap.Error(err))
	}
	m.reschedule()
	return err
}

func (m *Machine) handle(ev Event) error {
	switch e := ev.(type) {
	case Join:
		return m.onJoin(e)
	case Ready:
		return m.onReady(e)
	case Submit:
		return m.onSubmit(e)
	case VerdictReady:
		return m.onVerdict(e)
	case Tick:
		return m.onTick(e)
	case Disconnect:
		return m.onDisconnect(e)
	case Reconnect:
		return m.onReconnect(e)
	default:
		return appErr.New(appErr.InvalidParams).WithMessagef("unknown event %T", ev)
	}
}

func (m *Machine) publishSnapshot() *model.Duel {
	snap := m.duel.Clone()
	m.snapshot.Store(snap)
	return snap
}

// changed publishes a new snapshot and broadcasts it.
func (m *Machine) changed() {
	m.emit(model.StateChanged(m.publishSnapshot()))
}

func (m *Machine) emit(ev model.Outbound) {
	if m.deps.Publisher != nil {
		m.deps.Publisher.Publish(m.ctx, ev)
	}
}

// reschedule reports the next instant a Tick is needed.
func (m *Machine) reschedule() {
	if m.deps.Scheduler == nil {
		return
	}
	m.deps.Scheduler.Schedule(m.duel.ID, m.nextWake())
}

func (m *Machine) nextWake() time.Time {
	if m.duel.Status != model.DuelInProgress {
		return time.Time{}
	}
	var next time.Time
	if m.duel.Deadline != nil {
		next = *m.duel.Deadline
	}
	for _, p := range m.duel.Players {
		if p.Connected || p.DisconnectedAt == nil {
			continue
		}
		expiry := p.DisconnectedAt.Add(m.cfg.GraceWindow)
		if next.IsZero() || expiry.Before(next) {
			next = expiry
		}
	}
	return next
}
