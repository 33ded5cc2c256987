// Package registry maps duel ids to their live state machines.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeduel/internal/duel/machine"
	"codeduel/internal/duel/model"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultEvictAfter    = 10 * time.Minute
	defaultSweepInterval = time.Minute
	inviteCodeLength     = 8
)

// TaskCatalog resolves task ids.
type TaskCatalog interface {
	Get(ctx context.Context, taskID string) (*model.Task, error)
}

// Config controls duel rules and in-memory retention.
type Config struct {
	Duel          machine.Config `yaml:"duel"`
	EvictAfter    time.Duration  `yaml:"evictAfter"`
	SweepInterval time.Duration  `yaml:"sweepInterval"`
}

// Deps are shared by every machine the registry creates.
type Deps struct {
	Catalog   TaskCatalog
	Queue     machine.JudgeQueue
	Languages machine.Languages
	Ratings   machine.RatingReader
	Publisher machine.Publisher
	Metrics   *Metrics
	Now       func() time.Time
}

// OpenRequest creates a duel. An empty DuelID gets a generated one.
type OpenRequest struct {
	DuelID    string
	TaskID    string
	CreatorID string
	IsPrivate bool
}

// Registry owns every live duel machine.
type Registry struct {
	cfg  Config
	deps Deps

	mu      sync.RWMutex
	duels   map[string]*machine.Machine
	invites map[string]string
	group   singleflight.Group

	scheduler *DeadlineScheduler
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an empty registry.
func New(cfg Config, deps Deps) (*Registry, error) {
	if deps.Catalog == nil || deps.Queue == nil || deps.Languages == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("catalog, judge queue and languages are required")
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = defaultEvictAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{
		cfg:     cfg,
		deps:    deps,
		duels:   make(map[string]*machine.Machine),
		invites: make(map[string]string),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.scheduler = NewDeadlineScheduler(func(duelID string) {
		r.post(duelID, machine.Tick{})
	})
	r.scheduler.now = deps.Now
	return r, nil
}

// Start runs the deadline scheduler and the sweeper.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.scheduler.Start()
		go r.sweepLoop()
	})
}

// Stop halts timers and every machine.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.startOnce.Do(func() { close(r.done) })
		<-r.done
		r.scheduler.Stop()

		r.mu.Lock()
		machines := make([]*machine.Machine, 0, len(r.duels))
		for _, m := range r.duels {
			machines = append(machines, m)
		}
		r.duels = make(map[string]*machine.Machine)
		r.invites = make(map[string]string)
		r.mu.Unlock()
		for _, m := range machines {
			m.Stop()
		}
	})
}

// Open creates a duel, or returns the live one with the same id.
// A task lookup failure still registers the duel, cancelled with reason fault,
// and returns DuelCreateFailed alongside its snapshot.
func (r *Registry) Open(ctx context.Context, req OpenRequest) (*model.Duel, error) {
	if req.CreatorID == "" {
		return nil, appErr.ValidationError("creator_id", "required")
	}
	if req.TaskID == "" {
		return nil, appErr.ValidationError("task_id", "required")
	}
	if req.DuelID == "" {
		req.DuelID = uuid.NewString()
	}
	if m := r.lookup(req.DuelID); m != nil {
		return m.Snapshot(), nil
	}

	v, err, _ := r.group.Do(req.DuelID, func() (interface{}, error) {
		if m := r.lookup(req.DuelID); m != nil {
			return m, nil
		}
		return r.create(ctx, req)
	})
	if err != nil {
		r.deps.Metrics.open("error")
		return nil, err
	}
	m := v.(*machine.Machine)
	snap := m.Snapshot()
	if snap.FinishReason == model.ReasonFault {
		return snap, appErr.New(appErr.DuelCreateFailed).WithDetail("task_id", req.TaskID)
	}
	return snap, nil
}

func (r *Registry) create(ctx context.Context, req OpenRequest) (*machine.Machine, error) {
	ctx = logger.WithDuel(ctx, req.DuelID)
	params := machine.Params{
		ID:        req.DuelID,
		CreatorID: req.CreatorID,
		IsPrivate: req.IsPrivate,
	}
	task, err := r.deps.Catalog.Get(ctx, req.TaskID)
	if err != nil {
		logger.Error(ctx, "load task for duel failed", zap.String("task_id", req.TaskID), zap.Error(err))
		params.Fault = err
	} else {
		params.Task = task
	}

	r.mu.Lock()
	if req.IsPrivate && params.Fault == nil {
		params.InviteCode = r.newInviteCodeLocked()
	}
	m, err := machine.New(r.cfg.Duel, machine.Deps{
		Queue:     r.deps.Queue,
		Languages: r.deps.Languages,
		Ratings:   r.deps.Ratings,
		Publisher: r.deps.Publisher,
		Scheduler: r.scheduler,
		Now:       r.deps.Now,
	}, params)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.duels[req.DuelID] = m
	if params.InviteCode != "" {
		r.invites[params.InviteCode] = req.DuelID
	}
	r.mu.Unlock()

	m.Start()
	if params.Fault != nil {
		r.deps.Metrics.open("fault")
	} else {
		r.deps.Metrics.open("ok")
		logger.Info(ctx, "duel opened",
			zap.String("task_id", req.TaskID),
			zap.String("creator_id", req.CreatorID),
			zap.Bool("private", req.IsPrivate),
		)
	}
	r.refreshMetrics()
	return m, nil
}

func (r *Registry) newInviteCodeLocked() string {
	for {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:inviteCodeLength])
		if _, taken := r.invites[code]; !taken {
			return code
		}
	}
}

// JoinByInvite adds userID to the private duel behind code.
func (r *Registry) JoinByInvite(ctx context.Context, code, userID string) (*model.Duel, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	r.mu.RLock()
	duelID, ok := r.invites[code]
	r.mu.RUnlock()
	if !ok {
		return nil, appErr.New(appErr.InviteNotFound)
	}
	if err := r.Dispatch(ctx, duelID, machine.Join{UserID: userID}); err != nil {
		return nil, err
	}
	return r.Get(duelID)
}

// Dispatch routes ev to the duel and waits for it to be applied.
func (r *Registry) Dispatch(ctx context.Context, duelID string, ev machine.Event) error {
	m := r.lookup(duelID)
	if m == nil {
		return appErr.New(appErr.DuelNotFound).WithDetail("duel_id", duelID)
	}
	return m.Dispatch(ctx, ev)
}

func (r *Registry) post(duelID string, ev machine.Event) {
	if m := r.lookup(duelID); m != nil {
		m.Post(ev)
	}
}

// Get returns the duel's snapshot and counts as client activity.
func (r *Registry) Get(duelID string) (*model.Duel, error) {
	m := r.lookup(duelID)
	if m == nil {
		return nil, appErr.New(appErr.DuelNotFound).WithDetail("duel_id", duelID)
	}
	m.Touch()
	return m.Snapshot(), nil
}

// Touch records activity on a duel, if it is live.
func (r *Registry) Touch(duelID string) {
	if m := r.lookup(duelID); m != nil {
		m.Touch()
	}
}

// Len is the number of duels in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.duels)
}

func (r *Registry) lookup(duelID string) *machine.Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duels[duelID]
}

func (r *Registry) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.Sweep(r.deps.Now()); n > 0 {
				logger.Info(context.Background(), "evicted idle duels", zap.Int("count", n))
			}
		}
	}
}

// Sweep removes terminal duels idle since before now-EvictAfter and returns how many.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.EvictAfter)
	var evicted []*machine.Machine
	r.mu.Lock()
	for id, m := range r.duels {
		snap := m.Snapshot()
		if !snap.Status.IsTerminal() || m.LastActivity().After(cutoff) {
			continue
		}
		delete(r.duels, id)
		if snap.InviteCode != "" {
			delete(r.invites, snap.InviteCode)
		}
		evicted = append(evicted, m)
	}
	r.mu.Unlock()

	for _, m := range evicted {
		m.Stop()
		r.scheduler.Schedule(m.ID(), time.Time{})
	}
	r.deps.Metrics.evict(len(evicted))
	r.refreshMetrics()
	return len(evicted)
}

func (r *Registry) refreshMetrics() {
	if r.deps.Metrics == nil {
		return
	}
	counts := make(map[string]int)
	r.mu.RLock()
	for _, m := range r.duels {
		counts[string(m.Snapshot().Status)]++
	}
	r.mu.RUnlock()
	r.deps.Metrics.setLive(counts)
}
