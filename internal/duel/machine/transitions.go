package machine

import (
	"context"
	"strings"

	"codeduel/internal/duel/model"
	"codeduel/internal/judge/queue"
	"codeduel/internal/rating"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

func (m *Machine) participant(userID string) (int, error) {
	idx := m.duel.Player(userID)
	if idx < 0 {
		return -1, appErr.New(appErr.NotParticipant).WithDetail("user_id", userID)
	}
	return idx, nil
}

func (m *Machine) onJoin(e Join) error {
	if e.UserID == "" {
		return appErr.ValidationError("user_id", "required")
	}
	now := m.deps.Now()
	if idx := m.duel.Player(e.UserID); idx >= 0 {
		// Presence is frozen once the duel has ended.
		if m.duel.Status.IsTerminal() {
			return nil
		}
		p := &m.duel.Players[idx]
		p.Connected = true
		p.DisconnectedAt = nil
		p.LastSeenAt = now
		m.changed()
		return nil
	}
	if m.duel.Status != model.DuelWaiting {
		return appErr.TransitionError(e.Name(), string(m.duel.Status))
	}
	if m.duel.Full() {
		return appErr.New(appErr.DuelFull)
	}
	m.duel.Players = append(m.duel.Players, model.DuelPlayer{
		UserID:     e.UserID,
		IsReady:    !m.duel.IsPrivate,
		Connected:  true,
		LastSeenAt: now,
	})
	m.maybeStart()
	m.changed()
	return nil
}

func (m *Machine) onReady(e Ready) error {
	idx, err := m.participant(e.UserID)
	if err != nil {
		return err
	}
	if m.duel.Status != model.DuelWaiting {
		return appErr.TransitionError(e.Name(), string(m.duel.Status))
	}
	p := &m.duel.Players[idx]
	p.IsReady = true
	p.LastSeenAt = m.deps.Now()
	m.maybeStart()
	m.changed()
	return nil
}

// maybeStart moves a full duel with both players ready to InProgress.
func (m *Machine) maybeStart() {
	if m.duel.Status != model.DuelWaiting || !m.duel.Full() {
		return
	}
	for _, p := range m.duel.Players {
		if !p.IsReady {
			return
		}
	}
	now := m.deps.Now()
	m.duel.Status = model.DuelInProgress
	m.duel.StartTime = model.TimePtr(now)
	m.duel.Deadline = model.TimePtr(now.Add(m.duel.Task.Window(m.cfg.DuelWindow)))
	logger.Info(m.ctx, "duel started",
		zap.String("task_id", m.duel.Task.ID),
		zap.Time("deadline", *m.duel.Deadline),
	)
}

func (m *Machine) onSubmit(e Submit) error {
	idx, err := m.participant(e.UserID)
	if err != nil {
		return err
	}
	if m.duel.Status != model.DuelInProgress {
		return appErr.TransitionError(e.Name(), string(m.duel.Status))
	}
	if strings.TrimSpace(e.Code) == "" {
		return appErr.ValidationError("code", "required")
	}
	if len(e.Code) > m.cfg.MaxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", m.cfg.MaxCodeBytes)
	}
	if !m.deps.Languages.Supports(e.Language) {
		return appErr.Newf(appErr.LanguageNotSupported, "language %q not supported", e.Language)
	}
	p := &m.duel.Players[idx]
	if p.HasSubmitted {
		if !p.HasCompleted || !m.cfg.AllowResubmit || p.Verdict == model.StatusAccepted {
			return appErr.New(appErr.AlreadySubmitted)
		}
	}

	now := m.deps.Now()
	sub := &model.Submission{
		ID:          m.deps.NewID(),
		DuelID:      m.duel.ID,
		UserID:      e.UserID,
		Code:        e.Code,
		Language:    e.Language,
		Status:      model.StatusPending,
		SubmittedAt: now,
		Sequence:    m.sequence + 1,
		TestResults: []model.TestResult{},
	}
	job := queue.Job{
		Submission: sub.Clone(),
		Task:       m.duel.Task,
		Notify: func(update *model.Submission) {
			m.Post(VerdictReady{Submission: update})
		},
	}
	if err := m.deps.Queue.Enqueue(m.ctx, job); err != nil {
		return err
	}

	m.sequence = sub.Sequence
	m.subs[sub.ID] = sub
	p.HasSubmitted = true
	p.HasCompleted = false
	p.SubmissionID = sub.ID
	p.Verdict = model.StatusPending
	p.LastSeenAt = now
	logger.Info(m.ctx, "submission accepted for judging",
		zap.String("submission_id", sub.ID),
		zap.String("user_id", e.UserID),
		zap.String("language", e.Language),
		zap.Int64("sequence", sub.Sequence),
	)
	m.emit(model.VerdictEvent(sub.Clone()))
	m.changed()
	return nil
}

func (m *Machine) onVerdict(e VerdictReady) error {
	update := e.Submission
	if update == nil {
		return nil
	}
	sub, ok := m.subs[update.ID]
	if !ok {
		logger.Warn(m.ctx, "verdict for unknown submission", zap.String("submission_id", update.ID))
		return nil
	}
	if m.duel.Status.IsTerminal() {
		logger.Debug(m.ctx, "late verdict discarded", zap.String("submission_id", update.ID), zap.String("status", string(update.Status)))
		return nil
	}
	if sub.Status.IsTerminal() {
		return nil
	}

	sub.Status = update.Status
	sub.TestResults = update.TestResults
	sub.CompileLog = update.CompileLog
	sub.CompileTimeMs = update.CompileTimeMs
	sub.Error = update.Error
	sub.FinishedAt = update.FinishedAt

	idx := m.duel.Player(sub.UserID)
	if idx < 0 || m.duel.Players[idx].SubmissionID != sub.ID {
		m.emit(model.VerdictEvent(sub.Clone()))
		return nil
	}
	p := &m.duel.Players[idx]
	p.Verdict = sub.Status
	if !sub.Status.IsTerminal() {
		m.emit(model.VerdictEvent(sub.Clone()))
		m.changed()
		return nil
	}

	p.HasCompleted = true
	if sub.Status == model.StatusAccepted {
		p.SubmissionTime = model.TimePtr(sub.SubmittedAt)
	}
	m.emit(model.VerdictEvent(sub.Clone()))

	if winner, decided := m.decideWinner(); decided {
		m.finish(model.DuelFinished, winner, model.ReasonAccepted)
		return nil
	}
	if m.allCompleted() && !m.cfg.AllowResubmit {
		m.finish(model.DuelFinished, "", model.ReasonAllCompleted)
		return nil
	}
	m.changed()
	return nil
}

func (m *Machine) onTick(e Tick) error {
	if m.duel.Status != model.DuelInProgress {
		return nil
	}
	now := e.Now
	if now.IsZero() {
		now = m.deps.Now()
	}

	var expired []int
	for i, p := range m.duel.Players {
		if !p.Connected && p.DisconnectedAt != nil && !now.Before(p.DisconnectedAt.Add(m.cfg.GraceWindow)) {
			expired = append(expired, i)
		}
	}
	switch len(expired) {
	case 0:
	case 1:
		winner := m.duel.Players[1-expired[0]].UserID
		m.finish(model.DuelFinished, winner, model.ReasonForfeit)
		return nil
	default:
		m.finish(model.DuelFinished, "", model.ReasonDisconnected)
		return nil
	}

	if m.duel.Deadline != nil && !now.Before(*m.duel.Deadline) {
		m.finish(model.DuelFinished, m.provisionalWinner(), model.ReasonTimeout)
	}
	return nil
}

func (m *Machine) onDisconnect(e Disconnect) error {
	idx, err := m.participant(e.UserID)
	if err != nil {
		return err
	}
	now := m.deps.Now()
	switch m.duel.Status {
	case model.DuelWaiting:
		m.duel.Players[idx].Connected = false
		m.duel.Players[idx].DisconnectedAt = model.TimePtr(now)
		m.finish(model.DuelCancelled, "", model.ReasonDisconnected)
	case model.DuelInProgress:
		p := &m.duel.Players[idx]
		if !p.Connected {
			return nil
		}
		p.Connected = false
		p.DisconnectedAt = model.TimePtr(now)
		logger.Info(m.ctx, "player disconnected", zap.String("user_id", e.UserID), zap.Duration("grace", m.cfg.GraceWindow))
		m.changed()
	}
	return nil
}

func (m *Machine) onReconnect(e Reconnect) error {
	idx, err := m.participant(e.UserID)
	if err != nil {
		return err
	}
	p := &m.duel.Players[idx]
	if !m.duel.Status.IsTerminal() {
		p.Connected = true
		p.DisconnectedAt = nil
		p.LastSeenAt = m.deps.Now()
	}
	m.changed()
	return nil
}

// finish moves the duel to a terminal state and runs the terminal side effects.
func (m *Machine) finish(status model.DuelStatus, winnerID string, reason model.FinishReason) {
	now := m.deps.Now()
	m.duel.Status = status
	m.duel.WinnerID = winnerID
	m.duel.FinishReason = reason
	m.duel.EndTime = model.TimePtr(now)

	if cancelled := m.deps.Queue.CancelDuel(m.duel.ID); cancelled > 0 {
		logger.Info(m.ctx, "cancelled judging jobs of finished duel", zap.Int("jobs", cancelled))
	}

	var updates []model.RatingUpdate
	if status == model.DuelFinished && len(m.duel.Players) == model.MaxPlayers {
		updates = rating.ForDuel(m.duel, m.currentRatings())
	}
	logger.Info(m.ctx, "duel finished",
		zap.String("status", string(status)),
		zap.String("winner_id", winnerID),
		zap.String("reason", string(reason)),
	)
	snap := m.publishSnapshot()
	m.emit(model.StateChanged(snap))
	m.emit(model.FinishedEvent(snap, updates))
}

func (m *Machine) currentRatings() map[string]int {
	if m.deps.Ratings == nil {
		return nil
	}
	ids := make([]string, 0, len(m.duel.Players))
	for _, p := range m.duel.Players {
		ids = append(ids, p.UserID)
	}
	ctx, cancel := context.WithTimeout(m.ctx, ratingLookupTimeout)
	defer cancel()
	ratings, err := m.deps.Ratings.Ratings(ctx, ids...)
	if err != nil {
		logger.Warn(m.ctx, "load ratings failed, using defaults", zap.Error(err))
		return nil
	}
	return ratings
}
