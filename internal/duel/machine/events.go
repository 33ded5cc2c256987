package machine

import (
	"time"

	"codeduel/internal/duel/model"
)

// Event is an input to a duel state machine.
type Event interface {
	Name() string
}

// Join adds a player to a waiting duel.
type Join struct {
	UserID string
}

// Ready marks a player ready.
type Ready struct {
	UserID string
}

// Submit hands in a solution.
type Submit struct {
	UserID   string
	Code     string
	Language string
}

// VerdictReady carries a judging update for one of the duel's submissions.
type VerdictReady struct {
	Submission *model.Submission
}

// Tick advances time: it enforces the duel deadline and reconnection grace windows.
type Tick struct {
	Now time.Time
}

// Disconnect reports that a player's connection dropped.
type Disconnect struct {
	UserID string
}

// Reconnect reports that a player is back; the current state is always resent.
type Reconnect struct {
	UserID string
}

func (Join) Name() string         { return "join" }
func (Ready) Name() string        { return "ready" }
func (Submit) Name() string       { return "submit" }
func (VerdictReady) Name() string { return "verdict" }
func (Tick) Name() string         { return "tick" }
func (Disconnect) Name() string   { return "disconnect" }
func (Reconnect) Name() string    { return "reconnect" }
