package model

import "time"

// DuelStatus is the lifecycle state of a duel.
type DuelStatus string

const (
	DuelWaiting    DuelStatus = "Waiting"
	DuelInProgress DuelStatus = "InProgress"
	DuelFinished   DuelStatus = "Finished"
	DuelCancelled  DuelStatus = "Cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s DuelStatus) IsTerminal() bool {
	return s == DuelFinished || s == DuelCancelled
}

// FinishReason explains how a duel reached a terminal state.
type FinishReason string

const (
	ReasonAccepted     FinishReason = "accepted"
	ReasonAllCompleted FinishReason = "all_completed"
	ReasonTimeout      FinishReason = "timeout"
	ReasonForfeit      FinishReason = "forfeit"
	ReasonDisconnected FinishReason = "disconnected"
	ReasonFault        FinishReason = "fault"
)

// MaxPlayers is the size of a duel.
const MaxPlayers = 2

// DuelPlayer is one side of a duel.
type DuelPlayer struct {
	UserID       string `json:"user_id"`
	IsReady      bool   `json:"is_ready"`
	HasSubmitted bool   `json:"has_submitted"`
	HasCompleted bool   `json:"has_completed"`
	// SubmissionTime is set when the player's verdict is Accepted.
	SubmissionTime *time.Time       `json:"submission_time,omitempty"`
	LastSeenAt     time.Time        `json:"last_seen_at"`
	Connected      bool             `json:"connected"`
	DisconnectedAt *time.Time       `json:"disconnected_at,omitempty"`
	SubmissionID   string           `json:"submission_id,omitempty"`
	Verdict        SubmissionStatus `json:"verdict,omitempty"`
}

// Duel is a timed 1v1 contest on one task.
type Duel struct {
	ID           string       `json:"id"`
	Status       DuelStatus   `json:"status"`
	Task         *Task        `json:"task,omitempty"`
	Players      []DuelPlayer `json:"players"`
	StartTime    *time.Time   `json:"start_time,omitempty"`
	EndTime      *time.Time   `json:"end_time,omitempty"`
	Deadline     *time.Time   `json:"deadline,omitempty"`
	WinnerID     string       `json:"winner_id,omitempty"`
	IsPrivate    bool         `json:"is_private"`
	InviteCode   string       `json:"invite_code,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// Player returns the index of userID, or -1.
func (d *Duel) Player(userID string) int {
	for i := range d.Players {
		if d.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Opponent returns the index of the other player, or -1 when absent.
func (d *Duel) Opponent(idx int) int {
	if len(d.Players) < MaxPlayers {
		return -1
	}
	return 1 - idx
}

// Full reports whether both slots are taken.
func (d *Duel) Full() bool {
	return len(d.Players) >= MaxPlayers
}

// Clone returns a deep copy, sharing only the read-only task.
func (d *Duel) Clone() *Duel {
	if d == nil {
		return nil
	}
	out := *d
	out.Players = make([]DuelPlayer, len(d.Players))
	for i, p := range d.Players {
		p.SubmissionTime = cloneTime(p.SubmissionTime)
		p.DisconnectedAt = cloneTime(p.DisconnectedAt)
		out.Players[i] = p
	}
	out.StartTime = cloneTime(d.StartTime)
	out.EndTime = cloneTime(d.EndTime)
	out.Deadline = cloneTime(d.Deadline)
	return &out
}

// ForClient returns a copy with hidden test cases removed.
func (d *Duel) ForClient() *Duel {
	out := d.Clone()
	if out != nil {
		out.Task = out.Task.Public()
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a helper for optional time fields.
func TimePtr(t time.Time) *time.Time {
	return &t
}
