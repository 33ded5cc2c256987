package model

import "time"

// DuelRecord is the durable summary of a terminal duel.
type DuelRecord struct {
	DuelID        string         `json:"duel_id"`
	TaskID        string         `json:"task_id"`
	Status        DuelStatus     `json:"status"`
	WinnerID      string         `json:"winner_id,omitempty"`
	Reason        FinishReason   `json:"reason"`
	IsPrivate     bool           `json:"is_private"`
	Players       []RecordPlayer `json:"players"`
	CreatedAt     time.Time      `json:"created_at"`
	StartTime     *time.Time     `json:"start_time,omitempty"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	RatingUpdates []RatingUpdate `json:"rating_updates"`
}

// RecordPlayer is one player's outcome in a DuelRecord.
type RecordPlayer struct {
	UserID         string           `json:"user_id"`
	SubmissionID   string           `json:"submission_id,omitempty"`
	Verdict        SubmissionStatus `json:"verdict,omitempty"`
	SubmissionTime *time.Time       `json:"submission_time,omitempty"`
}

// NewDuelRecord summarizes a finished event.
func NewDuelRecord(f *FinishedPayload) DuelRecord {
	d := f.Duel
	rec := DuelRecord{
		DuelID:        d.ID,
		Status:        d.Status,
		WinnerID:      d.WinnerID,
		Reason:        d.FinishReason,
		IsPrivate:     d.IsPrivate,
		CreatedAt:     d.CreatedAt,
		StartTime:     d.StartTime,
		EndTime:       d.EndTime,
		RatingUpdates: f.RatingUpdates,
		Players:       make([]RecordPlayer, 0, len(d.Players)),
	}
	if d.Task != nil {
		rec.TaskID = d.Task.ID
	}
	for _, p := range d.Players {
		rec.Players = append(rec.Players, RecordPlayer{
			UserID:         p.UserID,
			SubmissionID:   p.SubmissionID,
			Verdict:        p.Verdict,
			SubmissionTime: p.SubmissionTime,
		})
	}
	return rec
}

// Outcome returns "win", "loss" or "draw" for userID, or "" for a duel without a result.
func (r DuelRecord) Outcome(userID string) string {
	if r.Status != DuelFinished {
		return ""
	}
	switch r.WinnerID {
	case "":
		return "draw"
	case userID:
		return "win"
	default:
		return "loss"
	}
}
