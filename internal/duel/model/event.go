package model

// EventType names an outbound duel event.
type EventType string

const (
	EventDuelStateChanged  EventType = "DUEL_STATE_CHANGED"
	EventSubmissionVerdict EventType = "SUBMISSION_VERDICT"
	EventDuelFinished      EventType = "DUEL_FINISHED"
)

// Outbound is an event broadcast to both players of a duel.
// Exactly one of the payload fields is set, matching Type.
type Outbound struct {
	Type     EventType          `json:"type"`
	DuelID   string             `json:"duel_id"`
	Duel     *Duel              `json:"duel,omitempty"`
	Verdict  *SubmissionVerdict `json:"verdict,omitempty"`
	Finished *FinishedPayload   `json:"finished,omitempty"`
}

// SubmissionVerdict reports a submission status change.
// Submission carries the code; transports strip it before reaching clients.
type SubmissionVerdict struct {
	SubmissionID string           `json:"submission_id"`
	UserID       string           `json:"user_id"`
	Status       SubmissionStatus `json:"status"`
	TestResults  []TestResult     `json:"test_results"`
	CompileLog   string           `json:"compile_log,omitempty"`
	Error        string           `json:"error,omitempty"`
	Submission   *Submission      `json:"-"`
}

// FinishedPayload closes a duel. Duel is the terminal snapshot.
type FinishedPayload struct {
	WinnerID      string         `json:"winner_id,omitempty"`
	Reason        FinishReason   `json:"reason"`
	RatingUpdates []RatingUpdate `json:"rating_updates"`
	Duel          *Duel          `json:"-"`
}

// StateChanged builds a DuelStateChanged event.
func StateChanged(d *Duel) Outbound {
	return Outbound{Type: EventDuelStateChanged, DuelID: d.ID, Duel: d}
}

// VerdictEvent builds a SubmissionVerdict event from a submission snapshot.
func VerdictEvent(s *Submission) Outbound {
	return Outbound{
		Type:   EventSubmissionVerdict,
		DuelID: s.DuelID,
		Verdict: &SubmissionVerdict{
			SubmissionID: s.ID,
			UserID:       s.UserID,
			Status:       s.Status,
			TestResults:  s.TestResults,
			CompileLog:   s.CompileLog,
			Error:        s.Error,
			Submission:   s,
		},
	}
}

// FinishedEvent builds a DuelFinished event.
func FinishedEvent(d *Duel, updates []RatingUpdate) Outbound {
	if updates == nil {
		updates = []RatingUpdate{}
	}
	return Outbound{
		Type:   EventDuelFinished,
		DuelID: d.ID,
		Finished: &FinishedPayload{
			WinnerID:      d.WinnerID,
			Reason:        d.FinishReason,
			RatingUpdates: updates,
			Duel:          d,
		},
	}
}
