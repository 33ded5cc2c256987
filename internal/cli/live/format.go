package live

import (
	"fmt"
	"strings"

	"codeduel/internal/duel/gateway"
	"codeduel/internal/duel/model"
)

// Format renders a server frame as one or more human readable lines.
func Format(msg gateway.ServerMessage) string {
	switch msg.Type {
	case gateway.TypePong:
		return "pong"
	case gateway.TypeError:
		if msg.Error == nil {
			return "error"
		}
		return fmt.Sprintf("error %d: %s", msg.Error.Code, msg.Error.Message)
	case string(model.EventDuelStateChanged):
		return formatDuel(msg.Duel)
	case string(model.EventSubmissionVerdict):
		return formatVerdict(msg.Verdict)
	case string(model.EventDuelFinished):
		return formatFinished(msg.Finished)
	}
	return msg.Type
}

func formatDuel(d *model.Duel) string {
	if d == nil {
		return "duel state changed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "duel %s [%s]", d.ID, d.Status)
	if d.Task != nil {
		fmt.Fprintf(&b, " task=%s", d.Task.ID)
	}
	if d.InviteCode != "" {
		fmt.Fprintf(&b, " invite=%s", d.InviteCode)
	}
	if d.Deadline != nil {
		fmt.Fprintf(&b, " deadline=%s", d.Deadline.Local().Format("15:04:05"))
	}
	for _, p := range d.Players {
		flags := make([]string, 0, 4)
		if p.IsReady {
			flags = append(flags, "ready")
		}
		if p.HasSubmitted {
			flags = append(flags, "submitted")
		}
		if p.Verdict != "" {
			flags = append(flags, string(p.Verdict))
		}
		if !p.Connected {
			flags = append(flags, "offline")
		}
		fmt.Fprintf(&b, "\n  %s %s", p.UserID, strings.Join(flags, ","))
	}
	return b.String()
}

func formatVerdict(v *model.SubmissionVerdict) string {
	if v == nil {
		return "verdict"
	}
	passed := 0
	for _, r := range v.TestResults {
		if r.Passed {
			passed++
		}
	}
	line := fmt.Sprintf("verdict %s for %s: %s (%d/%d passed)", v.SubmissionID, v.UserID, v.Status, passed, len(v.TestResults))
	if v.CompileLog != "" {
		line += "\n" + v.CompileLog
	}
	if v.Error != "" {
		line += "\n" + v.Error
	}
	return line
}

func formatFinished(f *model.FinishedPayload) string {
	if f == nil {
		return "duel finished"
	}
	winner := f.WinnerID
	if winner == "" {
		winner = "draw"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "duel finished (%s): %s", f.Reason, winner)
	for _, u := range f.RatingUpdates {
		fmt.Fprintf(&b, "\n  %s %d -> %d (%+d)", u.UserID, u.OldRating, u.NewRating, u.Delta())
	}
	return b.String()
}
