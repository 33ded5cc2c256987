package machine

import "codeduel/internal/duel/model"

// firstAccepted returns the accepted submission received first,
// ties broken by the earlier submission time.
func (m *Machine) firstAccepted() *model.Submission {
	var best *model.Submission
	for _, s := range m.subs {
		if s.Status != model.StatusAccepted {
			continue
		}
		if best == nil || earlier(s, best) {
			best = s
		}
	}
	return best
}

func earlier(a, b *model.Submission) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.SubmittedAt.Before(b.SubmittedAt)
}

// decideWinner reports the winner once no submission received before the first
// accepted one is still being judged. Until then its owner is only provisional.
func (m *Machine) decideWinner() (string, bool) {
	best := m.firstAccepted()
	if best == nil {
		return "", false
	}
	for _, s := range m.subs {
		if !s.Status.IsTerminal() && earlier(s, best) {
			return "", false
		}
	}
	return best.UserID, true
}

// provisionalWinner is the holder of the first accepted verdict so far, if any.
func (m *Machine) provisionalWinner() string {
	if best := m.firstAccepted(); best != nil {
		return best.UserID
	}
	return ""
}

func (m *Machine) allCompleted() bool {
	if !m.duel.Full() {
		return false
	}
	for _, p := range m.duel.Players {
		if !p.HasSubmitted || !p.HasCompleted {
			return false
		}
	}
	return true
}
