package evaluator

import (
	"fmt"
	"strings"

	"codeduel/internal/duel/model"
	"codeduel/internal/judge/sandbox/result"
)

const maxErrorBytes = 1024

// verdictFor maps a sandbox outcome to a submission status and a short message.
func verdictFor(exec result.Execution) (model.SubmissionStatus, string) {
	switch exec.Outcome {
	case result.OutcomeOK:
		return model.StatusAccepted, ""
	case result.OutcomeCompileFailed:
		return model.StatusCompilationError, "compilation failed"
	case result.OutcomeTimedOut:
		return model.StatusTimeLimitExceeded, "time limit exceeded"
	case result.OutcomeMemoryExceeded:
		return model.StatusMemoryLimitExceeded, "memory limit exceeded"
	case result.OutcomeOutputExceeded:
		return model.StatusRuntimeError, "output limit exceeded"
	default:
		msg := fmt.Sprintf("exit code %d", exec.ExitCode)
		if tail := lastBytes(strings.TrimSpace(exec.Stderr), maxErrorBytes); tail != "" {
			msg += ": " + tail
		}
		return model.StatusRuntimeError, msg
	}
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
