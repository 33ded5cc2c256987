package model

import "time"

// SubmissionStatus is the judging state of a submission.
type SubmissionStatus string

const (
	StatusPending             SubmissionStatus = "Pending"
	StatusRunning             SubmissionStatus = "Running"
	StatusAccepted            SubmissionStatus = "Accepted"
	StatusWrongAnswer         SubmissionStatus = "WrongAnswer"
	StatusTimeLimitExceeded   SubmissionStatus = "TimeLimitExceeded"
	StatusMemoryLimitExceeded SubmissionStatus = "MemoryLimitExceeded"
	StatusRuntimeError        SubmissionStatus = "RuntimeError"
	StatusCompilationError    SubmissionStatus = "CompilationError"
	// StatusSystemBusy answers a submit rejected because the judge queue is full.
	// It is never stored on a submission.
	StatusSystemBusy SubmissionStatus = "SystemBusy"
	// StatusCancelled marks a job withdrawn before its verdict because the duel
	// ended or the judge stopped. It closes the polled status; it is not a verdict.
	StatusCancelled SubmissionStatus = "Cancelled"
)

// IsTerminal reports whether the status is a final verdict.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusRuntimeError, StatusCompilationError:
		return true
	}
	return false
}

// severity orders verdicts, higher is worse.
var severity = map[SubmissionStatus]int{
	StatusAccepted:            0,
	StatusWrongAnswer:         1,
	StatusMemoryLimitExceeded: 2,
	StatusTimeLimitExceeded:   3,
	StatusRuntimeError:        4,
	StatusCompilationError:    5,
}

// Worse returns the more severe of two verdicts.
// CompilationError > RuntimeError > TimeLimitExceeded > MemoryLimitExceeded > WrongAnswer > Accepted.
func Worse(a, b SubmissionStatus) SubmissionStatus {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// TestResult is the outcome of one test case.
type TestResult struct {
	TestCaseID   string `json:"test_case_id"`
	Passed       bool   `json:"passed"`
	TimeUsedMs   *int64 `json:"time_used_ms,omitempty"`
	MemoryUsedKB *int64 `json:"memory_used_kb,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Submission is one judged attempt of a player.
type Submission struct {
	ID          string           `json:"id"`
	DuelID      string           `json:"duel_id"`
	UserID      string           `json:"user_id"`
	Code        string           `json:"code,omitempty"`
	Language    string           `json:"language"`
	Status      SubmissionStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	// Sequence is the receipt order of the submission within its duel, starting at 1.
	Sequence      int64        `json:"sequence"`
	TestResults   []TestResult `json:"test_results"`
	CompileLog    string       `json:"compile_log,omitempty"`
	CompileTimeMs int64        `json:"compile_time_ms,omitempty"`
	// Error describes a judge-side failure; code failures are reported per test.
	Error      string     `json:"error,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	out.TestResults = append([]TestResult(nil), s.TestResults...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// Int64Ptr is a helper for optional numeric fields.
func Int64Ptr(v int64) *int64 {
	return &v
}
