// Package result defines sandbox execution results and outcome mapping.
package result

import (
	"fmt"
)

// RunResult captures raw sandbox execution data.
type RunResult struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
	TimedOut   bool
}

// Outcome classifies how a sandboxed program ended.
type Outcome string

const (
	OutcomeOK             Outcome = "OK"
	OutcomeCompileFailed  Outcome = "CompileFailed"
	OutcomeTimedOut       Outcome = "TimedOut"
	OutcomeMemoryExceeded Outcome = "MemoryExceeded"
	OutcomeOutputExceeded Outcome = "OutputExceeded"
	OutcomeCrashed        Outcome = "Crashed"
)

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	ExitCode int
	TimeMs   int64
	MemoryKB int64
	Log      string
}

// Execution is the outcome of running a program against one input.
type Execution struct {
	TestID       string
	Stdout       string
	Stderr       string
	ExitCode     int
	TimeUsedMs   int64
	MemoryUsedKB int64
	OutputKB     int64
	Outcome      Outcome
}

// OK reports whether the program exited normally within every limit.
func (e Execution) OK() bool {
	return e.Outcome == OutcomeOK
}

// Err returns the typed outcome as an error, nil when the run succeeded.
func (e Execution) Err() error {
	if e.OK() {
		return nil
	}
	return &OutcomeError{Outcome: e.Outcome, Execution: e}
}

// OutcomeError is returned by callers that prefer failing with a typed outcome.
type OutcomeError struct {
	Outcome   Outcome
	Execution Execution
}

func (e *OutcomeError) Error() string {
	switch e.Outcome {
	case OutcomeCompileFailed:
		return "compile failed"
	case OutcomeCrashed:
		return fmt.Sprintf("program crashed with exit code %d", e.Execution.ExitCode)
	default:
		return fmt.Sprintf("program stopped: %s", e.Outcome)
	}
}
