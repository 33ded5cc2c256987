// Package runner turns (code, language, stdin) into sandboxed executions.
package runner

import (
	"context"

	"codeduel/internal/judge/sandbox/profile"
	"codeduel/internal/judge/sandbox/result"
)

// PrepareRequest describes one program to be written and compiled.
type PrepareRequest struct {
	SubmissionID string
	Language     string
	Code         string
}

// ExecRequest describes one execution of a prepared program.
type ExecRequest struct {
	TestID        string
	Stdin         string
	TimeLimitMs   int64
	MemoryLimitMB int64
}

// RunRequest is the single-shot form: prepare, execute once, clean up.
type RunRequest struct {
	SubmissionID  string
	Code          string
	Language      string
	Stdin         string
	TimeLimitMs   int64
	MemoryLimitMB int64
}

// Program is a compiled submission living in its scratch directory.
type Program struct {
	SubmissionID string
	Language     profile.LanguageSpec
	RunProfile   profile.TaskProfile
	Root         string
	Compile      result.CompileResult
}

// Compiled reports whether the program can be executed.
func (p *Program) Compiled() bool {
	return p != nil && p.Compile.OK
}

// Runner orchestrates compile and run workflows.
type Runner interface {
	Prepare(ctx context.Context, req PrepareRequest) (*Program, error)
	Execute(ctx context.Context, prog *Program, req ExecRequest) (result.Execution, error)
	Cleanup(prog *Program)
	Kill(ctx context.Context, submissionID string) error
}
