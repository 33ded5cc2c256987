// Package engine runs one RunSpec inside an isolated, resource-limited process tree.
package engine

import (
	"context"

	"codeduel/internal/judge/sandbox/result"
	"codeduel/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
// A non-nil error means the sandbox itself failed, never the submitted program.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}
