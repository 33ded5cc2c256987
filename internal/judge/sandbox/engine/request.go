package engine

import (
	"codeduel/internal/judge/sandbox/security"
	"codeduel/internal/judge/sandbox/spec"
)

// HelperFailedExitCode is what sandbox-init exits with when setup fails
// before the target program is exec'd.
const HelperFailedExitCode = 125

// InitRequest is handed to sandbox-init as JSON on stdin.
type InitRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
