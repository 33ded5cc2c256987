//go:build linux

package main

import (
	"fmt"

	"codeduel/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

const mb = 1024 * 1024

type rlimit struct {
	name     string
	resource int
	value    uint64
}

// applyRlimits backs up the cgroup limits for the resources rlimits can cap.
// Memory is left to the cgroup; RLIMIT_AS breaks runtimes that reserve
// large virtual ranges.
func applyRlimits(limits spec.ResourceLimit) error {
	rlimits := []rlimit{{name: "core", resource: unix.RLIMIT_CORE}}
	if limits.CPUTimeMs > 0 {
		rlimits = append(rlimits, rlimit{"cpu", unix.RLIMIT_CPU, uint64((limits.CPUTimeMs + 999) / 1000)})
	}
	if limits.OutputMB > 0 {
		rlimits = append(rlimits, rlimit{"fsize", unix.RLIMIT_FSIZE, uint64(limits.OutputMB) * mb})
	}
	if limits.StackMB > 0 {
		rlimits = append(rlimits, rlimit{"stack", unix.RLIMIT_STACK, uint64(limits.StackMB) * mb})
	}
	if limits.PIDs > 0 {
		rlimits = append(rlimits, rlimit{"nproc", unix.RLIMIT_NPROC, uint64(limits.PIDs)})
	}
	for _, rl := range rlimits {
		if err := unix.Setrlimit(rl.resource, &unix.Rlimit{Cur: rl.value, Max: rl.value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", rl.name, err)
		}
	}
	return nil
}
