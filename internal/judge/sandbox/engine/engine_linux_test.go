//go:build linux

package engine_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeduel/internal/judge/sandbox/engine"
	"codeduel/internal/judge/sandbox/security"
	"codeduel/internal/judge/sandbox/spec"
	appErr "codeduel/pkg/errors"
)

type staticResolver struct{}

func (staticResolver) Resolve(profile string) (security.IsolationProfile, error) {
	return security.IsolationProfile{}, nil
}

// runSpecIn writes output files under dir; cgroups, when enabled, live in dir/cgroup.
func runSpecIn(dir, id string, cmd string, limits spec.ResourceLimit) spec.RunSpec {
	return spec.RunSpec{
		SubmissionID: id,
		TestID:       "t1",
		WorkDir:      dir,
		Cmd:          []string{"/bin/sh", "-c", cmd},
		StdoutPath:   filepath.Join(dir, "stdout.txt"),
		StderrPath:   filepath.Join(dir, "stderr.txt"),
		Profile:      "python-run",
		Limits:       limits,
	}
}

func TestLinuxEngineAppliesCgroupLimits(t *testing.T) {
	helper := buildHelper(t)
	dir := t.TempDir()
	cgroupRoot := filepath.Join(dir, "cgroup")
	eng, err := engine.NewEngine(engine.Config{CgroupRoot: cgroupRoot, HelperPath: helper, EnableCgroup: true}, staticResolver{})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	runSpec := runSpecIn(dir, "sub-limits", "echo ok; sleep 0.3", spec.ResourceLimit{MemoryMB: 16, PIDs: 5, WallTimeMs: 3000})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(ctx, runSpec)
		done <- err
	}()

	runDir, err := waitForRunDir(cgroupRoot, runSpec.SubmissionID, 2*time.Second)
	if err != nil {
		t.Fatalf("wait for cgroup directory: %v", err)
	}
	for file, want := range map[string]string{
		"pids.max":   "5",
		"memory.max": "16777216",
		"cpu.max":    "100000 100000",
	} {
		data, err := os.ReadFile(filepath.Join(runDir, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if got := strings.TrimSpace(string(data)); got != want {
			t.Fatalf("%s = %q, want %q", file, got, want)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestLinuxEngineKillSubmissionAndCleanup(t *testing.T) {
	helper := buildHelper(t)
	dir := t.TempDir()
	cgroupRoot := filepath.Join(dir, "cgroup")
	eng, err := engine.NewEngine(engine.Config{CgroupRoot: cgroupRoot, HelperPath: helper, EnableCgroup: true}, staticResolver{})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	runSpec := runSpecIn(dir, "sub-kill", "echo hello; echo oops 1>&2; sleep 0.5", spec.ResourceLimit{WallTimeMs: 2000})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	type outcome struct {
		stdout, stderr string
		err            error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := eng.Run(ctx, runSpec)
		done <- outcome{res.Stdout, res.Stderr, err}
	}()

	runDir, err := waitForRunDir(cgroupRoot, runSpec.SubmissionID, 2*time.Second)
	if err != nil {
		t.Fatalf("wait for cgroup directory: %v", err)
	}
	killPath := filepath.Join(runDir, "cgroup.kill")
	if err := os.WriteFile(killPath, []byte("0"), 0600); err != nil {
		t.Fatalf("prepare cgroup.kill: %v", err)
	}
	if err := eng.KillSubmission(ctx, runSpec.SubmissionID); err != nil {
		t.Fatalf("kill submission: %v", err)
	}
	if data, _ := os.ReadFile(killPath); strings.TrimSpace(string(data)) != "1" {
		t.Fatalf("expected cgroup.kill written, got %q", data)
	}
	// Control files are removed so the fake cgroup directory can be rmdir'd.
	entries, _ := os.ReadDir(runDir)
	for _, e := range entries {
		_ = os.Remove(filepath.Join(runDir, e.Name()))
	}

	out := <-done
	if out.err != nil {
		t.Fatalf("run failed: %v", out.err)
	}
	if !strings.Contains(out.stdout, "hello") || !strings.Contains(out.stderr, "oops") {
		t.Fatalf("unexpected output: stdout=%q stderr=%q", out.stdout, out.stderr)
	}
	if _, err := os.Stat(runDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected cgroup directory removed, stat err=%v", err)
	}
}

func TestLinuxEngineRunOutcomes(t *testing.T) {
	helper := buildHelper(t)
	eng, err := engine.NewEngine(engine.Config{HelperPath: helper, StdoutStderrMaxBytes: 8}, staticResolver{})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	cases := []struct {
		name   string
		cmd    string
		limits spec.ResourceLimit
		check  func(t *testing.T, exitCode int, stdout, stderr string, timedOut bool, err error)
	}{
		{
			name:   "output truncated",
			cmd:    "printf '0123456789'; printf 'abcdefghij' 1>&2",
			limits: spec.ResourceLimit{WallTimeMs: 2000},
			check: func(t *testing.T, exitCode int, stdout, stderr string, timedOut bool, err error) {
				if err != nil || exitCode != 0 {
					t.Fatalf("run failed: exit=%d err=%v", exitCode, err)
				}
				if len(stdout) != 8 || len(stderr) != 8 {
					t.Fatalf("expected 8 bytes each, got %d/%d", len(stdout), len(stderr))
				}
			},
		},
		{
			name:   "wall timer kills",
			cmd:    "sleep 2",
			limits: spec.ResourceLimit{WallTimeMs: 100},
			check: func(t *testing.T, exitCode int, stdout, stderr string, timedOut bool, err error) {
				if err != nil {
					t.Fatalf("run failed: %v", err)
				}
				if !timedOut || exitCode != -1 {
					t.Fatalf("expected timeout with exit -1, got timedOut=%v exit=%d", timedOut, exitCode)
				}
			},
		},
		{
			name:   "non-zero exit reported",
			cmd:    "exit 3",
			limits: spec.ResourceLimit{WallTimeMs: 2000},
			check: func(t *testing.T, exitCode int, stdout, stderr string, timedOut bool, err error) {
				if err != nil || exitCode != 3 {
					t.Fatalf("expected exit 3, got exit=%d err=%v", exitCode, err)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := eng.Run(ctx, runSpecIn(dir, "sub-"+strings.ReplaceAll(tc.name, " ", "-"), tc.cmd, tc.limits))
			tc.check(t, res.ExitCode, res.Stdout, res.Stderr, res.TimedOut, err)
		})
	}
}

func TestLinuxEngineHelperFailureIsSystemError(t *testing.T) {
	helper := buildHelper(t)
	eng, err := engine.NewEngine(engine.Config{HelperPath: helper}, staticResolver{})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	dir := t.TempDir()
	runSpec := runSpecIn(dir, "sub-missing", "", spec.ResourceLimit{WallTimeMs: 2000})
	runSpec.Cmd = []string{filepath.Join(dir, "does-not-exist")}

	_, err = eng.Run(context.Background(), runSpec)
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected judge system error, got %v", err)
	}
}

func TestLinuxEngineCancelledContext(t *testing.T) {
	helper := buildHelper(t)
	eng, err := engine.NewEngine(engine.Config{HelperPath: helper}, staticResolver{})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err = eng.Run(ctx, runSpecIn(t.TempDir(), "sub-cancel", "sleep 2", spec.ResourceLimit{WallTimeMs: 5000}))
	if !appErr.Is(err, appErr.JudgeCancelled) {
		t.Fatalf("expected judge cancelled, got %v", err)
	}
}

func waitForRunDir(root, submissionID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	submissionDir := filepath.Join(root, submissionID)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(submissionDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}
				// cgroup.procs is written once the helper has started.
				runDir := filepath.Join(submissionDir, entry.Name())
				if _, err := os.Stat(filepath.Join(runDir, "cgroup.procs")); err == nil {
					return runDir, nil
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for cgroup directory")
}

// buildHelper compiles a namespace-free stand-in for sandbox-init that speaks
// the same stdin protocol and exit codes.
func buildHelper(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	dir := filepath.Join(t.TempDir(), "helper")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("create helper dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module sandboxhelper\n\ngo 1.22\n"), 0644); err != nil {
		t.Fatalf("write helper go.mod: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(helperSource), 0644); err != nil {
		t.Fatalf("write helper main.go: %v", err)
	}
	out := filepath.Join(dir, "sandbox-init")
	cmd := exec.Command("go", "build", "-o", out, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOWORK=off")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build helper failed: %v: %s", err, output)
	}
	return out
}

const helperSource = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

type request struct {
	RunSpec struct {
		WorkDir    string
		Cmd        []string
		Env        []string
		StdoutPath string
		StderrPath string
	}
}

func main() {
	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fail(err)
	}
	stdout, err := os.Create(req.RunSpec.StdoutPath)
	if err != nil {
		fail(err)
	}
	stderr, err := os.Create(req.RunSpec.StderrPath)
	if err != nil {
		fail(err)
	}
	cmd := exec.Command(req.RunSpec.Cmd[0], req.RunSpec.Cmd[1:]...)
	cmd.Dir = req.RunSpec.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(125)
}
`
