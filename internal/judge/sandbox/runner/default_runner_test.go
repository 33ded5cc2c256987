package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"codeduel/internal/judge/sandbox/config"
	"codeduel/internal/judge/sandbox/profile"
	"codeduel/internal/judge/sandbox/result"
	"codeduel/internal/judge/sandbox/runner"
	"codeduel/internal/judge/sandbox/spec"
	appErr "codeduel/pkg/errors"
)

type fakeEngine struct {
	mu      sync.Mutex
	specs   []spec.RunSpec
	results map[string]result.RunResult
	errs    map[string]error
	killed  []string
}

func (f *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, runSpec)
	if err := f.errs[runSpec.TestID]; err != nil {
		return result.RunResult{}, err
	}
	res := f.results[runSpec.TestID]
	if runSpec.TestID == "compile" && res.ExitCode == 0 {
		host := runSpec.BindMounts[0].Source
		if err := os.WriteFile(filepath.Join(host, "main"), []byte("bin"), 0755); err != nil {
			return result.RunResult{}, err
		}
	}
	return res, nil
}

func (f *fakeEngine) KillSubmission(ctx context.Context, submissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, submissionID)
	return nil
}

func (f *fakeEngine) lastSpec() spec.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[len(f.specs)-1]
}

func newRepo() *config.LocalRepository {
	limits := spec.ResourceLimit{CPUTimeMs: 1000, WallTimeMs: 1000, MemoryMB: 64, OutputMB: 1, PIDs: 16}
	return config.NewLocalRepository(
		[]profile.LanguageSpec{
			{ID: "python", SourceFile: "main.py", RunCmdTpl: "python3 {src}", TimeMultiplier: 2},
			{ID: "cpp", SourceFile: "main.cpp", BinaryFile: "main", CompileEnabled: true, CompileCmdTpl: "g++ -O2 -o {bin} {src}", RunCmdTpl: "{bin}"},
		},
		[]profile.TaskProfile{
			{LanguageID: "python", TaskType: profile.TaskTypeRun, DefaultLimits: limits},
			{LanguageID: "cpp", TaskType: profile.TaskTypeRun, DefaultLimits: limits},
			{LanguageID: "cpp", TaskType: profile.TaskTypeCompile, DefaultLimits: spec.ResourceLimit{WallTimeMs: 10000, MemoryMB: 512}},
		},
	)
}

func newRunner(t *testing.T, eng *fakeEngine) (*runner.DefaultRunner, string) {
	t.Helper()
	root := t.TempDir()
	repo := newRepo()
	r, err := runner.NewRunner(eng, repo, repo, root, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r, root
}

func TestRunInterpretedAppliesTaskLimitsAndMultiplier(t *testing.T) {
	eng := &fakeEngine{results: map[string]result.RunResult{"run": {Stdout: "3\n", TimeMs: 10, MemoryKB: 2048}}}
	r, root := newRunner(t, eng)

	exec, err := r.Run(context.Background(), runner.RunRequest{
		SubmissionID:  "s1",
		Code:          "print(1+2)",
		Language:      "python",
		Stdin:         "",
		TimeLimitMs:   2000,
		MemoryLimitMB: 256,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Outcome != result.OutcomeOK || exec.Stdout != "3\n" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
	got := eng.lastSpec()
	if got.Limits.CPUTimeMs != 4000 || got.Limits.WallTimeMs != 4000 {
		t.Fatalf("expected time limits scaled to 4000ms, got %+v", got.Limits)
	}
	if got.Limits.MemoryMB != 256 || got.Limits.PIDs != 16 {
		t.Fatalf("expected task memory and profile pids, got %+v", got.Limits)
	}
	if got.Cmd[0] != "python3" || got.Cmd[1] != "/work/main.py" {
		t.Fatalf("unexpected command: %v", got.Cmd)
	}
	if got.Profile != "python-run" {
		t.Fatalf("unexpected profile: %s", got.Profile)
	}
	if _, err := os.Stat(filepath.Join(root, "s1")); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir removed, stat err=%v", err)
	}
}

func TestPrepareCompilesOnceAndExecutesPerTest(t *testing.T) {
	eng := &fakeEngine{results: map[string]result.RunResult{
		"t1": {Stdout: "ok"},
		"t2": {Stdout: "ok"},
	}}
	r, _ := newRunner(t, eng)
	ctx := context.Background()

	prog, err := r.Prepare(ctx, runner.PrepareRequest{SubmissionID: "s2", Language: "cpp", Code: "int main(){}"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer r.Cleanup(prog)
	if !prog.Compiled() {
		t.Fatalf("expected compiled program")
	}
	for _, id := range []string{"t1", "t2"} {
		exec, err := r.Execute(ctx, prog, runner.ExecRequest{TestID: id, Stdin: "1", TimeLimitMs: 1000, MemoryLimitMB: 64})
		if err != nil {
			t.Fatalf("execute %s: %v", id, err)
		}
		if !exec.OK() {
			t.Fatalf("execute %s: outcome %s", id, exec.Outcome)
		}
	}
	compiles := 0
	for _, s := range eng.specs {
		if s.TestID == "compile" {
			compiles++
		}
	}
	if compiles != 1 {
		t.Fatalf("expected one compile, got %d", compiles)
	}
}

func TestCompileFailureIsTypedOutcome(t *testing.T) {
	eng := &fakeEngine{results: map[string]result.RunResult{"compile": {ExitCode: 1, Stderr: "main.cpp:1: error"}}}
	r, _ := newRunner(t, eng)

	exec, err := r.Run(context.Background(), runner.RunRequest{SubmissionID: "s3", Code: "oops", Language: "cpp", TimeLimitMs: 1000, MemoryLimitMB: 64})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Outcome != result.OutcomeCompileFailed {
		t.Fatalf("expected compile failure, got %s", exec.Outcome)
	}
	var outcomeErr *result.OutcomeError
	if !errors.As(exec.Err(), &outcomeErr) || outcomeErr.Outcome != result.OutcomeCompileFailed {
		t.Fatalf("expected typed outcome error, got %v", exec.Err())
	}
}

func TestExecuteMapsLimitBreaches(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		res  result.RunResult
		want result.Outcome
	}{
		{name: "wall timer", res: result.RunResult{TimedOut: true, ExitCode: -1}, want: result.OutcomeTimedOut},
		{name: "cpu over limit", res: result.RunResult{TimeMs: 1500}, want: result.OutcomeTimedOut},
		{name: "oom kill", res: result.RunResult{OomKilled: true, ExitCode: 137}, want: result.OutcomeMemoryExceeded},
		{name: "peak over limit", res: result.RunResult{MemoryKB: 65 * 1024}, want: result.OutcomeMemoryExceeded},
		{name: "output over limit", res: result.RunResult{OutputKB: 2048}, want: result.OutcomeOutputExceeded},
		{name: "non-zero exit", res: result.RunResult{ExitCode: 1}, want: result.OutcomeCrashed},
		{name: "clean exit", res: result.RunResult{Stdout: "x"}, want: result.OutcomeOK},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := &fakeEngine{results: map[string]result.RunResult{"run": tc.res}}
			r, _ := newRunner(t, eng)
			exec, err := r.Run(context.Background(), runner.RunRequest{SubmissionID: "s", Code: "x", Language: "cpp", TimeLimitMs: 1000, MemoryLimitMB: 64})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if exec.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, exec.Outcome)
			}
		})
	}
}

func TestEngineFailureIsReturnedAsError(t *testing.T) {
	eng := &fakeEngine{errs: map[string]error{"run": appErr.New(appErr.JudgeSystemError)}}
	r, _ := newRunner(t, eng)
	_, err := r.Run(context.Background(), runner.RunRequest{SubmissionID: "s4", Code: "x", Language: "python", TimeLimitMs: 1000, MemoryLimitMB: 64})
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected judge system error, got %v", err)
	}
}

func TestUnknownLanguageRejected(t *testing.T) {
	r, _ := newRunner(t, &fakeEngine{})
	_, err := r.Prepare(context.Background(), runner.PrepareRequest{SubmissionID: "s5", Language: "cobol", Code: "x"})
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected language not supported, got %v", err)
	}
}

func TestKillDelegatesToEngine(t *testing.T) {
	eng := &fakeEngine{}
	r, _ := newRunner(t, eng)
	if err := r.Kill(context.Background(), "s6"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(eng.killed) != 1 || eng.killed[0] != "s6" {
		t.Fatalf("expected kill for s6, got %v", eng.killed)
	}
}
