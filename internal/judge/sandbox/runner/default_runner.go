package runner

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"codeduel/internal/judge/sandbox/config"
	"codeduel/internal/judge/sandbox/engine"
	"codeduel/internal/judge/sandbox/observer"
	"codeduel/internal/judge/sandbox/profile"
	"codeduel/internal/judge/sandbox/result"
	"codeduel/internal/judge/sandbox/spec"
	appErr "codeduel/pkg/errors"

	"github.com/google/shlex"
)

const (
	containerWorkDir = "/work"
	programDirName   = "prog"
	testsDirName     = "tests"
	inputName        = "input.txt"
	outputName       = "output.txt"
	compileOutName   = "compile.out"
	compileLogName   = "compile.log"
	runtimeLogName   = "runtime.log"
	maxCompileLog    = 4 * 1024
)

// DefaultRunner implements compile/run workflows for supported languages.
type DefaultRunner struct {
	eng      engine.Engine
	langs    config.LanguageSpecRepository
	profiles config.TaskProfileRepository
	workRoot string
	metrics  observer.MetricsRecorder
}

// NewRunner creates a new runner backed by the sandbox engine.
// Every submission gets a scratch directory under workRoot that is removed by Cleanup.
func NewRunner(eng engine.Engine, langs config.LanguageSpecRepository, profiles config.TaskProfileRepository, workRoot string, metrics observer.MetricsRecorder) (*DefaultRunner, error) {
	if eng == nil || langs == nil || profiles == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("runner dependencies are required")
	}
	if workRoot == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &DefaultRunner{eng: eng, langs: langs, profiles: profiles, workRoot: workRoot, metrics: metrics}, nil
}

// Prepare writes the source into a fresh scratch directory and compiles it once.
// A compile failure is reported through Program.Compile, not as an error.
func (r *DefaultRunner) Prepare(ctx context.Context, req PrepareRequest) (*Program, error) {
	if req.SubmissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	lang, err := r.langs.GetLanguageSpec(ctx, req.Language)
	if err != nil {
		return nil, err
	}
	runProfile, err := r.profiles.GetTaskProfile(ctx, profile.TaskTypeRun, lang.ID)
	if err != nil {
		return nil, err
	}

	root := filepath.Join(r.workRoot, filepath.Base(req.SubmissionID))
	if err := os.RemoveAll(root); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "reset scratch dir failed")
	}
	progDir := filepath.Join(root, programDirName)
	if err := os.MkdirAll(progDir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir failed")
	}
	prog := &Program{
		SubmissionID: req.SubmissionID,
		Language:     lang,
		RunProfile:   runProfile,
		Root:         root,
	}
	if err := os.WriteFile(filepath.Join(progDir, lang.SourceFile), []byte(req.Code), 0644); err != nil {
		r.Cleanup(prog)
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}

	if !lang.CompileEnabled {
		prog.Compile = result.CompileResult{OK: true}
		return prog, nil
	}

	compileProfile, err := r.profiles.GetTaskProfile(ctx, profile.TaskTypeCompile, lang.ID)
	if err != nil {
		r.Cleanup(prog)
		return nil, err
	}
	cmd, err := buildCommand(lang.CompileCmdTpl, lang)
	if err != nil {
		r.Cleanup(prog)
		return nil, err
	}
	runRes, err := r.eng.Run(ctx, spec.RunSpec{
		SubmissionID: req.SubmissionID,
		TestID:       "compile",
		WorkDir:      containerWorkDir,
		Cmd:          cmd,
		Env:          lang.Env,
		StdoutPath:   filepath.Join(containerWorkDir, compileOutName),
		StderrPath:   filepath.Join(containerWorkDir, compileLogName),
		Profile:      profile.Name(lang.ID, profile.TaskTypeCompile),
		Limits:       compileProfile.DefaultLimits,
		BindMounts:   []spec.MountSpec{{Source: progDir, Target: containerWorkDir}},
	})
	if err != nil {
		r.Cleanup(prog)
		return nil, err
	}

	prog.Compile = result.CompileResult{
		OK:       runRes.ExitCode == 0 && !runRes.TimedOut && !runRes.OomKilled,
		ExitCode: runRes.ExitCode,
		TimeMs:   runRes.WallTimeMs,
		MemoryKB: runRes.MemoryKB,
		Log:      compileLog(runRes),
	}
	r.metrics.ObserveCompile(ctx, lang.ID, prog.Compile.OK, prog.Compile.TimeMs, prog.Compile.MemoryKB)
	return prog, nil
}

// Execute runs a prepared program once with the given stdin.
// Each execution gets its own directory so nothing written by one test is visible to the next.
func (r *DefaultRunner) Execute(ctx context.Context, prog *Program, req ExecRequest) (result.Execution, error) {
	if prog == nil {
		return result.Execution{}, appErr.ValidationError("program", "required")
	}
	if !prog.Compiled() {
		return result.Execution{TestID: req.TestID, Outcome: result.OutcomeCompileFailed, Stderr: prog.Compile.Log}, nil
	}
	if req.TestID == "" {
		return result.Execution{}, appErr.ValidationError("test_id", "required")
	}

	testDir := filepath.Join(prog.Root, testsDirName, filepath.Base(req.TestID))
	if err := os.MkdirAll(testDir, 0755); err != nil {
		return result.Execution{}, appErr.Wrapf(err, appErr.JudgeSystemError, "create test dir failed")
	}
	defer func() {
		_ = os.RemoveAll(testDir)
	}()
	if err := copyArtifacts(filepath.Join(prog.Root, programDirName), testDir, prog.Language); err != nil {
		return result.Execution{}, err
	}
	if err := os.WriteFile(filepath.Join(testDir, inputName), []byte(req.Stdin), 0644); err != nil {
		return result.Execution{}, appErr.Wrapf(err, appErr.JudgeSystemError, "write input failed")
	}

	limits := applyLimits(spec.ResourceLimit{
		CPUTimeMs:  req.TimeLimitMs,
		WallTimeMs: req.TimeLimitMs,
		MemoryMB:   req.MemoryLimitMB,
	}, prog.RunProfile.DefaultLimits, prog.Language)
	cmd, err := buildCommand(prog.Language.RunCmdTpl, prog.Language)
	if err != nil {
		return result.Execution{}, err
	}

	runRes, err := r.eng.Run(ctx, spec.RunSpec{
		SubmissionID: prog.SubmissionID,
		TestID:       req.TestID,
		WorkDir:      containerWorkDir,
		Cmd:          cmd,
		Env:          prog.Language.Env,
		StdinPath:    filepath.Join(containerWorkDir, inputName),
		StdoutPath:   filepath.Join(containerWorkDir, outputName),
		StderrPath:   filepath.Join(containerWorkDir, runtimeLogName),
		Profile:      profile.Name(prog.Language.ID, profile.TaskTypeRun),
		Limits:       limits,
		BindMounts:   []spec.MountSpec{{Source: testDir, Target: containerWorkDir}},
	})
	if err != nil {
		return result.Execution{TestID: req.TestID}, err
	}

	exec := result.Execution{
		TestID:       req.TestID,
		Stdout:       runRes.Stdout,
		Stderr:       runRes.Stderr,
		ExitCode:     runRes.ExitCode,
		TimeUsedMs:   runRes.TimeMs,
		MemoryUsedKB: runRes.MemoryKB,
		OutputKB:     runRes.OutputKB,
		Outcome:      mapOutcome(runRes, limits),
	}
	r.metrics.ObserveRun(ctx, prog.Language.ID, string(exec.Outcome), exec.TimeUsedMs, exec.MemoryUsedKB)
	return exec, nil
}

// Run prepares, executes once and cleans up.
func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.Execution, error) {
	prog, err := r.Prepare(ctx, PrepareRequest{SubmissionID: req.SubmissionID, Language: req.Language, Code: req.Code})
	if err != nil {
		return result.Execution{}, err
	}
	defer r.Cleanup(prog)
	return r.Execute(ctx, prog, ExecRequest{
		TestID:        "run",
		Stdin:         req.Stdin,
		TimeLimitMs:   req.TimeLimitMs,
		MemoryLimitMB: req.MemoryLimitMB,
	})
}

// Cleanup removes the scratch directory of a program.
func (r *DefaultRunner) Cleanup(prog *Program) {
	if prog == nil || prog.Root == "" {
		return
	}
	_ = os.RemoveAll(prog.Root)
}

// Kill terminates every running process of a submission.
func (r *DefaultRunner) Kill(ctx context.Context, submissionID string) error {
	return r.eng.KillSubmission(ctx, submissionID)
}

func compileLog(res result.RunResult) string {
	log := res.Stderr
	if strings.TrimSpace(log) == "" {
		log = res.Stdout
	}
	if res.TimedOut {
		log = "compilation timed out\n" + log
	}
	if len(log) > maxCompileLog {
		log = log[:maxCompileLog]
	}
	return log
}

func copyArtifacts(progDir, testDir string, lang profile.LanguageSpec) error {
	names := []string{lang.SourceFile}
	if lang.CompileEnabled && lang.BinaryFile != "" && lang.BinaryFile != lang.SourceFile {
		names = append(names, lang.BinaryFile)
	}
	for _, name := range names {
		if err := copyFile(filepath.Join(progDir, name), filepath.Join(testDir, name)); err != nil {
			return appErr.Wrapf(err, appErr.JudgeSystemError, "copy %s failed", name)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func buildCommand(tpl string, lang profile.LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, "{src}", filepath.Join(containerWorkDir, lang.SourceFile))
	expanded = strings.ReplaceAll(expanded, "{bin}", filepath.Join(containerWorkDir, lang.BinaryFile))
	expanded = strings.ReplaceAll(expanded, "{dir}", containerWorkDir)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func applyLimits(override, defaults spec.ResourceLimit, lang profile.LanguageSpec) spec.ResourceLimit {
	merged := mergeLimits(defaults, override)
	return applyMultipliers(merged, lang)
}

func mergeLimits(base, override spec.ResourceLimit) spec.ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.OutputMB > 0 {
		base.OutputMB = override.OutputMB
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

func applyMultipliers(limits spec.ResourceLimit, lang profile.LanguageSpec) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, lang.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, lang.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, lang.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func mapOutcome(res result.RunResult, limits spec.ResourceLimit) result.Outcome {
	if res.TimedOut || res.ExitCode == -1 {
		return result.OutcomeTimedOut
	}
	if limits.CPUTimeMs > 0 && res.TimeMs > limits.CPUTimeMs {
		return result.OutcomeTimedOut
	}
	if res.OomKilled {
		return result.OutcomeMemoryExceeded
	}
	if limits.MemoryMB > 0 && res.MemoryKB > limits.MemoryMB*1024 {
		return result.OutcomeMemoryExceeded
	}
	if limits.OutputMB > 0 && res.OutputKB > limits.OutputMB*1024 {
		return result.OutcomeOutputExceeded
	}
	if res.ExitCode != 0 {
		return result.OutcomeCrashed
	}
	return result.OutcomeOK
}
