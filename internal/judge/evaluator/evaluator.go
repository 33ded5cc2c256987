// Package evaluator judges one submission against the test cases of a task.
package evaluator

import (
	"context"
	"time"

	"codeduel/internal/duel/model"
	"codeduel/internal/judge/sandbox/result"
	"codeduel/internal/judge/sandbox/runner"
	appErr "codeduel/pkg/errors"
	"codeduel/pkg/utils/logger"

	"go.uber.org/zap"
)

// Request is one submission to judge.
type Request struct {
	SubmissionID string
	Language     string
	Code         string
	Task         *model.Task
}

// Result is the aggregated verdict. TestResults follow task order.
type Result struct {
	Status        model.SubmissionStatus
	TestResults   []model.TestResult
	CompileLog    string
	CompileTimeMs int64
	FinishedAt    time.Time
}

// Evaluator compiles a submission once and runs it test by test.
type Evaluator struct {
	runner     runner.Runner
	comparator Comparator
}

// New creates an evaluator. A nil comparator uses TrailingWhitespaceComparator.
func New(r runner.Runner, cmp Comparator) *Evaluator {
	if cmp == nil {
		cmp = TrailingWhitespaceComparator{}
	}
	return &Evaluator{runner: r, comparator: cmp}
}

// Evaluate judges the submission. Failures of the submitted code are verdicts;
// a returned error means the judge itself could not finish.
//
// Evaluation stops at the first failing test. When the task asks for full
// sample evaluation, public cases keep running after a failure and the most
// severe verdict wins; hidden cases are never run past a failure.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	if req.Task == nil {
		return Result{}, appErr.ValidationError("task", "required")
	}
	prog, err := e.runner.Prepare(ctx, runner.PrepareRequest{
		SubmissionID: req.SubmissionID,
		Language:     req.Language,
		Code:         req.Code,
	})
	if err != nil {
		return Result{}, err
	}
	defer e.runner.Cleanup(prog)

	res := Result{
		Status:        model.StatusAccepted,
		TestResults:   make([]model.TestResult, 0, len(req.Task.TestCases)),
		CompileLog:    prog.Compile.Log,
		CompileTimeMs: prog.Compile.TimeMs,
	}
	if !prog.Compiled() {
		res.Status = model.StatusCompilationError
		res.FinishedAt = time.Now()
		return res, nil
	}

	failed := false
	for _, tc := range req.Task.TestCases {
		if failed && !(req.Task.FullSampleEvaluation && tc.IsPublic) {
			continue
		}
		exec, err := e.runner.Execute(ctx, prog, runner.ExecRequest{
			TestID:        tc.ID,
			Stdin:         tc.Input,
			TimeLimitMs:   req.Task.TimeLimitMs,
			MemoryLimitMB: req.Task.MemoryLimitMB,
		})
		if err != nil {
			return Result{}, err
		}
		status, tr := e.judgeCase(tc, exec)
		res.TestResults = append(res.TestResults, tr)
		if status == model.StatusAccepted {
			continue
		}
		if !failed {
			res.Status = status
			failed = true
		} else {
			res.Status = model.Worse(res.Status, status)
		}
		if !req.Task.FullSampleEvaluation {
			break
		}
	}
	res.FinishedAt = time.Now()
	logger.Debug(ctx, "submission evaluated",
		zap.String("submission_id", req.SubmissionID),
		zap.String("status", string(res.Status)),
		zap.Int("tests_run", len(res.TestResults)),
	)
	return res, nil
}

func (e *Evaluator) judgeCase(tc model.TestCase, exec result.Execution) (model.SubmissionStatus, model.TestResult) {
	tr := model.TestResult{
		TestCaseID:   tc.ID,
		TimeUsedMs:   model.Int64Ptr(exec.TimeUsedMs),
		MemoryUsedKB: model.Int64Ptr(exec.MemoryUsedKB),
	}
	status, msg := verdictFor(exec)
	if status == model.StatusAccepted && !e.comparator.Compare(exec.Stdout, tc.ExpectedOutput) {
		status, msg = model.StatusWrongAnswer, "wrong answer"
	}
	tr.Passed = status == model.StatusAccepted
	tr.Error = msg
	return status, tr
}
