package service

import (
	"context"
	"strconv"
	"time"

	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"
	"cpc_portal/internal/domain/repository"
	"cpc_portal/internal/judge"
)

// SampleRunner is the synchronous "Run Code" path: each sample test case is
// sent to the judge and polled to completion inline. Nothing is persisted;
// the caller gets the full per-test-case breakdown back.
type SampleRunner struct {
	contestRepo repository.ContestRepository
	judge       JudgeClient

	pollInterval        time.Duration
	defaultTimeLimitSec float64
}

func NewSampleRunner(contestRepo repository.ContestRepository, judgeClient JudgeClient, defaultTimeLimitSec float64) *SampleRunner {
	if defaultTimeLimitSec <= 0 {
		defaultTimeLimitSec = 2
	}
	return &SampleRunner{
		contestRepo:         contestRepo,
		judge:               judgeClient,
		pollInterval:        500 * time.Millisecond,
		defaultTimeLimitSec: defaultTimeLimitSec,
	}
}

type RunCodeResult struct {
	AllPassed       bool                   `json:"allPassed"`
	PassedCount     int                    `json:"passedCount"`
	TotalCount      int                    `json:"totalCount"`
	FirstFailed     *model.TestCaseResult  `json:"firstFailed"`
	CompileError    *string                `json:"compileError,omitempty"`
	TestCaseResults []model.TestCaseResult `json:"testCaseResults,omitempty"`
	MaxTime         string                 `json:"maxTime,omitempty"`
	MaxMemory       int                    `json:"maxMemory,omitempty"`
}

// Run executes the submitted source against a problem's sample test cases,
// one at a time. Lookup failures surface to the caller; once test cases
// start running, individual judge failures degrade to failing results and
// only a compilation error aborts the run early.
func (s *SampleRunner) Run(ctx context.Context, contestID string, problemIdx int, sourceCode string, languageID int) (*RunCodeResult, error) {
	contest, err := s.contestRepo.FindByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if problemIdx < 0 || problemIdx >= len(contest.Problems) {
		return nil, common.Errorf("problem %d not found in contest %s: %w", problemIdx, contestID, common.ErrNotFound)
	}
	problem := &contest.Problems[problemIdx]

	samples := problem.Samples()
	if len(samples) == 0 {
		return nil, common.Errorf("problem %d has no sample test cases: %w", problemIdx, common.ErrNoTestCases)
	}
	timeLimit := problem.TimeLimitSec(s.defaultTimeLimitSec)

	out := &RunCodeResult{TotalCount: len(samples)}
	var maxTime float64

	for i, tc := range samples {
		res, err := s.runTestCase(ctx, sourceCode, languageID, tc, timeLimit)
		if err != nil {
			// Judge unreachable for this test case: record the failure and
			// keep going with the rest of the samples.
			tcr := model.TestCaseResult{
				Index:    i,
				Input:    tc.Input,
				Expected: tc.Output,
				Error:    err.Error(),
			}
			out.TestCaseResults = append(out.TestCaseResults, tcr)
			if out.FirstFailed == nil {
				out.FirstFailed = &tcr
			}
			continue
		}

		if res.Status.ID == judge.StatusCompilationError {
			text := compileErrorText(res)
			return &RunCodeResult{
				AllPassed:    false,
				PassedCount:  0,
				TotalCount:   len(samples),
				FirstFailed:  nil,
				CompileError: &text,
			}, nil
		}

		tcr := model.TestCaseResult{
			Passed:   res.Status.ID == judge.StatusAccepted,
			Index:    i,
			Input:    tc.Input,
			Expected: tc.Output,
			Actual:   res.Stdout,
			Time:     res.Time,
			Memory:   res.Memory,
		}
		if !tcr.Passed && res.Status.ID >= 5 {
			tcr.Error = runtimeErrorText(res)
		}
		out.TestCaseResults = append(out.TestCaseResults, tcr)

		if tcr.Passed {
			out.PassedCount++
		} else if out.FirstFailed == nil {
			out.FirstFailed = &tcr
		}

		// Time arrives as a formatted string; compare numerically.
		if t, err := strconv.ParseFloat(res.Time, 64); err == nil && t > maxTime {
			maxTime = t
			out.MaxTime = res.Time
		}
		if res.Memory > out.MaxMemory {
			out.MaxMemory = res.Memory
		}
	}

	out.AllPassed = out.PassedCount == out.TotalCount
	return out, nil
}

// runTestCase submits one test case and blocks until the judge reports a
// terminal state.
func (s *SampleRunner) runTestCase(ctx context.Context, sourceCode string, languageID int, tc model.TestCase, timeLimitSec float64) (*judge.Result, error) {
	token, err := s.judge.SubmitWithTestCase(ctx, sourceCode, languageID, tc.Input, tc.Output, timeLimitSec)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, common.Errorf("judge returned no token")
	}

	for {
		res, err := s.judge.GetResult(ctx, token)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func compileErrorText(res *judge.Result) string {
	if res.CompileOutput != "" {
		return res.CompileOutput
	}
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Status.Description
}

func runtimeErrorText(res *judge.Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Status.Description
}
