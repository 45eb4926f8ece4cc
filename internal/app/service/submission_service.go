package service

import (
	"context"
	"log"

	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"
	"cpc_portal/internal/domain/repository"

	"github.com/google/uuid"
)

// SubmissionService is the asynchronous "Submit" path: it fans out one judge
// request per test case (samples first, then hidden, in order), persists a
// PENDING submission holding every returned token, and returns immediately.
// The reconciliation poller picks it up from there.
type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
	contestRepo    repository.ContestRepository
	judge          JudgeClient

	defaultTimeLimitSec float64
}

func NewSubmissionService(
	subRepo repository.SubmissionRepository,
	contestRepo repository.ContestRepository,
	judgeClient JudgeClient,
	defaultTimeLimitSec float64,
) *SubmissionService {
	if defaultTimeLimitSec <= 0 {
		defaultTimeLimitSec = 2
	}
	return &SubmissionService{
		submissionRepo:      subRepo,
		contestRepo:         contestRepo,
		judge:               judgeClient,
		defaultTimeLimitSec: defaultTimeLimitSec,
	}
}

func (s *SubmissionService) Submit(ctx context.Context, contestID string, problemIdx int, userID, sourceCode string, languageID int) (*model.ContestSubmission, error) {
	contest, err := s.contestRepo.FindByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if problemIdx < 0 || problemIdx >= len(contest.Problems) {
		return nil, common.Errorf("problem %d not found in contest %s: %w", problemIdx, contestID, common.ErrNotFound)
	}
	problem := &contest.Problems[problemIdx]

	samples := problem.Samples()
	combined := make([]model.TestCase, 0, len(samples)+len(problem.HiddenTestCases))
	combined = append(combined, samples...)
	combined = append(combined, problem.HiddenTestCases...)
	if len(combined) == 0 {
		return nil, common.Errorf("problem %d has no test cases: %w", problemIdx, common.ErrNoTestCases)
	}
	timeLimit := problem.TimeLimitSec(s.defaultTimeLimitSec)

	// Token positions must correspond 1:1 to test-case positions; the poller
	// aggregates by position, not by anything inside the token.
	tokens := make([]string, 0, len(combined))
	info := make([]model.TestCaseInfo, 0, len(combined))
	for i, tc := range combined {
		info = append(info, model.TestCaseInfo{Index: i, IsHidden: i >= len(samples)})

		token, err := s.judge.SubmitWithTestCase(ctx, sourceCode, languageID, tc.Input, tc.Output, timeLimit)
		if err != nil {
			log.Printf("WARN: judge submit failed for test case %d of contest %s problem %d: %v", i, contestID, problemIdx, err)
			continue
		}
		if token == "" {
			log.Printf("WARN: judge returned no token for test case %d of contest %s problem %d", i, contestID, problemIdx)
			continue
		}
		tokens = append(tokens, token)
	}

	sub := &model.ContestSubmission{
		ID:         uuid.NewString(),
		ContestID:  contestID,
		ProblemIdx: problemIdx,
		UserID:     userID,
		LanguageID: languageID,
		SourceCode: sourceCode,
		Tokens:     tokens,
		Status:     model.StatusPending,
		Result: model.SubmissionResult{
			TotalTestCases: len(combined),
			SampleCount:    len(samples),
			HiddenCount:    len(problem.HiddenTestCases),
			TestCaseInfo:   info,
		},
	}
	if len(tokens) > 0 {
		sub.Token = &tokens[0]
	}

	if err := s.submissionRepo.Create(ctx, sub); err != nil {
		return nil, common.Errorf("failed to create submission: %w", err)
	}

	log.Printf("Submission %s created with %d tokens (contest %s, problem %d).", sub.ID, len(tokens), contestID, problemIdx)
	return sub, nil
}

func (s *SubmissionService) GetByID(ctx context.Context, id string) (*model.ContestSubmission, error) {
	return s.submissionRepo.FindByID(ctx, id)
}

func (s *SubmissionService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.ContestSubmission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.submissionRepo.FindByUser(ctx, userID, limit, offset)
}
