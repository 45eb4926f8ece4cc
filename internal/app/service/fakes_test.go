package service

import (
	"context"
	"database/sql"
	"fmt"

	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"
	"cpc_portal/internal/judge"
)

// fakeJudge records every submission in order and serves scripted results.
type fakeJudge struct {
	submits     []fakeSubmit
	submitErrAt map[int]error
	noTokenAt   map[int]bool
	results     map[string]*judge.Result
	resultSeq   map[string][]*judge.Result // consumed one per poll before results
	resultErrs  map[string]error
}

type fakeSubmit struct {
	source   string
	language int
	input    string
	expected string
	limit    float64
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{
		submitErrAt: make(map[int]error),
		noTokenAt:   make(map[int]bool),
		results:     make(map[string]*judge.Result),
		resultSeq:   make(map[string][]*judge.Result),
		resultErrs:  make(map[string]error),
	}
}

func (f *fakeJudge) SubmitWithTestCase(_ context.Context, source string, languageID int, input, expected string, limit float64) (string, error) {
	i := len(f.submits)
	f.submits = append(f.submits, fakeSubmit{source, languageID, input, expected, limit})
	if err := f.submitErrAt[i]; err != nil {
		return "", err
	}
	if f.noTokenAt[i] {
		return "", nil
	}
	return fmt.Sprintf("tok-%d", i), nil
}

func (f *fakeJudge) GetResult(_ context.Context, token string) (*judge.Result, error) {
	if err, ok := f.resultErrs[token]; ok {
		return nil, err
	}
	if seq := f.resultSeq[token]; len(seq) > 0 {
		res := seq[0]
		f.resultSeq[token] = seq[1:]
		return res, nil
	}
	if res, ok := f.results[token]; ok {
		return res, nil
	}
	return &judge.Result{Status: judge.Status{ID: judge.StatusInQueue}}, nil
}

func (f *fakeJudge) accept(token, stdout, time string, memory int) {
	f.results[token] = &judge.Result{
		Status: judge.Status{ID: judge.StatusAccepted, Description: "Accepted"},
		Stdout: stdout,
		Time:   time,
		Memory: memory,
	}
}

func (f *fakeJudge) reject(token string, statusID int, stdout, stderr string) {
	f.results[token] = &judge.Result{
		Status: judge.Status{ID: statusID, Description: "Rejected"},
		Stdout: stdout,
		Stderr: stderr,
	}
}

// fakeContestRepo keeps contests in memory.
type fakeContestRepo struct {
	contests map[string]*model.Contest
}

func newFakeContestRepo(contests ...*model.Contest) *fakeContestRepo {
	repo := &fakeContestRepo{contests: make(map[string]*model.Contest)}
	for _, c := range contests {
		repo.contests[c.ID] = c
	}
	return repo
}

func (r *fakeContestRepo) Create(_ context.Context, c *model.Contest) error {
	r.contests[c.ID] = c
	return nil
}

func (r *fakeContestRepo) FindByID(_ context.Context, id string) (*model.Contest, error) {
	c, ok := r.contests[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyContest(c), nil
}

func (r *fakeContestRepo) FindBySlug(_ context.Context, s string) (*model.Contest, error) {
	for _, c := range r.contests {
		if c.Slug == s {
			return copyContest(c), nil
		}
	}
	return nil, common.ErrNotFound
}

// copyContest mimics the pg repo handing back freshly scanned rows.
func copyContest(c *model.Contest) *model.Contest {
	copied := *c
	copied.Problems = append([]model.Problem(nil), c.Problems...)
	copied.Results = append([]model.ContestResult(nil), c.Results...)
	return &copied
}

func (r *fakeContestRepo) List(_ context.Context, _, _ int) ([]model.Contest, error) {
	var out []model.Contest
	for _, c := range r.contests {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeContestRepo) AppendProblem(_ context.Context, id string, p model.Problem) error {
	c, ok := r.contests[id]
	if !ok {
		return common.ErrNotFound
	}
	c.Problems = append(c.Problems, p)
	return nil
}

func (r *fakeContestRepo) AppendResult(_ context.Context, _ *sql.Tx, id string, res model.ContestResult) error {
	c, ok := r.contests[id]
	if !ok {
		return common.ErrNotFound
	}
	c.Results = append(c.Results, res)
	return nil
}

func (r *fakeContestRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.contests[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.contests, id)
	return nil
}

// fakeSubmissionRepo keeps submissions in memory.
type fakeSubmissionRepo struct {
	subs map[string]*model.ContestSubmission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{subs: make(map[string]*model.ContestSubmission)}
}

func (r *fakeSubmissionRepo) Create(_ context.Context, sub *model.ContestSubmission) error {
	copied := *sub
	r.subs[sub.ID] = &copied
	return nil
}

func (r *fakeSubmissionRepo) FindByID(_ context.Context, id string) (*model.ContestSubmission, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *fakeSubmissionRepo) FindPending(_ context.Context, limit int) ([]model.ContestSubmission, error) {
	var out []model.ContestSubmission
	for _, sub := range r.subs {
		if sub.Status == model.StatusPending && len(out) < limit {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeSubmissionRepo) FindByUser(_ context.Context, userID string, limit, _ int) ([]model.ContestSubmission, error) {
	var out []model.ContestSubmission
	for _, sub := range r.subs {
		if sub.UserID == userID && len(out) < limit {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeSubmissionRepo) FinalizeIfPending(_ context.Context, _ *sql.Tx, id string, status model.SubmissionStatus, result model.SubmissionResult) (bool, error) {
	sub, ok := r.subs[id]
	if !ok || sub.Status != model.StatusPending {
		return false, nil
	}
	sub.Status = status
	sub.Result = result
	return true, nil
}

func sampleContest() *model.Contest {
	return &model.Contest{
		ID:    "contest-1",
		Title: "Weekly Round 1",
		Slug:  "weekly-round-1",
		Problems: []model.Problem{
			{
				Title: "Sum Two Numbers",
				Constraints: model.Constraints{
					TimeLimitSec:  1,
					MemoryLimitMB: 256,
				},
				SampleTestCases: []model.TestCase{
					{Input: "1\n1", Output: "2"},
					{Input: "2\n2", Output: "4"},
				},
				HiddenTestCases: []model.TestCase{
					{Input: "100\n200", Output: "300"},
				},
			},
		},
	}
}
