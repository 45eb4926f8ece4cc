package poller

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"cpc_portal/internal/app/event"
	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"
	"cpc_portal/internal/judge"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeFetcher struct {
	results map[string]*judge.Result
	errs    map[string]error
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string]*judge.Result),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) GetResult(_ context.Context, token string) (*judge.Result, error) {
	f.calls[token]++
	if err, ok := f.errs[token]; ok {
		return nil, err
	}
	if res, ok := f.results[token]; ok {
		return res, nil
	}
	return &judge.Result{Status: judge.Status{ID: judge.StatusInQueue}}, nil
}

func (f *fakeFetcher) accept(token, stdout, time string, memory int) {
	f.results[token] = &judge.Result{
		Status: judge.Status{ID: judge.StatusAccepted, Description: "Accepted"},
		Stdout: stdout,
		Time:   time,
		Memory: memory,
	}
}

type fakeSubRepo struct {
	subs map[string]*model.ContestSubmission
}

func newFakeSubRepo(subs ...*model.ContestSubmission) *fakeSubRepo {
	repo := &fakeSubRepo{subs: make(map[string]*model.ContestSubmission)}
	for _, s := range subs {
		repo.subs[s.ID] = s
	}
	return repo
}

func (r *fakeSubRepo) Create(_ context.Context, sub *model.ContestSubmission) error {
	r.subs[sub.ID] = sub
	return nil
}

func (r *fakeSubRepo) FindByID(_ context.Context, id string) (*model.ContestSubmission, error) {
	sub, ok := r.subs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (r *fakeSubRepo) FindPending(_ context.Context, limit int) ([]model.ContestSubmission, error) {
	var out []model.ContestSubmission
	for _, sub := range r.subs {
		if sub.Status == model.StatusPending && len(out) < limit {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) FindByUser(_ context.Context, userID string, limit, _ int) ([]model.ContestSubmission, error) {
	return nil, nil
}

func (r *fakeSubRepo) FinalizeIfPending(_ context.Context, _ *sql.Tx, id string, status model.SubmissionStatus, result model.SubmissionResult) (bool, error) {
	sub, ok := r.subs[id]
	if !ok || sub.Status != model.StatusPending {
		return false, nil
	}
	sub.Status = status
	sub.Result = result
	return true, nil
}

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
	copied := *c
	return &copied, nil
}

func (r *fakeContestRepo) FindBySlug(_ context.Context, _ string) (*model.Contest, error) {
	return nil, common.ErrNotFound
}

func (r *fakeContestRepo) List(_ context.Context, _, _ int) ([]model.Contest, error) {
	return nil, nil
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
	delete(r.contests, id)
	return nil
}

// --- helpers ---

func testContest() *model.Contest {
	return &model.Contest{
		ID:    "contest-1",
		Title: "Weekly Round 1",
		Problems: []model.Problem{
			{
				Title: "Sum Two Numbers",
				SampleTestCases: []model.TestCase{
					{Input: "1\n1", Output: "2"},
				},
				HiddenTestCases: []model.TestCase{
					{Input: "2\n2", Output: "4"},
					{Input: "100\n200", Output: "300"},
				},
			},
		},
	}
}

func pendingSubmission(tokens ...string) *model.ContestSubmission {
	info := make([]model.TestCaseInfo, len(tokens))
	for i := range tokens {
		info[i] = model.TestCaseInfo{Index: i, IsHidden: i >= 1} // 1 sample + rest hidden
	}
	sub := &model.ContestSubmission{
		ID:         "sub-1",
		ContestID:  "contest-1",
		ProblemIdx: 0,
		UserID:     "user-1",
		Tokens:     tokens,
		Status:     model.StatusPending,
		Result: model.SubmissionResult{
			TotalTestCases: len(tokens),
			SampleCount:    1,
			HiddenCount:    len(tokens) - 1,
			TestCaseInfo:   info,
		},
		CreatedAt: time.Now(),
	}
	if len(tokens) > 0 {
		sub.Token = &tokens[0]
	}
	return sub
}

func newTestPoller(subRepo *fakeSubRepo, contestRepo *fakeContestRepo, fetcher *fakeFetcher, bus *event.Bus) *Poller {
	p := New(subRepo, contestRepo, fetcher, bus, nil, nil, Config{BatchSize: 20})
	p.retryBackoff = time.Millisecond
	return p
}

// --- tests ---

func TestPollPending_AllAcceptedBecomesAccepted(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.002", 3000)
	fetcher.accept("t1", "4\n", "0.010", 3100)
	fetcher.accept("t2", "300\n", "0.005", 2900)

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1", "t2"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	sub := subRepo.subs["sub-1"]
	assert.Equal(t, model.StatusAccepted, sub.Status)
	require.NotNil(t, sub.Result.AllPassed)
	assert.True(t, *sub.Result.AllPassed)
	assert.Equal(t, 3, *sub.Result.PassedCount)
	assert.Nil(t, sub.Result.FirstFailed)
	assert.Equal(t, "0.010", *sub.Result.MaxTime)
	assert.Equal(t, 3100, *sub.Result.MaxMemory)

	// Exactly one leaderboard entry, matching the submission.
	results := contestRepo.contests["contest-1"].Results
	require.Len(t, results, 1)
	assert.Equal(t, "sub-1", results[0].SubmissionID)
	assert.Equal(t, "user-1", results[0].UserID)
	assert.Equal(t, model.StatusAccepted, results[0].Status)
	assert.Equal(t, 3, results[0].PassedCount)
	assert.Equal(t, 3, results[0].TotalCount)
}

func TestPollPending_ReconciliationIsAtMostOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	subRepo := newFakeSubRepo(pendingSubmission("t0"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Len(t, contestRepo.contests["contest-1"].Results, 1, "no second leaderboard append")
}

func TestPollPending_NonTerminalTokenLeavesSubmissionPending(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	fetcher.results["t1"] = &judge.Result{Status: judge.Status{ID: judge.StatusProcessing}}
	fetcher.accept("t2", "300\n", "0.001", 100)

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1", "t2"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	sub := subRepo.subs["sub-1"]
	assert.Equal(t, model.StatusPending, sub.Status)
	assert.Nil(t, sub.Result.AllPassed, "no partial result is persisted")
	assert.Empty(t, contestRepo.contests["contest-1"].Results)
}

func TestPollPending_UnreachableTokenRetriedThenDeferred(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	fetcher.errs["t1"] = errors.New("connection refused")

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 3, fetcher.calls["t1"], "bounded retry with backoff")
	assert.Equal(t, model.StatusPending, subRepo.subs["sub-1"].Status)
}

func TestPollPending_CompilationErrorTakesPrecedence(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	fetcher.results["t1"] = &judge.Result{
		Status:        judge.Status{ID: judge.StatusCompilationError, Description: "Compilation Error"},
		CompileOutput: "undefined reference to main",
	}
	fetcher.accept("t2", "300\n", "0.001", 100)

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1", "t2"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	sub := subRepo.subs["sub-1"]
	assert.Equal(t, model.StatusCompilationError, sub.Status)
	require.NotNil(t, sub.Result.CompileError)
	assert.Equal(t, "undefined reference to main", *sub.Result.CompileError)
}

func TestPollPending_HiddenFirstFailedIsRedacted(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	fetcher.results["t1"] = &judge.Result{ // hidden test case, wrong answer
		Status: judge.Status{ID: 4, Description: "Wrong Answer"},
		Stdout: "5\n",
	}
	fetcher.accept("t2", "300\n", "0.001", 100)

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1", "t2"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	sub := subRepo.subs["sub-1"]
	assert.Equal(t, model.StatusWrongAnswer, sub.Status)
	ff := sub.Result.FirstFailed
	require.NotNil(t, ff)
	assert.Equal(t, 1, ff.Index)
	assert.True(t, ff.IsHidden)
	assert.Empty(t, ff.Input, "hidden input must not be persisted")
	assert.Empty(t, ff.Expected, "hidden expected output must not be persisted")
	assert.Equal(t, "5\n", ff.Actual, "contestant's own stdout stays visible")
}

func TestPollPending_VisibleFirstFailedKeepsInputAndExpected(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["t0"] = &judge.Result{
		Status: judge.Status{ID: 4, Description: "Wrong Answer"},
		Stdout: "0\n",
	}
	fetcher.accept("t1", "4\n", "0.001", 100)
	fetcher.accept("t2", "300\n", "0.001", 100)

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1", "t2"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	ff := subRepo.subs["sub-1"].Result.FirstFailed
	require.NotNil(t, ff)
	assert.Equal(t, "1\n1", ff.Input)
	assert.Equal(t, "2", ff.Expected)
}

func TestPollPending_RuntimeErrorStatus(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["t0"] = &judge.Result{
		Status: judge.Status{ID: 11, Description: "Runtime Error (SIGSEGV)"},
		Stderr: "segmentation fault",
	}
	fetcher.accept("t1", "4\n", "0.001", 100)

	subRepo := newFakeSubRepo(pendingSubmission("t0", "t1"))
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	sub := subRepo.subs["sub-1"]
	assert.Equal(t, model.StatusRuntimeError, sub.Status)
	assert.Equal(t, "segmentation fault", sub.Result.FirstFailed.Error)
}

func TestPollPending_LegacySingleTokenFallback(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("legacy-tok", "2\n", "0.001", 100)

	sub := pendingSubmission()
	legacy := "legacy-tok"
	sub.Token = &legacy
	sub.Tokens = nil
	sub.Result = model.SubmissionResult{TotalTestCases: 1, SampleCount: 1,
		TestCaseInfo: []model.TestCaseInfo{{Index: 0}}}

	subRepo := newFakeSubRepo(sub)
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, model.StatusAccepted, subRepo.subs["sub-1"].Status)
}

func TestPollPending_TokenlessSubmissionSkippedUntilMaxAge(t *testing.T) {
	sub := pendingSubmission()
	sub.Token = nil
	sub.Tokens = nil

	subRepo := newFakeSubRepo(sub)
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, newFakeFetcher(), event.NewBus())
	p.maxAge = time.Hour

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, model.StatusPending, subRepo.subs["sub-1"].Status)

	// Once past the max age it is failed instead of pending forever.
	sub.CreatedAt = time.Now().Add(-2 * time.Hour)
	processed, err = p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, model.StatusRuntimeError, subRepo.subs["sub-1"].Status)
}

func TestPollPending_ErrorOnOneSubmissionDoesNotStopBatch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	fetcher.accept("bad-t0", "2\n", "0.001", 100)

	good := pendingSubmission("t0")
	bad := pendingSubmission("bad-t0")
	bad.ID = "sub-2"
	bad.ContestID = "no-such-contest" // contest lookup will fail

	subRepo := newFakeSubRepo(good, bad)
	contestRepo := newFakeContestRepo(testContest())
	p := newTestPoller(subRepo, contestRepo, fetcher, event.NewBus())

	processed, err := p.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, model.StatusAccepted, subRepo.subs["sub-1"].Status)
	assert.Equal(t, model.StatusPending, subRepo.subs["sub-2"].Status)
}

func TestPollPending_EmitsStatusChangeEvent(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)

	subRepo := newFakeSubRepo(pendingSubmission("t0"))
	contestRepo := newFakeContestRepo(testContest())
	bus := event.NewBus()

	var got []event.SubmissionUpdate
	bus.OnSubmissionUpdate("sub-1", func(u event.SubmissionUpdate) { got = append(got, u) })

	p := newTestPoller(subRepo, contestRepo, fetcher, bus)
	_, err := p.PollPending(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "sub-1", got[0].SubmissionID)
	assert.Equal(t, model.StatusAccepted, got[0].Status)
	require.NotNil(t, got[0].Result.AllPassed)
	assert.True(t, *got[0].Result.AllPassed)
}

func TestSweep_SkipsWhenLockHeldByAnotherReplica(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	fetcher := newFakeFetcher()
	fetcher.accept("t0", "2\n", "0.001", 100)
	subRepo := newFakeSubRepo(pendingSubmission("t0"))
	contestRepo := newFakeContestRepo(testContest())

	p := New(subRepo, contestRepo, fetcher, event.NewBus(), nil, rdb, Config{
		BatchSize: 20,
		LockKey:   "poll_lock",
		LockTTL:   time.Minute,
	})
	p.retryBackoff = time.Millisecond

	require.NoError(t, mr.Set("poll_lock", "someone-else"))
	p.sweep(context.Background())
	assert.Equal(t, model.StatusPending, subRepo.subs["sub-1"].Status, "sweep skipped while lock held")

	mr.Del("poll_lock")
	p.sweep(context.Background())
	assert.Equal(t, model.StatusAccepted, subRepo.subs["sub-1"].Status)
	assert.False(t, mr.Exists("poll_lock"), "lock released after sweep")
}
