// Package poller reconciles PENDING submissions against the external judge.
// A recurring sweep fetches the verdict for every outstanding token and, only
// once all of a submission's tokens are terminal, writes the aggregate
// verdict, appends a leaderboard entry to the owning contest, and publishes a
// status-change event. A submission whose tokens are not all finished is left
// untouched for the next sweep.
package poller

import (
	"context"
	"database/sql"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"cpc_portal/internal/app/event"
	"cpc_portal/internal/domain/model"
	"cpc_portal/internal/domain/repository"
	"cpc_portal/internal/judge"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResultFetcher is the slice of the judge client the poller needs.
type ResultFetcher interface {
	GetResult(ctx context.Context, token string) (*judge.Result, error)
}

type Config struct {
	BatchSize        int
	LockKey          string
	LockTTL          time.Duration
	SubmissionMaxAge time.Duration
}

type Poller struct {
	submissionRepo repository.SubmissionRepository
	contestRepo    repository.ContestRepository
	judge          ResultFetcher
	bus            *event.Bus
	db             *sql.DB       // nil means no transaction wrapping (tests)
	rdb            *redis.Client // nil means no cross-replica lock

	batchSize     int
	retryAttempts int
	retryBackoff  time.Duration
	maxAge        time.Duration
	lockKey       string
	lockTTL       time.Duration

	inFlight atomic.Bool
}

func New(
	subRepo repository.SubmissionRepository,
	contestRepo repository.ContestRepository,
	judgeClient ResultFetcher,
	bus *event.Bus,
	db *sql.DB,
	rdb *redis.Client,
	cfg Config,
) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Poller{
		submissionRepo: subRepo,
		contestRepo:    contestRepo,
		judge:          judgeClient,
		bus:            bus,
		db:             db,
		rdb:            rdb,
		batchSize:      cfg.BatchSize,
		retryAttempts:  3,
		retryBackoff:   500 * time.Millisecond,
		maxAge:         cfg.SubmissionMaxAge,
		lockKey:        cfg.LockKey,
		lockTTL:        cfg.LockTTL,
	}
}

// Run invokes a sweep on a fixed cadence. A tick that fires while the
// previous sweep is still running is dropped, not queued.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	log.Printf("Submission poller started (interval %s).", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Submission poller stopping...")
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				log.Println("INFO: previous poll sweep still running, skipping tick")
				continue
			}
			go func() {
				defer p.inFlight.Store(false)
				p.sweep(ctx)
			}()
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	if p.rdb != nil {
		release, ok := p.acquireLock(ctx)
		if !ok {
			return
		}
		defer release()
	}

	processed, err := p.PollPending(ctx)
	if err != nil {
		log.Printf("ERROR: poll sweep failed: %v", err)
		return
	}
	if processed > 0 {
		log.Printf("Poll sweep reconciled %d submission(s).", processed)
	}
}

// acquireLock takes the cross-replica sweep lock. Release checks the lock
// value so an expired lock taken over by another replica is not deleted.
func (p *Poller) acquireLock(ctx context.Context) (func(), bool) {
	lockValue := uuid.NewString()
	ok, err := p.rdb.SetNX(ctx, p.lockKey, lockValue, p.lockTTL).Result()
	if err != nil {
		log.Printf("ERROR: failed to attempt poll lock acquisition: %v", err)
		return nil, false
	}
	if !ok {
		log.Println("INFO: poll lock held by another replica, skipping sweep")
		return nil, false
	}

	release := func() {
		script := redis.NewScript(`
            if redis.call("get", KEYS[1]) == ARGV[1] then
                return redis.call("del", KEYS[1])
            else
                return 0
            end
        `)
		if _, err := script.Run(ctx, p.rdb, []string{p.lockKey}, lockValue).Result(); err != nil {
			log.Printf("ERROR: failed to release poll lock: %v", err)
		}
	}
	return release, true
}

// PollPending drains one batch of PENDING submissions. The returned count is
// the number of submissions that reached a persisted aggregate verdict; a
// failure on one submission is logged and does not stop the batch.
func (p *Poller) PollPending(ctx context.Context) (int, error) {
	pending, err := p.submissionRepo.FindPending(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range pending {
		sub := &pending[i]
		done, err := p.processSubmission(ctx, sub)
		if err != nil {
			log.Printf("ERROR: failed to reconcile submission %s: %v", sub.ID, err)
			continue
		}
		if done {
			processed++
		}
	}
	return processed, nil
}

func (p *Poller) processSubmission(ctx context.Context, sub *model.ContestSubmission) (bool, error) {
	tokens := sub.TokenList()
	if len(tokens) == 0 {
		return p.handleTokenless(ctx, sub)
	}

	results := make([]*judge.Result, len(tokens))
	for i, token := range tokens {
		res, err := p.fetchResult(ctx, token)
		if err != nil {
			// One unreachable token must not fabricate a verdict; the whole
			// submission waits for the next sweep.
			log.Printf("WARN: token %s of submission %s unreachable after %d attempts: %v", token, sub.ID, p.retryAttempts, err)
			return false, nil
		}
		if !res.Status.Terminal() {
			return false, nil
		}
		results[i] = res
	}

	contest, err := p.contestRepo.FindByID(ctx, sub.ContestID)
	if err != nil {
		return false, err
	}

	status, result := p.aggregate(sub, contest, results)
	return p.finalize(ctx, sub, contest, status, result)
}

// handleTokenless deals with submissions that never got a judge token. They
// can never finish on their own, so after the max age they are failed rather
// than left PENDING forever.
func (p *Poller) handleTokenless(ctx context.Context, sub *model.ContestSubmission) (bool, error) {
	if p.maxAge <= 0 || time.Since(sub.CreatedAt) < p.maxAge {
		return false, nil
	}

	result := sub.Result
	errText := "no judge tokens recorded for this submission"
	zero := 0
	notPassed := false
	result.PassedCount = &zero
	result.AllPassed = &notPassed
	result.CompileError = nil
	result.FirstFailed = &model.TestCaseResult{Index: 0, Error: errText}

	contest, err := p.contestRepo.FindByID(ctx, sub.ContestID)
	if err != nil {
		return false, err
	}
	return p.finalize(ctx, sub, contest, model.StatusRuntimeError, result)
}

// fetchResult retries transient judge failures with exponential backoff.
func (p *Poller) fetchResult(ctx context.Context, token string) (*judge.Result, error) {
	var lastErr error
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := p.retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := p.judge.GetResult(ctx, token)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// aggregate folds per-token results into one verdict. Token positions
// correspond 1:1 to test-case positions in sample-then-hidden order;
// hiddenness comes from the testCaseInfo seeded at submission time.
func (p *Poller) aggregate(sub *model.ContestSubmission, contest *model.Contest, results []*judge.Result) (model.SubmissionStatus, model.SubmissionResult) {
	var combined []model.TestCase
	if sub.ProblemIdx >= 0 && sub.ProblemIdx < len(contest.Problems) {
		problem := &contest.Problems[sub.ProblemIdx]
		combined = append(combined, problem.Samples()...)
		combined = append(combined, problem.HiddenTestCases...)
	}

	out := sub.Result // keep the seeded counts and testCaseInfo
	passedCount := 0
	var firstFailed *model.TestCaseResult
	var compileError *string
	var maxTime float64
	maxTimeSeen := false
	maxMemory := 0

	for i, res := range results {
		tcr := model.TestCaseResult{
			Passed: res.Status.ID == judge.StatusAccepted,
			Index:  i,
			Actual: res.Stdout,
			Time:   res.Time,
			Memory: res.Memory,
		}
		if i < len(sub.Result.TestCaseInfo) {
			tcr.IsHidden = sub.Result.TestCaseInfo[i].IsHidden
		}
		if i < len(combined) {
			tcr.Input = combined[i].Input
			tcr.Expected = combined[i].Output
		}

		if res.Status.ID == judge.StatusCompilationError {
			if compileError == nil {
				text := res.CompileOutput
				if text == "" {
					text = res.Stderr
				}
				if text == "" {
					text = res.Status.Description
				}
				compileError = &text
			}
		} else if !tcr.Passed && res.Status.ID >= 5 {
			if res.Stderr != "" {
				tcr.Error = res.Stderr
			} else {
				tcr.Error = res.Status.Description
			}
		}

		if tcr.Passed {
			passedCount++
		} else if firstFailed == nil {
			ff := tcr
			firstFailed = &ff
		}

		if t, err := strconv.ParseFloat(res.Time, 64); err == nil {
			if !maxTimeSeen || t > maxTime {
				maxTime = t
				maxTimeSeen = true
			}
		}
		if res.Memory > maxMemory {
			maxMemory = res.Memory
		}
	}

	allPassed := passedCount == len(results)
	out.PassedCount = &passedCount
	out.AllPassed = &allPassed
	out.CompileError = compileError
	out.MaxMemory = &maxMemory
	if maxTimeSeen {
		formatted := strconv.FormatFloat(maxTime, 'f', 3, 64)
		out.MaxTime = &formatted
	}

	// A hidden test case must not leak its input or expected answer; the
	// contestant's own stdout/stderr stay visible.
	if firstFailed != nil && firstFailed.IsHidden {
		firstFailed.Input = ""
		firstFailed.Expected = ""
	}
	out.FirstFailed = firstFailed

	var status model.SubmissionStatus
	switch {
	case compileError != nil:
		status = model.StatusCompilationError
	case allPassed:
		status = model.StatusAccepted
	case firstFailed != nil && firstFailed.Error != "":
		status = model.StatusRuntimeError
	default:
		status = model.StatusWrongAnswer
	}
	return status, out
}

// finalize writes the verdict and the contest's leaderboard entry in one
// transaction. The status flip is guarded on the row still being PENDING, so
// a submission reconciled by an earlier sweep is skipped without a second
// results append.
func (p *Poller) finalize(ctx context.Context, sub *model.ContestSubmission, contest *model.Contest, status model.SubmissionStatus, result model.SubmissionResult) (bool, error) {
	var tx *sql.Tx
	if p.db != nil {
		var err error
		tx, err = p.db.BeginTx(ctx, nil)
		if err != nil {
			return false, err
		}
		defer tx.Rollback()
	}

	flipped, err := p.submissionRepo.FinalizeIfPending(ctx, tx, sub.ID, status, result)
	if err != nil {
		return false, err
	}
	if !flipped {
		log.Printf("WARN: submission %s already reconciled, skipping", sub.ID)
		return false, nil
	}

	entry := model.ContestResult{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ProblemIdx:   sub.ProblemIdx,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	if result.PassedCount != nil {
		entry.PassedCount = *result.PassedCount
	}
	entry.TotalCount = result.TotalTestCases
	if result.MaxTime != nil {
		entry.Time = *result.MaxTime
	}
	if result.MaxMemory != nil {
		entry.Memory = *result.MaxMemory
	}

	if err := p.contestRepo.AppendResult(ctx, tx, contest.ID, entry); err != nil {
		return false, err
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return false, err
		}
	}

	if p.bus != nil {
		p.bus.EmitSubmissionUpdate(sub.ID, status, result)
	}
	return true, nil
}
