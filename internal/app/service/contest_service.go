package service

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"
	"cpc_portal/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
)

type ContestService struct {
	contestRepo repository.ContestRepository
	rdb         *redis.Client // nil disables the leaderboard cache
	cacheTTL    time.Duration
}

func NewContestService(contestRepo repository.ContestRepository, rdb *redis.Client, cacheTTL time.Duration) *ContestService {
	return &ContestService{contestRepo: contestRepo, rdb: rdb, cacheTTL: cacheTTL}
}

type CreateContestRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Problems    []model.Problem `json:"problems,omitempty"`
}

func (s *ContestService) Create(ctx context.Context, createdBy string, req CreateContestRequest) (*model.Contest, error) {
	if req.Title == "" {
		return nil, common.Errorf("contest title is required: %w", common.ErrBadRequest)
	}

	contest := &model.Contest{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Slug:        slug.Make(req.Title),
		Description: req.Description,
		Problems:    req.Problems,
		CreatedByID: &createdBy,
	}
	if contest.Problems == nil {
		contest.Problems = []model.Problem{}
	}

	if err := s.contestRepo.Create(ctx, contest); err != nil {
		return nil, err
	}
	return contest, nil
}

// Get returns a contest. For non-admin viewers, hidden test cases and the
// expected outputs of legacy test cases are stripped from every problem.
func (s *ContestService) Get(ctx context.Context, id string, isAdmin bool) (*model.Contest, error) {
	contest, err := s.contestRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		for i := range contest.Problems {
			contest.Problems[i].HiddenTestCases = nil
		}
	}
	return contest, nil
}

// GetBySlug is Get keyed by the contest's URL slug.
func (s *ContestService) GetBySlug(ctx context.Context, contestSlug string, isAdmin bool) (*model.Contest, error) {
	contest, err := s.contestRepo.FindBySlug(ctx, contestSlug)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		for i := range contest.Problems {
			contest.Problems[i].HiddenTestCases = nil
		}
	}
	return contest, nil
}

func (s *ContestService) List(ctx context.Context, limit, offset int) ([]model.Contest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.contestRepo.List(ctx, limit, offset)
}

func (s *ContestService) AddProblem(ctx context.Context, contestID string, problem model.Problem) error {
	if problem.Title == "" {
		return common.Errorf("problem title is required: %w", common.ErrBadRequest)
	}
	if len(problem.SampleTestCases)+len(problem.HiddenTestCases)+len(problem.TestCases) == 0 {
		return common.Errorf("problem needs at least one test case: %w", common.ErrBadRequest)
	}
	return s.contestRepo.AppendProblem(ctx, contestID, problem)
}

func (s *ContestService) Delete(ctx context.Context, id string) error {
	return s.contestRepo.Delete(ctx, id)
}

// Leaderboard folds the contest's append-only results log into per-user
// standings: number of distinct problems with an accepted result, ranked by
// solved count then total attempts. Recomputing on every request is cheap
// enough, but the hot path during a live contest goes through Redis.
func (s *ContestService) Leaderboard(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	cacheKey := "leaderboard:" + contestID
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var entries []model.LeaderboardEntry
			if json.Unmarshal(cached, &entries) == nil {
				return entries, nil
			}
		}
	}

	contest, err := s.contestRepo.FindByID(ctx, contestID)
	if err != nil {
		return nil, err
	}

	entries := buildLeaderboard(contest.Results)

	if s.rdb != nil {
		if data, err := json.Marshal(entries); err == nil {
			if err := s.rdb.Set(ctx, cacheKey, data, s.cacheTTL).Err(); err != nil {
				log.Printf("WARN: failed to cache leaderboard for contest %s: %v", contestID, err)
			}
		}
	}
	return entries, nil
}

func buildLeaderboard(results []model.ContestResult) []model.LeaderboardEntry {
	type userStats struct {
		solved   map[int]bool
		attempts int
	}
	stats := make(map[string]*userStats)
	order := make([]string, 0)

	for _, r := range results {
		st, ok := stats[r.UserID]
		if !ok {
			st = &userStats{solved: make(map[int]bool)}
			stats[r.UserID] = st
			order = append(order, r.UserID)
		}
		st.attempts++
		if r.Status == model.StatusAccepted {
			st.solved[r.ProblemIdx] = true
		}
	}

	entries := make([]model.LeaderboardEntry, 0, len(stats))
	for _, userID := range order {
		st := stats[userID]
		entries = append(entries, model.LeaderboardEntry{
			UserID:   userID,
			Solved:   len(st.solved),
			Attempts: st.attempts,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Solved != entries[j].Solved {
			return entries[i].Solved > entries[j].Solved
		}
		return entries[i].Attempts < entries[j].Attempts
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
