package model

import "time"

type ProblemDifficulty string

const (
	DifficultyEasy   ProblemDifficulty = "Easy"
	DifficultyMedium ProblemDifficulty = "Medium"
	DifficultyHard   ProblemDifficulty = "Hard"
)

// TestCase is a single input/expected-output pair of an embedded problem.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type Constraints struct {
	TimeLimitSec  float64 `json:"time_limit_sec,omitempty"`
	MemoryLimitMB int     `json:"memory_limit_mb,omitempty"`
}

// Problem is embedded inside a contest and addressed by its index in
// Contest.Problems. Submissions reference that index, so problems are only
// ever appended, never reordered.
type Problem struct {
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Difficulty      ProblemDifficulty `json:"difficulty"`
	Tags            []string          `json:"tags,omitempty"`
	Constraints     Constraints       `json:"constraints"`
	SampleTestCases []TestCase        `json:"sample_test_cases,omitempty"`
	HiddenTestCases []TestCase        `json:"hidden_test_cases,omitempty"`
	TestCases       []TestCase        `json:"test_cases,omitempty"` // legacy, fallback for samples
}

// Samples returns the visible test cases, falling back to the legacy
// TestCases field when SampleTestCases is empty.
func (p *Problem) Samples() []TestCase {
	if len(p.SampleTestCases) > 0 {
		return p.SampleTestCases
	}
	return p.TestCases
}

// TimeLimitSec returns the configured limit or the given default.
func (p *Problem) TimeLimitSec(fallback float64) float64 {
	if p.Constraints.TimeLimitSec > 0 {
		return p.Constraints.TimeLimitSec
	}
	return fallback
}

// ContestResult is one entry of a contest's append-only results log,
// written by the reconciliation poller and read by the leaderboard.
type ContestResult struct {
	SubmissionID string           `json:"submission_id"`
	UserID       string           `json:"user_id"`
	ProblemIdx   int              `json:"problem_idx"`
	Status       SubmissionStatus `json:"status"`
	PassedCount  int              `json:"passed_count"`
	TotalCount   int              `json:"total_count"`
	Time         string           `json:"time,omitempty"`
	Memory       int              `json:"memory,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type Contest struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Description string          `json:"description,omitempty"`
	Problems    []Problem       `json:"problems"`
	Results     []ContestResult `json:"results,omitempty"`
	CreatedByID *string         `json:"created_by_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Solved   int    `json:"solved"`
	Attempts int    `json:"attempts"`
}
