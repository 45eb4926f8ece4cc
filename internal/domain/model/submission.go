package model

import "time"

// SubmissionStatus serializes to the free-text strings the rest of the portal
// (and its stored rows) already use, so the values are not CamelCase.
type SubmissionStatus string

const (
	StatusPending          SubmissionStatus = "PENDING"
	StatusAccepted         SubmissionStatus = "Accepted"
	StatusWrongAnswer      SubmissionStatus = "Wrong Answer"
	StatusRuntimeError     SubmissionStatus = "Runtime Error"
	StatusCompilationError SubmissionStatus = "Compilation Error"
)

// TestCaseResult is the outcome of one test case. Index is the position in
// the combined sample-then-hidden list. Input and Expected are stripped
// before a hidden case is persisted; Actual and Error deliberately are not,
// so contestants can still see their own stdout/stderr.
type TestCaseResult struct {
	Passed   bool   `json:"passed"`
	Index    int    `json:"index"`
	Input    string `json:"input,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Time     string `json:"time,omitempty"`
	Memory   int    `json:"memory,omitempty"`
	Error    string `json:"error,omitempty"`
	IsHidden bool   `json:"isHidden"`
}

// TestCaseInfo is seeded at submission time so the poller knows which result
// index is hidden without re-deriving it from the contest.
type TestCaseInfo struct {
	Index    int  `json:"index"`
	IsHidden bool `json:"isHidden"`
}

// SubmissionResult is the JSON blob stored on a submission. The counts and
// TestCaseInfo are written once by the orchestrator; the remaining fields are
// filled in by the poller when every token has finished.
type SubmissionResult struct {
	TotalTestCases int            `json:"totalTestCases"`
	SampleCount    int            `json:"sampleCount"`
	HiddenCount    int            `json:"hiddenCount"`
	TestCaseInfo   []TestCaseInfo `json:"testCaseInfo"`

	AllPassed    *bool           `json:"allPassed,omitempty"`
	PassedCount  *int            `json:"passedCount,omitempty"`
	FirstFailed  *TestCaseResult `json:"firstFailed,omitempty"`
	CompileError *string         `json:"compileError,omitempty"`
	MaxTime      *string         `json:"maxTime,omitempty"`
	MaxMemory    *int            `json:"maxMemory,omitempty"`
}

type ContestSubmission struct {
	ID         string           `json:"id"`
	ContestID  string           `json:"contest_id"`
	ProblemIdx int              `json:"problem_idx"`
	UserID     string           `json:"user_id"`
	LanguageID int              `json:"language_id"`
	SourceCode string           `json:"source_code,omitempty"`
	Token      *string          `json:"token,omitempty"` // first test-case token, legacy
	Tokens     []string         `json:"tokens"`
	Status     SubmissionStatus `json:"status"`
	Result     SubmissionResult `json:"result"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// TokenList returns the per-test-case tokens, falling back to the legacy
// single-token field for rows created before Tokens existed.
func (s *ContestSubmission) TokenList() []string {
	if len(s.Tokens) > 0 {
		return s.Tokens
	}
	if s.Token != nil && *s.Token != "" {
		return []string{*s.Token}
	}
	return nil
}
