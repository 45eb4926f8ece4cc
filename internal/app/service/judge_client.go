package service

import (
	"context"

	"cpc_portal/internal/judge"
)

// JudgeClient is the slice of the judge wrapper the services need. The
// concrete implementation is judge.Client; tests substitute a fake.
type JudgeClient interface {
	SubmitWithTestCase(ctx context.Context, sourceCode string, languageID int, input, expectedOutput string, timeLimitSec float64) (string, error)
	GetResult(ctx context.Context, token string) (*judge.Result, error)
}
