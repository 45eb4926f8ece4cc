package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"
)

type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.ContestSubmission) error
	FindByID(ctx context.Context, id string) (*model.ContestSubmission, error)
	FindPending(ctx context.Context, limit int) ([]model.ContestSubmission, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ContestSubmission, error)
	// FinalizeIfPending flips a submission out of PENDING, writing its
	// terminal status and result. It returns false when the row already left
	// PENDING, which makes reconciliation at-most-once.
	FinalizeIfPending(ctx context.Context, tx *sql.Tx, id string, status model.SubmissionStatus, result model.SubmissionResult) (bool, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

func (r *pgSubmissionRepository) Create(ctx context.Context, sub *model.ContestSubmission) error {
	tokens, err := json.Marshal(sub.Tokens)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.Create: marshal tokens: %w", err)
	}
	result, err := json.Marshal(sub.Result)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.Create: marshal result: %w", err)
	}

	query := `INSERT INTO contest_submissions
	          (id, contest_id, problem_idx, user_id, language_id, source_code, token, tokens, status, result)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query,
		sub.ID, sub.ContestID, sub.ProblemIdx, sub.UserID, sub.LanguageID, sub.SourceCode,
		sub.Token, tokens, sub.Status, result,
	)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.Create: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) FindByID(ctx context.Context, id string) (*model.ContestSubmission, error) {
	query := selectSubmission + ` WHERE id = $1`
	sub, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.FindByID: %w", err)
	}
	return sub, nil
}

// FindPending returns up to limit submissions still awaiting reconciliation.
// No ordering is promised; the poller sweeps until the backlog drains.
func (r *pgSubmissionRepository) FindPending(ctx context.Context, limit int) ([]model.ContestSubmission, error) {
	query := selectSubmission + ` WHERE status = $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, model.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.FindPending: %w", err)
	}
	defer rows.Close()
	return collectSubmissions(rows, "FindPending")
}

func (r *pgSubmissionRepository) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ContestSubmission, error) {
	query := selectSubmission + ` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.FindByUser: %w", err)
	}
	defer rows.Close()
	return collectSubmissions(rows, "FindByUser")
}

func (r *pgSubmissionRepository) FinalizeIfPending(ctx context.Context, tx *sql.Tx, id string, status model.SubmissionStatus, result model.SubmissionResult) (bool, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.FinalizeIfPending: marshal result: %w", err)
	}

	query := `UPDATE contest_submissions
	          SET status = $1, result = $2, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $3 AND status = $4`
	var res sql.Result
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, status, data, id, model.StatusPending)
	} else {
		res, err = r.db.ExecContext(ctx, query, status, data, id, model.StatusPending)
	}
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.FinalizeIfPending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.FinalizeIfPending: %w", err)
	}
	return n == 1, nil
}

const selectSubmission = `SELECT id, contest_id, problem_idx, user_id, language_id, source_code,
       token, tokens, status, result, created_at, updated_at
	FROM contest_submissions`

func scanSubmission(row rowScanner) (*model.ContestSubmission, error) {
	sub := &model.ContestSubmission{}
	var tokens, result []byte
	err := row.Scan(
		&sub.ID, &sub.ContestID, &sub.ProblemIdx, &sub.UserID, &sub.LanguageID, &sub.SourceCode,
		&sub.Token, &tokens, &sub.Status, &result, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &sub.Tokens); err != nil {
			return nil, fmt.Errorf("unmarshal tokens: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &sub.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return sub, nil
}

func collectSubmissions(rows *sql.Rows, op string) ([]model.ContestSubmission, error) {
	var subs []model.ContestSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.%s: %w", op, err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
