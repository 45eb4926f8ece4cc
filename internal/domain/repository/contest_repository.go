package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cpc_portal/internal/common"
	"cpc_portal/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type ContestRepository interface {
	Create(ctx context.Context, contest *model.Contest) error
	FindByID(ctx context.Context, id string) (*model.Contest, error)
	FindBySlug(ctx context.Context, slug string) (*model.Contest, error)
	List(ctx context.Context, limit, offset int) ([]model.Contest, error)
	AppendProblem(ctx context.Context, contestID string, problem model.Problem) error
	AppendResult(ctx context.Context, tx *sql.Tx, contestID string, result model.ContestResult) error
	Delete(ctx context.Context, id string) error
}

// Contests keep their problems and results log as JSONB columns: problems
// are addressed by index and results are append-only, so neither needs
// relational structure of its own.
type pgContestRepository struct {
	db *sql.DB
}

func NewPgContestRepository(db *sql.DB) ContestRepository {
	return &pgContestRepository{db: db}
}

func (r *pgContestRepository) Create(ctx context.Context, c *model.Contest) error {
	problems, err := json.Marshal(c.Problems)
	if err != nil {
		return fmt.Errorf("pgContestRepository.Create: marshal problems: %w", err)
	}
	results, err := json.Marshal(c.Results)
	if err != nil {
		return fmt.Errorf("pgContestRepository.Create: marshal results: %w", err)
	}

	query := `INSERT INTO contests (id, title, slug, description, problems, results, created_by)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.db.ExecContext(ctx, query, c.ID, c.Title, c.Slug, c.Description, problems, results, c.CreatedByID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint for slug
			return fmt.Errorf("contest with this slug already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.Create: %w", err)
	}
	return nil
}

func (r *pgContestRepository) FindByID(ctx context.Context, id string) (*model.Contest, error) {
	query := `SELECT id, title, slug, description, problems, results, created_by, created_at, updated_at
	          FROM contests WHERE id = $1`
	return r.scanContest(r.db.QueryRowContext(ctx, query, id), "FindByID")
}

func (r *pgContestRepository) FindBySlug(ctx context.Context, slug string) (*model.Contest, error) {
	query := `SELECT id, title, slug, description, problems, results, created_by, created_at, updated_at
	          FROM contests WHERE slug = $1`
	return r.scanContest(r.db.QueryRowContext(ctx, query, slug), "FindBySlug")
}

func (r *pgContestRepository) List(ctx context.Context, limit, offset int) ([]model.Contest, error) {
	query := `SELECT id, title, slug, description, problems, results, created_by, created_at, updated_at
	          FROM contests ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.List: %w", err)
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		c, err := r.scanContestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("pgContestRepository.List: %w", err)
		}
		contests = append(contests, *c)
	}
	return contests, rows.Err()
}

// AppendProblem appends to the contest's problems array. Problems are never
// reordered or removed; submissions rely on index stability.
func (r *pgContestRepository) AppendProblem(ctx context.Context, contestID string, problem model.Problem) error {
	data, err := json.Marshal(problem)
	if err != nil {
		return fmt.Errorf("pgContestRepository.AppendProblem: marshal: %w", err)
	}
	query := `UPDATE contests
	          SET problems = problems || $1::jsonb, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, data, contestID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.AppendProblem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// AppendResult appends one leaderboard entry. It runs inside the poller's
// transaction so the entry and the submission's status flip commit together.
func (r *pgContestRepository) AppendResult(ctx context.Context, tx *sql.Tx, contestID string, result model.ContestResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("pgContestRepository.AppendResult: marshal: %w", err)
	}
	query := `UPDATE contests
	          SET results = results || $1::jsonb, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $2`
	var res sql.Result
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, data, contestID)
	} else {
		res, err = r.db.ExecContext(ctx, query, data, contestID)
	}
	if err != nil {
		return fmt.Errorf("pgContestRepository.AppendResult: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Delete removes a contest; submissions cascade via FK.
func (r *pgContestRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgContestRepository.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *pgContestRepository) scanContest(row *sql.Row, op string) (*model.Contest, error) {
	c, err := r.scanContestRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.%s: %w", op, err)
	}
	return c, nil
}

func (r *pgContestRepository) scanContestRow(row rowScanner) (*model.Contest, error) {
	c := &model.Contest{}
	var problems, results []byte
	err := row.Scan(&c.ID, &c.Title, &c.Slug, &c.Description, &problems, &results, &c.CreatedByID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		if err := json.Unmarshal(problems, &c.Problems); err != nil {
			return nil, fmt.Errorf("unmarshal problems: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &c.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return c, nil
}
