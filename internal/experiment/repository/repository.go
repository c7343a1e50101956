package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"experiment_import_backend/platform/apperr"
)

const importNotFoundMessage = "experiment import not found"

// Repo implements the experiment import repository on PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new experiment import repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const importColumns = `id, program_id, user_id, workflow, commit_mode, status, finished, remaining, message, result, created_at, updated_at`

func scanImport(row pgx.Row) (Import, error) {
	var imp Import
	var result []byte
	err := row.Scan(
		&imp.ID, &imp.ProgramID, &imp.UserID, &imp.Workflow, &imp.Commit, &imp.Status,
		&imp.Finished, &imp.Remaining, &imp.Message, &result, &imp.CreatedAt, &imp.UpdatedAt,
	)
	imp.Result = result
	return imp, err
}

// jsonParam maps an empty document to SQL NULL.
func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// CreateImport registers a new import run.
func (r *Repo) CreateImport(ctx context.Context, params CreateImportParams) (Import, error) {
	query := `
		INSERT INTO experiment_imports (id, program_id, user_id, workflow, commit_mode, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + importColumns

	imp, err := scanImport(r.pool.QueryRow(ctx, query,
		params.ID, params.ProgramID, params.UserID, params.Workflow, params.Commit, params.Status,
	))
	if err != nil {
		return Import{}, fmt.Errorf("create experiment import: %w", err)
	}
	return imp, nil
}

// UpdateProgress stores the latest progress report of a run.
func (r *Repo) UpdateProgress(ctx context.Context, params ProgressParams) error {
	query := `
		UPDATE experiment_imports
		SET status = $2, finished = $3, remaining = $4, message = $5, updated_at = now()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, params.ID, params.Status, params.Finished, params.Remaining, params.Message)
	if err != nil {
		return fmt.Errorf("update experiment import progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(importNotFoundMessage)
	}
	return nil
}

// FinishImport records the final status and result of a run.
func (r *Repo) FinishImport(ctx context.Context, params FinishParams) error {
	query := `
		UPDATE experiment_imports
		SET status = $2, message = $3, result = $4, remaining = 0, updated_at = now()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, params.ID, params.Status, params.Message, jsonParam(params.Result))
	if err != nil {
		return fmt.Errorf("finish experiment import: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(importNotFoundMessage)
	}
	return nil
}

// GetImport retrieves an import run of a program.
func (r *Repo) GetImport(ctx context.Context, programID string, id uuid.UUID) (Import, error) {
	query := `SELECT ` + importColumns + ` FROM experiment_imports WHERE id = $1 AND program_id = $2`

	imp, err := scanImport(r.pool.QueryRow(ctx, query, id, programID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Import{}, apperr.NotFound(importNotFoundMessage)
		}
		return Import{}, fmt.Errorf("get experiment import: %w", err)
	}
	return imp, nil
}

// NextExperimentNumber allocates the next experiment number of a program.
// The upsert serializes concurrent imports of the same program on the row.
func (r *Repo) NextExperimentNumber(ctx context.Context, programID string) (int, error) {
	query := `
		INSERT INTO experiment_sequences (program_id, last_value)
		VALUES ($1, 1)
		ON CONFLICT (program_id)
		DO UPDATE SET last_value = experiment_sequences.last_value + 1, updated_at = now()
		RETURNING last_value`

	var next int
	if err := r.pool.QueryRow(ctx, query, programID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next experiment number: %w", err)
	}
	return next, nil
}
