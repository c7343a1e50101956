package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Import statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Import is the persisted progress of one import run.
type Import struct {
	ID        uuid.UUID       `db:"id"`
	ProgramID string          `db:"program_id"`
	UserID    uuid.UUID       `db:"user_id"`
	Workflow  string          `db:"workflow"`
	Commit    bool            `db:"commit_mode"`
	Status    string          `db:"status"`
	Finished  int             `db:"finished"`
	Remaining int             `db:"remaining"`
	Message   string          `db:"message"`
	Result    json.RawMessage `db:"result"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// CreateImportParams contains data for registering an import.
type CreateImportParams struct {
	ID        uuid.UUID
	ProgramID string
	UserID    uuid.UUID
	Workflow  string
	Commit    bool
	Status    string
}

// ProgressParams is one progress update.
type ProgressParams struct {
	ID        uuid.UUID
	Status    string
	Finished  int
	Remaining int
	Message   string
}

// FinishParams records the outcome of an import.
type FinishParams struct {
	ID      uuid.UUID
	Status  string
	Message string
	Result  json.RawMessage
}

// Repository persists import progress and experiment sequences.
type Repository interface {
	CreateImport(ctx context.Context, params CreateImportParams) (Import, error)
	UpdateProgress(ctx context.Context, params ProgressParams) error
	FinishImport(ctx context.Context, params FinishParams) error
	GetImport(ctx context.Context, programID string, id uuid.UUID) (Import, error)
	NextExperimentNumber(ctx context.Context, programID string) (int, error)
}
