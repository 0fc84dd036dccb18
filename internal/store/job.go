package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/domain"
)

// JobProgress is the non-blocking status view consumed by the presentation
// layer: aggregate status plus completed/total task counts and the most
// recent task-level error, queryable at any time by job id.
type JobProgress struct {
	Job            *domain.Job `json:"job"`
	TotalTasks     int         `json:"total_tasks"`
	CompletedTasks int         `json:"completed_tasks"`
	FailedTasks    int         `json:"failed_tasks"`
	LastTaskError  string      `json:"last_task_error,omitempty"`
}

// JobStore defines the interface for job persistence.
type JobStore interface {
	// CreateJob inserts a job together with its initial (source stage)
	// tasks in one atomic operation, so a job is never visible without
	// its stage-1 work.
	CreateJob(ctx context.Context, job *domain.Job, tasks []*domain.Task) error

	// GetJob retrieves a job by its id.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// GetJobProgress retrieves a job together with its aggregate task
	// counts. Returns ErrJobNotFound if the job does not exist.
	GetJobProgress(ctx context.Context, id uuid.UUID) (*JobProgress, error)

	// WithTx returns a JobStore bound to the provided transaction.
	WithTx(tx *sql.Tx) JobStore
}
