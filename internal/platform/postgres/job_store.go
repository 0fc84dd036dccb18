package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/platform/logger"
	"github.com/mikububu/readings-engine/internal/store"
)

// jobColumns is the canonical column list for scanning job rows.
const jobColumns = `id, type, params, status, error_message, created_at, updated_at`

// PostgresJobStore implements the store.JobStore interface using PostgreSQL.
type PostgresJobStore struct {
	db *sql.DB
	q  store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db, q: db}
}

// WithTx returns a JobStore bound to the provided transaction.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{q: tx}
}

// CreateJob inserts a job together with its initial source-stage tasks in
// one transaction, so a job is never visible without its stage-1 work.
func (s *PostgresJobStore) CreateJob(
	ctx context.Context,
	job *domain.Job,
	tasks []*domain.Task,
) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		if task.JobID != job.ID {
			return fmt.Errorf("%w: task %s does not belong to job %s",
				store.ErrInvalidEntity, task.ID, job.ID)
		}
	}

	run := func(q store.DBTX) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO jobs (id, type, params, status, error_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			job.ID,
			job.Type,
			nullableJSON(job.Params),
			job.Status,
			job.ErrorMessage,
			job.CreatedAt,
			job.UpdatedAt,
		)
		if err != nil {
			return store.NewStoreError("job", "create", "failed to insert job", MapError(err))
		}

		for _, task := range tasks {
			if err := insertTask(ctx, q, task); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if s.db == nil {
		err = run(s.q)
	} else {
		err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return run(tx)
		})
	}
	if err != nil {
		return err
	}

	log.Info("created job",
		"job_id", job.ID,
		"job_type", job.Type,
		"task_count", len(tasks))
	return nil
}

// GetJob retrieves a job by its id.
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)

	var job domain.Job
	var params []byte
	var errorMessage sql.NullString
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.Type,
		&params,
		&job.Status,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return nil, store.ErrJobNotFound
		}
		return nil, store.NewStoreError("job", "get", "failed to get job", mapped)
	}

	job.Params = params
	job.ErrorMessage = errorMessage.String
	return &job, nil
}

// GetJobProgress retrieves a job with its aggregate task counts and the
// most recent task-level error. The read takes no row locks, so in-flight
// workers are never blocked by status polling.
func (s *PostgresJobStore) GetJobProgress(
	ctx context.Context,
	id uuid.UUID,
) (*store.JobProgress, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	progress := &store.JobProgress{Job: job}
	err = s.q.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2)
		FROM tasks WHERE job_id = $3`,
		domain.TaskStatusComplete,
		domain.TaskStatusFailed,
		id,
	).Scan(&progress.TotalTasks, &progress.CompletedTasks, &progress.FailedTasks)
	if err != nil {
		return nil, store.NewStoreError("job", "progress", "failed to count tasks", MapError(err))
	}

	var lastError sql.NullString
	err = s.q.QueryRowContext(ctx, `
		SELECT error_message FROM tasks
		WHERE job_id = $1 AND error_message <> ''
		ORDER BY updated_at DESC
		LIMIT 1`,
		id,
	).Scan(&lastError)
	if err != nil && !store.IsNotFoundError(MapError(err)) {
		return nil, store.NewStoreError("job", "progress", "failed to read last task error", MapError(err))
	}
	progress.LastTaskError = lastError.String

	return progress, nil
}
