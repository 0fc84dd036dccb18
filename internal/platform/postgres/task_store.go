package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/pipeline"
	"github.com/mikububu/readings-engine/internal/platform/logger"
	"github.com/mikububu/readings-engine/internal/store"
)

// taskColumns is the canonical column list for scanning task rows.
const taskColumns = `id, job_id, type, status, sequence, input, output,
	attempts, max_attempts, heartbeat_timeout_seconds, error_message,
	last_heartbeat_at, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// All state transitions are single atomic statements or single transactions;
// claim exclusivity comes from FOR UPDATE SKIP LOCKED, not application locks.
type PostgresTaskStore struct {
	// db is the connection pool; nil when the store is bound to a
	// caller-managed transaction via WithTx.
	db *sql.DB
	q  store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db, q: db}
}

// WithTx returns a TaskStore bound to the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{q: tx}
}

// inTransaction runs fn inside a transaction. When the store is already
// bound to one, fn runs on it directly.
func (s *PostgresTaskStore) inTransaction(ctx context.Context, fn func(q store.DBTX) error) error {
	if s.db == nil {
		return fn(s.q)
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(tx)
	})
}

// CreateTasks inserts one or more tasks atomically. Used both for seeding
// the source stage and for cascade fan-out.
func (s *PostgresTaskStore) CreateTasks(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return s.inTransaction(ctx, func(q store.DBTX) error {
		for _, task := range tasks {
			if err := insertTask(ctx, q, task); err != nil {
				return err
			}
		}
		return nil
	})
}

// insertTask inserts a single task row.
func insertTask(ctx context.Context, q store.DBTX, task *domain.Task) error {
	query := `
		INSERT INTO tasks (id, job_id, type, status, sequence, input, output,
			attempts, max_attempts, heartbeat_timeout_seconds, error_message,
			last_heartbeat_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := q.ExecContext(ctx, query,
		task.ID,
		task.JobID,
		task.Type,
		task.Status,
		task.Sequence,
		nullableJSON(task.Input),
		nullableJSON(task.Output),
		task.Attempts,
		task.MaxAttempts,
		task.HeartbeatTimeoutSeconds,
		task.ErrorMessage,
		task.LastHeartbeatAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return store.NewStoreError("task", "create", "failed to insert task", MapError(err))
	}
	return nil
}

// ClaimNextPending atomically claims one pending task of the given types.
// The inner SELECT ... FOR UPDATE SKIP LOCKED guarantees two concurrent
// claimers never receive the same row. The claim itself counts as an
// attempt, so a worker that dies without reporting still consumed budget.
func (s *PostgresTaskStore) ClaimNextPending(
	ctx context.Context,
	taskTypes []string,
) (*domain.Task, error) {
	if len(taskTypes) == 0 {
		return nil, store.ErrNoTaskAvailable
	}

	now := time.Now().UTC()
	var claimed *domain.Task

	err := s.inTransaction(ctx, func(q store.DBTX) error {
		query := fmt.Sprintf(`
			UPDATE tasks SET
				status = $1,
				attempts = attempts + 1,
				last_heartbeat_at = $2,
				updated_at = $2
			WHERE id = (
				SELECT id FROM tasks
				WHERE status = $3 AND type = ANY($4) AND attempts < max_attempts
				ORDER BY sequence ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING %s`, taskColumns)

		row := q.QueryRowContext(ctx, query,
			domain.TaskStatusProcessing,
			now,
			domain.TaskStatusPending,
			taskTypes,
		)

		task, err := scanTask(row)
		if err != nil {
			if store.IsNotFoundError(MapError(err)) {
				return store.ErrNoTaskAvailable
			}
			return store.NewStoreError("task", "claim", "failed to claim task", MapError(err))
		}

		// First claim moves the owning job out of pending.
		_, err = q.ExecContext(ctx,
			`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			domain.JobStatusProcessing, now, task.JobID, domain.JobStatusPending,
		)
		if err != nil {
			return store.NewStoreError("job", "claim", "failed to mark job processing", MapError(err))
		}

		claimed = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// Heartbeat refreshes the last-heartbeat time of a task still being worked.
func (s *PostgresTaskStore) Heartbeat(ctx context.Context, taskID uuid.UUID) error {
	now := time.Now().UTC()

	result, err := s.q.ExecContext(ctx,
		`UPDATE tasks SET last_heartbeat_at = $1, updated_at = $1 WHERE id = $2 AND status = $3`,
		now, taskID, domain.TaskStatusProcessing,
	)
	if err != nil {
		return store.NewStoreError("task", "heartbeat", "failed to refresh heartbeat", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "heartbeat", "failed to get rows affected", MapError(err))
	}
	if rows == 0 {
		// Either the task vanished or its lease was reclaimed; the worker
		// should stop treating the task as its own.
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return store.ErrNotProcessing
	}

	return nil
}

// CompleteTask transitions a task to complete and, in the same transaction,
// runs the cascade trigger and the job status rollup. Completing an already
// terminal task is a replay-safe no-op.
func (s *PostgresTaskStore) CompleteTask(
	ctx context.Context,
	taskID uuid.UUID,
	output json.RawMessage,
) (*store.CascadeResult, error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()
	result := &store.CascadeResult{}

	err := s.inTransaction(ctx, func(q store.DBTX) error {
		var jobID uuid.UUID
		var taskType string
		err := q.QueryRowContext(ctx, `
			UPDATE tasks SET status = $1, output = $2, error_message = '', updated_at = $3
			WHERE id = $4 AND status NOT IN ($5, $6)
			RETURNING job_id, type`,
			domain.TaskStatusComplete,
			nullableJSON(output),
			now,
			taskID,
			domain.TaskStatusComplete,
			domain.TaskStatusFailed,
		).Scan(&jobID, &taskType)
		if err != nil {
			mapped := MapError(err)
			if store.IsNotFoundError(mapped) {
				// Distinguish "no such task" from "already terminal".
				task, getErr := s.getTask(ctx, q, taskID)
				if getErr != nil {
					return getErr
				}
				log.Debug("complete on terminal task is a no-op",
					"task_id", taskID,
					"status", task.Status)
				return nil
			}
			return store.NewStoreError("task", "complete", "failed to complete task", mapped)
		}

		// Serialize racing completions of the same job: every cascade
		// evaluation for this job happens under the job row lock, so the
		// count check and the idempotency guard below cannot interleave.
		var jobType string
		var jobParams []byte
		err = q.QueryRowContext(ctx,
			`SELECT type, params FROM jobs WHERE id = $1 FOR UPDATE`,
			jobID,
		).Scan(&jobType, &jobParams)
		if err != nil {
			return store.NewStoreError("job", "complete", "failed to lock job row", MapError(err))
		}

		if pipeline.IsSourceStage(taskType) {
			enqueued, err := s.cascade(ctx, q, jobID, jobType, jobParams, taskType)
			if err != nil {
				return err
			}
			result.TasksEnqueued = enqueued
			if enqueued > 0 {
				log.Info("cascade enqueued downstream tasks",
					"job_id", jobID,
					"count", enqueued)
			}
		}

		complete, err := rollupJob(ctx, q, jobID, now)
		if err != nil {
			return err
		}
		result.JobComplete = complete
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// cascade is the exactly-once fan-out: re-count source stage completion,
// check the idempotency guard, and only then insert the downstream task
// set. Runs under the job row lock inside the completion transaction.
func (s *PostgresTaskStore) cascade(
	ctx context.Context,
	q store.DBTX,
	jobID uuid.UUID,
	jobType string,
	jobParams []byte,
	sourceType string,
) (int, error) {
	var completed, total int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = $1), COUNT(*)
		FROM tasks WHERE job_id = $2 AND type = $3`,
		domain.TaskStatusComplete, jobID, sourceType,
	).Scan(&completed, &total)
	if err != nil {
		return 0, store.NewStoreError("task", "cascade", "failed to count source tasks", MapError(err))
	}

	if completed < total {
		return 0, nil
	}

	downstreamTypes := pipeline.DownstreamTaskTypes(jobType)
	if len(downstreamTypes) == 0 {
		return 0, nil
	}

	// Idempotency guard: any existing downstream task means a prior
	// completion already fanned out. Replays enqueue nothing.
	var exists bool
	err = q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tasks WHERE job_id = $1 AND type = ANY($2))`,
		jobID, downstreamTypes,
	).Scan(&exists)
	if err != nil {
		return 0, store.NewStoreError("task", "cascade", "failed to check cascade guard", MapError(err))
	}
	if exists {
		return 0, nil
	}

	sourceTasks, err := s.getTasksByJobAndType(ctx, q, jobID, sourceType)
	if err != nil {
		return 0, err
	}

	fanOut, err := pipeline.BuildFanOut(jobType, jobParams, sourceTasks)
	if err != nil {
		return 0, store.NewStoreError("task", "cascade", "failed to build fan-out", err)
	}

	for _, task := range fanOut {
		if err := insertTask(ctx, q, task); err != nil {
			return 0, err
		}
	}

	return len(fanOut), nil
}

// rollupJob marks the job complete when every task across every stage is
// terminal success. Newly fanned-out pending tasks keep the job processing.
func rollupJob(ctx context.Context, q store.DBTX, jobID uuid.UUID, now time.Time) (bool, error) {
	var completed, total int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = $1), COUNT(*)
		FROM tasks WHERE job_id = $2`,
		domain.TaskStatusComplete, jobID,
	).Scan(&completed, &total)
	if err != nil {
		return false, store.NewStoreError("job", "rollup", "failed to count tasks", MapError(err))
	}

	if total == 0 || completed < total {
		return false, nil
	}

	_, err = q.ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status <> $1`,
		domain.JobStatusComplete, now, jobID,
	)
	if err != nil {
		return false, store.NewStoreError("job", "rollup", "failed to mark job complete", MapError(err))
	}

	return true, nil
}

// FailTask records a failed attempt: back to pending while retry budget
// remains, terminally failed once exhausted. Permanent failure marks the
// owning job as errored so it never sits in processing forever behind a
// stage gate that can no longer open.
func (s *PostgresTaskStore) FailTask(
	ctx context.Context,
	taskID uuid.UUID,
	message string,
) (*store.CascadeResult, error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()
	result := &store.CascadeResult{}

	err := s.inTransaction(ctx, func(q store.DBTX) error {
		var jobID uuid.UUID
		var status domain.TaskStatus
		var attempts, maxAttempts int
		err := q.QueryRowContext(ctx,
			`SELECT job_id, status, attempts, max_attempts FROM tasks WHERE id = $1 FOR UPDATE`,
			taskID,
		).Scan(&jobID, &status, &attempts, &maxAttempts)
		if err != nil {
			mapped := MapError(err)
			if store.IsNotFoundError(mapped) {
				return store.ErrTaskNotFound
			}
			return store.NewStoreError("task", "fail", "failed to load task", mapped)
		}

		if status != domain.TaskStatusProcessing {
			// A stale worker reporting after reclamation; the live claim
			// owns the task now.
			log.Warn("ignoring failure report for non-processing task",
				"task_id", taskID,
				"status", status)
			return nil
		}

		if attempts >= maxAttempts {
			_, err = q.ExecContext(ctx,
				`UPDATE tasks SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
				domain.TaskStatusFailed, message, now, taskID,
			)
			if err != nil {
				return store.NewStoreError("task", "fail", "failed to mark task failed", MapError(err))
			}

			// Job-error policy: a permanently failed task makes the job's
			// aggregate state error immediately.
			_, err = q.ExecContext(ctx,
				`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3
				 WHERE id = $4 AND status <> $5`,
				domain.JobStatusError, message, now, jobID, domain.JobStatusComplete,
			)
			if err != nil {
				return store.NewStoreError("job", "fail", "failed to mark job errored", MapError(err))
			}

			result.JobFailed = true
			return nil
		}

		_, err = q.ExecContext(ctx,
			`UPDATE tasks SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
			domain.TaskStatusPending, message, now, taskID,
		)
		if err != nil {
			return store.NewStoreError("task", "fail", "failed to requeue task", MapError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ReclaimExpired sweeps processing tasks whose heartbeat lapsed. Tasks with
// remaining attempts return to pending; tasks that died on their final
// attempt become failed (and trip the job-error policy). Attempts are not
// incremented here: the lost attempt was already counted at claim time.
func (s *PostgresTaskStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	log := logger.FromContext(ctx)
	reclaimed := 0

	err := s.inTransaction(ctx, func(q store.DBTX) error {
		// Exhausted leases first, so the requeue below never resurrects them.
		rows, err := q.QueryContext(ctx, `
			UPDATE tasks SET status = $1, error_message = $2, updated_at = $3
			WHERE status = $4
			  AND attempts >= max_attempts
			  AND last_heartbeat_at + make_interval(secs => heartbeat_timeout_seconds) < $3
			RETURNING job_id`,
			domain.TaskStatusFailed,
			"worker lease expired on final attempt",
			now,
			domain.TaskStatusProcessing,
		)
		if err != nil {
			return store.NewStoreError("task", "reclaim", "failed to fail exhausted tasks", MapError(err))
		}

		var failedJobIDs []uuid.UUID
		for rows.Next() {
			var jobID uuid.UUID
			if err := rows.Scan(&jobID); err != nil {
				_ = rows.Close()
				return store.NewStoreError("task", "reclaim", "failed to scan job id", MapError(err))
			}
			failedJobIDs = append(failedJobIDs, jobID)
		}
		if err := rows.Err(); err != nil {
			return store.NewStoreError("task", "reclaim", "error iterating reclaimed rows", MapError(err))
		}
		_ = rows.Close()

		for _, jobID := range failedJobIDs {
			_, err = q.ExecContext(ctx,
				`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3
				 WHERE id = $4 AND status <> $5`,
				domain.JobStatusError,
				"worker lease expired on final attempt",
				now,
				jobID,
				domain.JobStatusComplete,
			)
			if err != nil {
				return store.NewStoreError("job", "reclaim", "failed to mark job errored", MapError(err))
			}
		}
		reclaimed += len(failedJobIDs)

		result, err := q.ExecContext(ctx, `
			UPDATE tasks SET status = $1, updated_at = $2
			WHERE status = $3
			  AND last_heartbeat_at + make_interval(secs => heartbeat_timeout_seconds) < $2`,
			domain.TaskStatusPending,
			now,
			domain.TaskStatusProcessing,
		)
		if err != nil {
			return store.NewStoreError("task", "reclaim", "failed to requeue expired tasks", MapError(err))
		}

		requeued, err := result.RowsAffected()
		if err != nil {
			return store.NewStoreError("task", "reclaim", "failed to get rows affected", MapError(err))
		}
		reclaimed += int(requeued)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if reclaimed > 0 {
		log.Info("reclaimed expired task leases", "count", reclaimed)
	}

	return reclaimed, nil
}

// GetTask retrieves a task by its id.
func (s *PostgresTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return s.getTask(ctx, s.q, taskID)
}

func (s *PostgresTaskStore) getTask(ctx context.Context, q store.DBTX, taskID uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)
	task, err := scanTask(q.QueryRowContext(ctx, query, taskID))
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.NewStoreError("task", "get", "failed to get task", mapped)
	}
	return task, nil
}

// getTasksByJobAndType loads all tasks of one type for a job, sequence order.
func (s *PostgresTaskStore) getTasksByJobAndType(
	ctx context.Context,
	q store.DBTX,
	jobID uuid.UUID,
	taskType string,
) ([]*domain.Task, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tasks
		WHERE job_id = $1 AND type = $2
		ORDER BY sequence ASC`, taskColumns)

	rows, err := q.QueryContext(ctx, query, jobID, taskType)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "failed to query tasks", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, store.NewStoreError("task", "list", "failed to scan task row", MapError(err))
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("task", "list", "error iterating task rows", MapError(err))
	}

	return tasks, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var input, output []byte
	var errorMessage sql.NullString
	var lastHeartbeatAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.JobID,
		&task.Type,
		&task.Status,
		&task.Sequence,
		&input,
		&output,
		&task.Attempts,
		&task.MaxAttempts,
		&task.HeartbeatTimeoutSeconds,
		&errorMessage,
		&lastHeartbeatAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Input = input
	task.Output = output
	task.ErrorMessage = errorMessage.String
	if lastHeartbeatAt.Valid {
		t := lastHeartbeatAt.Time
		task.LastHeartbeatAt = &t
	}

	return &task, nil
}

// nullableJSON maps an empty payload to SQL NULL instead of invalid jsonb.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
