package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/domain"
)

// CascadeResult reports what a terminal task transition did beyond the row
// update itself: how many downstream tasks the cascade enqueued (zero on
// replay or while the source stage is still in flight) and whether the
// owning job reached a terminal aggregate state.
type CascadeResult struct {
	TasksEnqueued int
	JobComplete   bool
	JobFailed     bool
}

// TaskStore defines the interface for task persistence and the atomic
// state transitions the orchestration loop depends on. Implementations
// must make ClaimNextPending safe under arbitrary concurrent callers:
// two workers must never receive the same task.
type TaskStore interface {
	// CreateTasks inserts one or more tasks atomically. Used both for
	// seeding the source stage and for cascade fan-out.
	CreateTasks(ctx context.Context, tasks []*domain.Task) error

	// ClaimNextPending atomically selects one pending task whose type is
	// in the given set, marks it processing, increments its attempt
	// counter, stamps its heartbeat, and returns it. Tasks that already
	// exhausted their attempts are never returned.
	// Returns ErrNoTaskAvailable when nothing is claimable.
	ClaimNextPending(ctx context.Context, taskTypes []string) (*domain.Task, error)

	// Heartbeat refreshes the last-heartbeat time of a task still being
	// worked, so long-running work is not falsely reclaimed.
	// Returns ErrNotProcessing if the task is no longer processing.
	Heartbeat(ctx context.Context, taskID uuid.UUID) error

	// CompleteTask transitions a task to complete with the given output.
	// In the same transaction it runs the cascade trigger (fan-out of
	// downstream stages when the source stage just fully completed) and
	// the job status rollup.
	CompleteTask(ctx context.Context, taskID uuid.UUID, output json.RawMessage) (*CascadeResult, error)

	// FailTask records a failed attempt. Based on attempts vs max
	// attempts it either returns the task to pending for retry or moves
	// it to failed permanently; permanent failure also applies the
	// job-error policy.
	FailTask(ctx context.Context, taskID uuid.UUID, message string) (*CascadeResult, error)

	// ReclaimExpired returns every processing task whose heartbeat lapsed
	// before now to the pending pool (or to failed, if its attempts were
	// already exhausted when its worker died). Returns how many tasks
	// were reclaimed.
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// GetTask retrieves a task by its id.
	// Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// WithTx returns a TaskStore bound to the provided transaction.
	WithTx(tx *sql.Tx) TaskStore
}
