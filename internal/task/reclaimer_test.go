package task_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/store"
	"github.com/mikububu/readings-engine/internal/task"
)

// countingReclaimStore only implements the sweep; everything else is unused
// by the reclaimer loop.
type countingReclaimStore struct {
	calls atomic.Int64
	swept chan time.Time
}

func (s *countingReclaimStore) ReclaimExpired(_ context.Context, now time.Time) (int, error) {
	s.calls.Add(1)
	select {
	case s.swept <- now:
	default:
	}
	return 1, nil
}

func (s *countingReclaimStore) CreateTasks(context.Context, []*domain.Task) error { return nil }

func (s *countingReclaimStore) ClaimNextPending(context.Context, []string) (*domain.Task, error) {
	return nil, store.ErrNoTaskAvailable
}

func (s *countingReclaimStore) Heartbeat(context.Context, uuid.UUID) error { return nil }

func (s *countingReclaimStore) CompleteTask(
	context.Context, uuid.UUID, json.RawMessage,
) (*store.CascadeResult, error) {
	return &store.CascadeResult{}, nil
}

func (s *countingReclaimStore) FailTask(
	context.Context, uuid.UUID, string,
) (*store.CascadeResult, error) {
	return &store.CascadeResult{}, nil
}

func (s *countingReclaimStore) GetTask(context.Context, uuid.UUID) (*domain.Task, error) {
	return nil, store.ErrTaskNotFound
}

func (s *countingReclaimStore) WithTx(*sql.Tx) store.TaskStore { return s }

func TestReclaimerSweepsOnInterval(t *testing.T) {
	t.Parallel()

	fake := &countingReclaimStore{swept: make(chan time.Time, 1)}
	reclaimer := task.NewReclaimer(fake, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reclaimer.Run(ctx) }()

	select {
	case swept := <-fake.swept:
		assert.WithinDuration(t, time.Now().UTC(), swept, time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reclaim sweep")
	}

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, fake.calls.Load(), int64(1))
}
