package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/domain"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	input := json.RawMessage(`{"subject":"napoleon","section":"overview"}`)

	task, err := domain.NewTask(jobID, domain.TaskTypeTextGeneration, 1, input, 3, 900)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, jobID, task.JobID)
	assert.Equal(t, domain.TaskTypeTextGeneration, task.Type)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, 1, task.Sequence)
	assert.Equal(t, 0, task.Attempts)
	assert.Equal(t, 3, task.MaxAttempts)
	assert.Equal(t, 900, task.HeartbeatTimeoutSeconds)
	assert.Nil(t, task.LastHeartbeatAt)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := func() *domain.Task {
		return &domain.Task{
			ID:                      uuid.New(),
			JobID:                   uuid.New(),
			Type:                    domain.TaskTypeDocumentRender,
			Status:                  domain.TaskStatusPending,
			Sequence:                101,
			MaxAttempts:             3,
			HeartbeatTimeoutSeconds: 300,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*domain.Task)
		wantErr error
	}{
		{
			name:    "valid task",
			mutate:  func(*domain.Task) {},
			wantErr: nil,
		},
		{
			name:    "empty ID",
			mutate:  func(task *domain.Task) { task.ID = uuid.Nil },
			wantErr: domain.ErrEmptyTaskID,
		},
		{
			name:    "empty job ID",
			mutate:  func(task *domain.Task) { task.JobID = uuid.Nil },
			wantErr: domain.ErrEmptyTaskJobID,
		},
		{
			name:    "empty type",
			mutate:  func(task *domain.Task) { task.Type = "" },
			wantErr: domain.ErrEmptyTaskType,
		},
		{
			name:    "unknown status",
			mutate:  func(task *domain.Task) { task.Status = "paused" },
			wantErr: domain.ErrInvalidTaskStatus,
		},
		{
			name:    "negative sequence",
			mutate:  func(task *domain.Task) { task.Sequence = -1 },
			wantErr: domain.ErrNegativeTaskSequence,
		},
		{
			name:    "zero max attempts",
			mutate:  func(task *domain.Task) { task.MaxAttempts = 0 },
			wantErr: domain.ErrInvalidTaskMaxAttempts,
		},
		{
			name:    "attempts beyond budget",
			mutate:  func(task *domain.Task) { task.Attempts = 4 },
			wantErr: domain.ErrInvalidTaskAttempts,
		},
		{
			name:    "non-positive heartbeat timeout",
			mutate:  func(task *domain.Task) { task.HeartbeatTimeoutSeconds = 0 },
			wantErr: domain.ErrInvalidHeartbeatTimeout,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			task := valid()
			tc.mutate(task)

			err := task.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestTaskIsTerminal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status   domain.TaskStatus
		terminal bool
	}{
		{domain.TaskStatusPending, false},
		{domain.TaskStatusProcessing, false},
		{domain.TaskStatusComplete, true},
		{domain.TaskStatusFailed, true},
	}

	for _, tc := range testCases {
		task := &domain.Task{Status: tc.status}
		assert.Equal(t, tc.terminal, task.IsTerminal(), "status %s", tc.status)
	}
}

func TestTaskHeartbeatTimeout(t *testing.T) {
	t.Parallel()

	task := &domain.Task{HeartbeatTimeoutSeconds: 900}
	assert.Equal(t, 15*time.Minute, task.HeartbeatTimeout())
}
