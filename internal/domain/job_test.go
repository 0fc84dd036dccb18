package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/domain"
)

func TestNewJob(t *testing.T) {
	t.Parallel()

	params := json.RawMessage(`{"subject":"marcus aurelius","sections":[{"name":"overview"}]}`)

	job, err := domain.NewJob(domain.JobTypeReading, params)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, domain.JobTypeReading, job.Type)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, params, job.Params)
	assert.Empty(t, job.ErrorMessage)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestNewJobRequiresType(t *testing.T) {
	t.Parallel()

	_, err := domain.NewJob("", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyJobType)
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*domain.Job)
		wantErr error
	}{
		{
			name:    "valid job",
			mutate:  func(*domain.Job) {},
			wantErr: nil,
		},
		{
			name:    "empty ID",
			mutate:  func(job *domain.Job) { job.ID = uuid.Nil },
			wantErr: domain.ErrEmptyJobID,
		},
		{
			name:    "unknown status",
			mutate:  func(job *domain.Job) { job.Status = "archived" },
			wantErr: domain.ErrInvalidJobStatus,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			job, err := domain.NewJob(domain.JobTypeReading, nil)
			require.NoError(t, err)
			tc.mutate(job)

			err = job.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}
