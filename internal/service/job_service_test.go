package service_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/pipeline"
	"github.com/mikububu/readings-engine/internal/service"
	"github.com/mikububu/readings-engine/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeJobStore records the job and tasks handed to CreateJob.
type fakeJobStore struct {
	createdJob   *domain.Job
	createdTasks []*domain.Task
	createErr    error
	progress     *store.JobProgress
}

func (f *fakeJobStore) CreateJob(_ context.Context, job *domain.Job, tasks []*domain.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createdJob = job
	f.createdTasks = tasks
	return nil
}

func (f *fakeJobStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	if f.createdJob != nil && f.createdJob.ID == id {
		return f.createdJob, nil
	}
	return nil, store.ErrJobNotFound
}

func (f *fakeJobStore) GetJobProgress(_ context.Context, id uuid.UUID) (*store.JobProgress, error) {
	if f.progress != nil && f.progress.Job.ID == id {
		return f.progress, nil
	}
	return nil, store.ErrJobNotFound
}

func (f *fakeJobStore) WithTx(*sql.Tx) store.JobStore { return f }

func validParams() pipeline.ReadingParams {
	return pipeline.ReadingParams{
		Subject: "cleopatra",
		Voice:   "warm",
		Sections: []pipeline.SectionSpec{
			{Name: "overview", Category: "biography"},
			{Name: "reign"},
		},
	}
}

func TestSubmitReading(t *testing.T) {
	t.Parallel()

	fake := &fakeJobStore{}
	svc := service.NewJobService(fake, discardLogger())

	job, err := svc.SubmitReading(context.Background(), validParams())
	require.NoError(t, err)

	assert.Equal(t, domain.JobTypeReading, job.Type)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	require.NotNil(t, fake.createdJob)
	assert.Equal(t, job.ID, fake.createdJob.ID)

	// One source task per section, downstream stages deferred to the cascade.
	require.Len(t, fake.createdTasks, 2)
	for i, created := range fake.createdTasks {
		assert.Equal(t, job.ID, created.JobID)
		assert.Equal(t, domain.TaskTypeTextGeneration, created.Type)
		assert.Equal(t, i+1, created.Sequence)
	}
}

func TestSubmitReadingValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*pipeline.ReadingParams)
	}{
		{
			name:   "missing subject",
			mutate: func(p *pipeline.ReadingParams) { p.Subject = "" },
		},
		{
			name:   "no sections",
			mutate: func(p *pipeline.ReadingParams) { p.Sections = nil },
		},
		{
			name: "unnamed section",
			mutate: func(p *pipeline.ReadingParams) {
				p.Sections = []pipeline.SectionSpec{{Name: ""}}
			},
		},
		{
			name: "too many sections",
			mutate: func(p *pipeline.ReadingParams) {
				sections := make([]pipeline.SectionSpec, 100)
				for i := range sections {
					sections[i] = pipeline.SectionSpec{Name: "section"}
				}
				p.Sections = sections
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeJobStore{}
			svc := service.NewJobService(fake, discardLogger())

			params := validParams()
			tc.mutate(&params)

			_, err := svc.SubmitReading(context.Background(), params)
			assert.ErrorIs(t, err, service.ErrInvalidJobRequest)
			assert.Nil(t, fake.createdJob, "nothing may be persisted on validation failure")
		})
	}
}

func TestGetProgress(t *testing.T) {
	t.Parallel()

	job, err := domain.NewJob(domain.JobTypeReading, nil)
	require.NoError(t, err)

	fake := &fakeJobStore{
		progress: &store.JobProgress{
			Job:            job,
			TotalTasks:     8,
			CompletedTasks: 5,
			FailedTasks:    0,
		},
	}
	svc := service.NewJobService(fake, discardLogger())

	progress, err := svc.GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, progress.TotalTasks)
	assert.Equal(t, 5, progress.CompletedTasks)

	_, err = svc.GetProgress(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}
