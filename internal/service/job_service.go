package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/pipeline"
	"github.com/mikububu/readings-engine/internal/store"
)

// ErrInvalidJobRequest is returned when a submission fails validation.
var ErrInvalidJobRequest = errors.New("invalid job request")

// maxSections bounds a single reading so its task sequences stay inside
// one stage-offset range.
const maxSections = 99

// JobService submits reading jobs and reads their progress.
type JobService struct {
	jobs   store.JobStore
	logger *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(jobs store.JobStore, log *slog.Logger) *JobService {
	return &JobService{
		jobs:   jobs,
		logger: log.With("component", "job_service"),
	}
}

// SubmitReading creates a reading job and its source-stage tasks in one
// atomic operation and returns the created job. Downstream stages are not
// created here: the cascade enqueues them once the source stage completes.
func (s *JobService) SubmitReading(
	ctx context.Context,
	params pipeline.ReadingParams,
) (*domain.Job, error) {
	if params.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidJobRequest)
	}
	if len(params.Sections) == 0 {
		return nil, fmt.Errorf("%w: at least one section is required", ErrInvalidJobRequest)
	}
	if len(params.Sections) > maxSections {
		return nil, fmt.Errorf("%w: at most %d sections are supported", ErrInvalidJobRequest, maxSections)
	}
	for i, section := range params.Sections {
		if section.Name == "" {
			return nil, fmt.Errorf("%w: section %d has no name", ErrInvalidJobRequest, i)
		}
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job params: %w", err)
	}

	job, err := domain.NewJob(domain.JobTypeReading, rawParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobRequest, err)
	}

	tasks, err := pipeline.BuildSourceTasks(job.ID, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobRequest, err)
	}

	if err := s.jobs.CreateJob(ctx, job, tasks); err != nil {
		return nil, err
	}

	s.logger.Info("submitted reading job",
		"job_id", job.ID,
		"sections", len(params.Sections))
	return job, nil
}

// GetProgress returns the job's aggregate status and task counts.
func (s *JobService) GetProgress(ctx context.Context, jobID uuid.UUID) (*store.JobProgress, error) {
	return s.jobs.GetJobProgress(ctx, jobID)
}
