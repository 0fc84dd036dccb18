package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the aggregate processing state of a job.
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusError      JobStatus = "error"
)

// Job type constants
const (
	// JobTypeReading is the multi-stage pipeline that produces text,
	// a rendered document, narrated audio, and a song for one reading.
	JobTypeReading = "reading"
)

// Common validation errors for Job
var (
	ErrEmptyJobID       = errors.New("job ID cannot be empty")
	ErrEmptyJobType     = errors.New("job type cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")
)

// Job represents one user-requested unit of multi-stage work. Its status
// is a rollup derived from its child tasks: complete only when every task
// across every stage reached terminal success.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Params       json.RawMessage `json:"params,omitempty"`
	Status       JobStatus       `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a new pending Job of the given type with the given
// parameter bag. Returns an error if validation fails.
func NewJob(jobType string, params json.RawMessage) (*Job, error) {
	job := &Job{
		ID:        uuid.New(),
		Type:      jobType,
		Params:    params,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the Job has valid data.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.Type == "" {
		return ErrEmptyJobType
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	return nil
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusComplete, JobStatusError:
		return true
	default:
		return false
	}
}
