package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event type constants
const (
	// EventJobCompleted fires when every task of a job reached terminal success.
	EventJobCompleted = "job_completed"

	// EventJobFailed fires when a job's aggregate status became error.
	EventJobFailed = "job_failed"
)

// Validation errors for event construction.
var (
	ErrEmptyEventType  = errors.New("event type cannot be empty")
	ErrEmptyEventJobID = errors.New("event job ID cannot be empty")
)

// JobStatusEvent describes one terminal job transition.
type JobStatusEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	JobID      uuid.UUID `json:"job_id"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewJobStatusEvent creates an event of the given type for the given job.
func NewJobStatusEvent(eventType string, jobID uuid.UUID, message string) (*JobStatusEvent, error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	if jobID == uuid.Nil {
		return nil, ErrEmptyEventJobID
	}
	return &JobStatusEvent{
		ID:         uuid.New(),
		Type:       eventType,
		JobID:      jobID,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// EventHandler is implemented by components that react to job events
// (notification senders, metrics, logging).
type EventHandler interface {
	HandleEvent(ctx context.Context, event *JobStatusEvent) error
}

// EventEmitter is implemented by components that publish job events.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *JobStatusEvent) error
}
