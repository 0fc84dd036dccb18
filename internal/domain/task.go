package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusComplete   TaskStatus = "complete"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task type constants, one per pipeline stage.
const (
	// TaskTypeTextGeneration is the source stage producing the reading's
	// text sections. Every downstream stage is derived from its output.
	TaskTypeTextGeneration = "text_generation"

	// TaskTypeDocumentRender renders a source task's text into a PDF.
	TaskTypeDocumentRender = "document_render"

	// TaskTypeAudioNarration narrates a source task's text.
	TaskTypeAudioNarration = "audio_narration"

	// TaskTypeSongRender derives a song artifact from a source task's text.
	TaskTypeSongRender = "song_render"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID              = errors.New("task ID cannot be empty")
	ErrEmptyTaskJobID           = errors.New("task job ID cannot be empty")
	ErrEmptyTaskType            = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus        = errors.New("invalid task status")
	ErrInvalidTaskAttempts      = errors.New("task attempts cannot exceed max attempts")
	ErrInvalidHeartbeatTimeout  = errors.New("task heartbeat timeout must be positive")
	ErrNegativeTaskSequence     = errors.New("task sequence cannot be negative")
	ErrInvalidTaskMaxAttempts   = errors.New("task max attempts must be positive")
)

// Task represents one unit of work within one pipeline stage of a job.
//
// Sequence orders tasks within the job: downstream tasks carry their source
// task's sequence plus a fixed per-stage offset, which keeps tasks derived
// from the same source grouped and gives every stage a collision-free,
// human-inspectable position without a separate stage table.
//
// HeartbeatTimeoutSeconds bounds how long a claimed task may go without a
// heartbeat before the reclaimer treats its worker as dead. It is stored
// per task because stages have very different expected runtimes.
type Task struct {
	ID                      uuid.UUID       `json:"id"`
	JobID                   uuid.UUID       `json:"job_id"`
	Type                    string          `json:"type"`
	Status                  TaskStatus      `json:"status"`
	Sequence                int             `json:"sequence"`
	Input                   json.RawMessage `json:"input,omitempty"`
	Output                  json.RawMessage `json:"output,omitempty"`
	Attempts                int             `json:"attempts"`
	MaxAttempts             int             `json:"max_attempts"`
	HeartbeatTimeoutSeconds int             `json:"heartbeat_timeout_seconds"`
	ErrorMessage            string          `json:"error_message,omitempty"`
	LastHeartbeatAt         *time.Time      `json:"last_heartbeat_at,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// NewTask creates a new pending Task for the given job.
// Returns an error if validation fails.
func NewTask(
	jobID uuid.UUID,
	taskType string,
	sequence int,
	input json.RawMessage,
	maxAttempts int,
	heartbeatTimeoutSeconds int,
) (*Task, error) {
	task := &Task{
		ID:                      uuid.New(),
		JobID:                   jobID,
		Type:                    taskType,
		Status:                  TaskStatusPending,
		Sequence:                sequence,
		Input:                   input,
		Attempts:                0,
		MaxAttempts:             maxAttempts,
		HeartbeatTimeoutSeconds: heartbeatTimeoutSeconds,
		CreatedAt:               time.Now().UTC(),
		UpdatedAt:               time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.JobID == uuid.Nil {
		return ErrEmptyTaskJobID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Sequence < 0 {
		return ErrNegativeTaskSequence
	}

	if t.MaxAttempts <= 0 {
		return ErrInvalidTaskMaxAttempts
	}

	if t.Attempts > t.MaxAttempts {
		return ErrInvalidTaskAttempts
	}

	if t.HeartbeatTimeoutSeconds <= 0 {
		return ErrInvalidHeartbeatTimeout
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusComplete || t.Status == TaskStatusFailed
}

// HeartbeatTimeout returns the heartbeat timeout as a duration.
func (t *Task) HeartbeatTimeout() time.Duration {
	return time.Duration(t.HeartbeatTimeoutSeconds) * time.Second
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusComplete, TaskStatusFailed:
		return true
	default:
		return false
	}
}
