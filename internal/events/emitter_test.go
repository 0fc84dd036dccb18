package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	mu     sync.Mutex
	events []*events.JobStatusEvent
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *events.JobStatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func TestNewJobStatusEvent(t *testing.T) {
	t.Parallel()

	jobID := uuid.New()
	event, err := events.NewJobStatusEvent(events.EventJobCompleted, jobID, "")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, events.EventJobCompleted, event.Type)
	assert.Equal(t, jobID, event.JobID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestNewJobStatusEventRejectsNilJob(t *testing.T) {
	t.Parallel()

	_, err := events.NewJobStatusEvent(events.EventJobFailed, uuid.Nil, "boom")
	assert.Error(t, err)
}

func TestEmitEventReachesAllHandlers(t *testing.T) {
	t.Parallel()

	emitter := events.NewInMemoryEventEmitter(discardLogger())

	first := &recordingHandler{}
	second := &recordingHandler{}
	emitter.RegisterHandler(first)
	emitter.RegisterHandler(second)

	event, err := events.NewJobStatusEvent(events.EventJobCompleted, uuid.New(), "")
	require.NoError(t, err)
	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}

func TestEmitEventContinuesPastFailingHandler(t *testing.T) {
	t.Parallel()

	emitter := events.NewInMemoryEventEmitter(discardLogger())

	failing := &recordingHandler{err: errors.New("subscriber broke")}
	healthy := &recordingHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	event, err := events.NewJobStatusEvent(events.EventJobFailed, uuid.New(), "stage exhausted retries")
	require.NoError(t, err)

	// Delivery is best-effort: one failing subscriber must not starve the rest.
	_ = emitter.EmitEvent(context.Background(), event)
	assert.Len(t, healthy.events, 1)
}
