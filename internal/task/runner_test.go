package task_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/events"
	"github.com/mikububu/readings-engine/internal/store"
	"github.com/mikububu/readings-engine/internal/task"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTaskStore is an in-memory TaskStore for exercising the runner without
// a database. Claims hand out queued tasks one at a time; completions and
// failures are recorded and signalled so tests can wait on them.
type fakeTaskStore struct {
	mu      sync.Mutex
	queue   []*domain.Task
	claimed map[uuid.UUID]*domain.Task

	completeResult *store.CascadeResult
	failResult     *store.CascadeResult

	completions chan completion
	failures    chan failure

	heartbeatErr error
	heartbeats   int
}

type completion struct {
	taskID uuid.UUID
	output json.RawMessage
}

type failure struct {
	taskID  uuid.UUID
	message string
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		claimed:        make(map[uuid.UUID]*domain.Task),
		completeResult: &store.CascadeResult{},
		failResult:     &store.CascadeResult{},
		completions:    make(chan completion, 16),
		failures:       make(chan failure, 16),
	}
}

func (f *fakeTaskStore) enqueue(tasks ...*domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, tasks...)
}

func (f *fakeTaskStore) CreateTasks(_ context.Context, tasks []*domain.Task) error {
	f.enqueue(tasks...)
	return nil
}

func (f *fakeTaskStore) ClaimNextPending(_ context.Context, taskTypes []string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	allowed := make(map[string]bool, len(taskTypes))
	for _, t := range taskTypes {
		allowed[t] = true
	}

	for i, candidate := range f.queue {
		if !allowed[candidate.Type] {
			continue
		}
		f.queue = append(f.queue[:i], f.queue[i+1:]...)

		candidate.Status = domain.TaskStatusProcessing
		candidate.Attempts++
		now := time.Now().UTC()
		candidate.LastHeartbeatAt = &now
		f.claimed[candidate.ID] = candidate
		return candidate, nil
	}

	return nil, store.ErrNoTaskAvailable
}

func (f *fakeTaskStore) Heartbeat(_ context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	if f.heartbeatErr != nil {
		return f.heartbeatErr
	}
	if _, ok := f.claimed[taskID]; !ok {
		return store.ErrNotProcessing
	}
	return nil
}

func (f *fakeTaskStore) CompleteTask(
	_ context.Context,
	taskID uuid.UUID,
	output json.RawMessage,
) (*store.CascadeResult, error) {
	f.mu.Lock()
	result := *f.completeResult
	delete(f.claimed, taskID)
	f.mu.Unlock()

	f.completions <- completion{taskID: taskID, output: output}
	return &result, nil
}

func (f *fakeTaskStore) FailTask(
	_ context.Context,
	taskID uuid.UUID,
	message string,
) (*store.CascadeResult, error) {
	f.mu.Lock()
	result := *f.failResult
	delete(f.claimed, taskID)
	f.mu.Unlock()

	f.failures <- failure{taskID: taskID, message: message}
	return &result, nil
}

func (f *fakeTaskStore) ReclaimExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTaskStore) GetTask(_ context.Context, taskID uuid.UUID) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.claimed[taskID]; ok {
		return t, nil
	}
	return nil, store.ErrTaskNotFound
}

func (f *fakeTaskStore) WithTx(*sql.Tx) store.TaskStore { return f }

// fakeHandler is a configurable Handler for one task type.
type fakeHandler struct {
	taskType string
	handle   func(ctx context.Context, t *domain.Task) (json.RawMessage, error)
}

func (h *fakeHandler) Type() string { return h.taskType }

func (h *fakeHandler) Handle(ctx context.Context, t *domain.Task) (json.RawMessage, error) {
	return h.handle(ctx, t)
}

// collectingEmitter records emitted events.
type collectingEmitter struct {
	mu     sync.Mutex
	events []*events.JobStatusEvent
	seen   chan *events.JobStatusEvent
}

func newCollectingEmitter() *collectingEmitter {
	return &collectingEmitter{seen: make(chan *events.JobStatusEvent, 16)}
}

func (e *collectingEmitter) EmitEvent(_ context.Context, event *events.JobStatusEvent) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
	e.seen <- event
	return nil
}

func newTestTask(t *testing.T, taskType string) *domain.Task {
	t.Helper()
	created, err := domain.NewTask(uuid.New(), taskType, 1, json.RawMessage(`{}`), 3, 900)
	require.NoError(t, err)
	return created
}

func runnerConfig() task.RunnerConfig {
	return task.RunnerConfig{WorkerCount: 1, PollInterval: 10 * time.Millisecond}
}

func TestRunnerCompletesTask(t *testing.T) {
	t.Parallel()

	fake := newFakeTaskStore()
	fake.completeResult = &store.CascadeResult{TasksEnqueued: 6, JobComplete: false}

	emitter := newCollectingEmitter()
	runner := task.NewRunner(fake, emitter, runnerConfig(), discardLogger())

	output := json.RawMessage(`{"text_ref":"text/abc","title":"Overview"}`)
	require.NoError(t, runner.Register(&fakeHandler{
		taskType: domain.TaskTypeTextGeneration,
		handle: func(context.Context, *domain.Task) (json.RawMessage, error) {
			return output, nil
		},
	}))

	claimed := newTestTask(t, domain.TaskTypeTextGeneration)
	fake.enqueue(claimed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case got := <-fake.completions:
		assert.Equal(t, claimed.ID, got.taskID)
		assert.Equal(t, output, got.output)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task completion")
	}

	cancel()
	require.NoError(t, <-done)

	// No terminal job event: the cascade said the job is still in flight.
	assert.Empty(t, emitter.events)
}

func TestRunnerEmitsJobCompletedEvent(t *testing.T) {
	t.Parallel()

	fake := newFakeTaskStore()
	fake.completeResult = &store.CascadeResult{JobComplete: true}

	emitter := newCollectingEmitter()
	runner := task.NewRunner(fake, emitter, runnerConfig(), discardLogger())

	require.NoError(t, runner.Register(&fakeHandler{
		taskType: domain.TaskTypeSongRender,
		handle: func(context.Context, *domain.Task) (json.RawMessage, error) {
			return json.RawMessage(`{"song_ref":"song/1"}`), nil
		},
	}))

	claimed := newTestTask(t, domain.TaskTypeSongRender)
	fake.enqueue(claimed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	select {
	case event := <-emitter.seen:
		assert.Equal(t, events.EventJobCompleted, event.Type)
		assert.Equal(t, claimed.JobID, event.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job completed event")
	}
}

func TestRunnerTurnsPanicIntoFailedAttempt(t *testing.T) {
	t.Parallel()

	fake := newFakeTaskStore()
	fake.failResult = &store.CascadeResult{JobFailed: true}

	emitter := newCollectingEmitter()
	runner := task.NewRunner(fake, emitter, runnerConfig(), discardLogger())

	require.NoError(t, runner.Register(&fakeHandler{
		taskType: domain.TaskTypeDocumentRender,
		handle: func(context.Context, *domain.Task) (json.RawMessage, error) {
			panic("template blew up")
		},
	}))

	claimed := newTestTask(t, domain.TaskTypeDocumentRender)
	fake.enqueue(claimed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	select {
	case got := <-fake.failures:
		assert.Equal(t, claimed.ID, got.taskID)
		assert.Contains(t, got.message, "panicked")
		assert.Contains(t, got.message, "template blew up")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure report")
	}

	select {
	case event := <-emitter.seen:
		assert.Equal(t, events.EventJobFailed, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job failed event")
	}
}

func TestRunnerReportsHandlerError(t *testing.T) {
	t.Parallel()

	fake := newFakeTaskStore()
	emitter := newCollectingEmitter()
	runner := task.NewRunner(fake, emitter, runnerConfig(), discardLogger())

	require.NoError(t, runner.Register(&fakeHandler{
		taskType: domain.TaskTypeAudioNarration,
		handle: func(context.Context, *domain.Task) (json.RawMessage, error) {
			return nil, errors.New("narration API unavailable")
		},
	}))

	claimed := newTestTask(t, domain.TaskTypeAudioNarration)
	fake.enqueue(claimed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	select {
	case got := <-fake.failures:
		assert.Equal(t, claimed.ID, got.taskID)
		assert.Equal(t, "narration API unavailable", got.message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure report")
	}
}

func TestRunnerRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	runner := task.NewRunner(newFakeTaskStore(), nil, runnerConfig(), discardLogger())

	handler := &fakeHandler{
		taskType: domain.TaskTypeTextGeneration,
		handle: func(context.Context, *domain.Task) (json.RawMessage, error) {
			return nil, nil
		},
	}

	require.NoError(t, runner.Register(handler))
	assert.Error(t, runner.Register(handler))
}

func TestRunnerRunRequiresHandlers(t *testing.T) {
	t.Parallel()

	runner := task.NewRunner(newFakeTaskStore(), nil, runnerConfig(), discardLogger())
	assert.Error(t, runner.Run(context.Background()))
}
