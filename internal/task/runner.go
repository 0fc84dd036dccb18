package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikububu/readings-engine/internal/domain"
	"github.com/mikububu/readings-engine/internal/events"
	"github.com/mikububu/readings-engine/internal/platform/logger"
	"github.com/mikububu/readings-engine/internal/store"
)

// RunnerConfig holds configuration for the task runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent claim loops run.
	WorkerCount int

	// PollInterval is the idle delay between claim attempts when no task
	// is available.
	PollInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  4,
		PollInterval: 2 * time.Second,
	}
}

// Runner manages the pool of workers that claim and execute tasks.
type Runner struct {
	store    store.TaskStore
	emitter  events.EventEmitter
	handlers map[string]Handler
	config   RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(
	taskStore store.TaskStore,
	emitter events.EventEmitter,
	config RunnerConfig,
	log *slog.Logger,
) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultRunnerConfig().WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}

	return &Runner{
		store:    taskStore,
		emitter:  emitter,
		handlers: make(map[string]Handler),
		config:   config,
		logger:   log,
	}
}

// Register adds a handler for its task type. Registering two handlers for
// the same type is a wiring bug and returns an error.
func (r *Runner) Register(handler Handler) error {
	taskType := handler.Type()
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("handler for task type %q already registered", taskType)
	}
	r.handlers[taskType] = handler
	return nil
}

// taskTypes returns the claimable type set, i.e. every registered handler.
func (r *Runner) taskTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	return types
}

// Run starts the worker pool and blocks until ctx is cancelled. Workers
// finish their in-flight task before returning.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return errors.New("no task handlers registered")
	}

	r.logger.Info("starting task workers",
		"worker_count", r.config.WorkerCount,
		"task_types", r.taskTypes())

	var wg sync.WaitGroup
	for i := 0; i < r.config.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	r.logger.Info("task workers stopped")
	return nil
}

// worker is one claim-execute-report loop.
func (r *Runner) worker(ctx context.Context, workerID int) {
	log := r.logger.With("worker_id", workerID)
	log.Debug("starting worker")

	types := r.taskTypes()
	for {
		if ctx.Err() != nil {
			log.Debug("stopping worker")
			return
		}

		claimed, err := r.store.ClaimNextPending(ctx, types)
		if err != nil {
			if !errors.Is(err, store.ErrNoTaskAvailable) && !errors.Is(err, context.Canceled) {
				log.Error("failed to claim task", "error", err)
			}
			r.idle(ctx)
			continue
		}

		r.processTask(ctx, claimed, workerID)
	}
}

// idle waits one poll interval or until shutdown.
func (r *Runner) idle(ctx context.Context) {
	timer := time.NewTimer(r.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processTask executes one claimed task and reports its outcome. Outcome
// reporting uses a context that survives shutdown so a finished task is
// never lost between execution and its terminal write.
func (r *Runner) processTask(ctx context.Context, claimed *domain.Task, workerID int) {
	log := r.logger.With(
		"task_id", claimed.ID,
		"task_type", claimed.Type,
		"job_id", claimed.JobID,
		"worker_id", workerID,
		"attempt", claimed.Attempts,
	)
	ctx = logger.WithLogger(ctx, log)

	handler, ok := r.handlers[claimed.Type]
	if !ok {
		// Claimable types come from the handler map, so this only happens
		// if the store hands back a type we never asked for.
		r.reportFailure(ctx, claimed, fmt.Sprintf("no handler for task type %q", claimed.Type), log)
		return
	}

	log.Info("processing task")

	taskCtx, cancel := context.WithCancel(ctx)
	stopHeartbeat := r.startHeartbeat(taskCtx, cancel, claimed, log)

	output, err := r.safeHandle(taskCtx, handler, claimed)
	stopHeartbeat()
	cancel()

	if err != nil {
		log.Error("task execution failed", "error", err)
		r.reportFailure(ctx, claimed, err.Error(), log)
		return
	}

	reportCtx := logger.WithLogger(context.WithoutCancel(ctx), log)
	result, err := r.store.CompleteTask(reportCtx, claimed.ID, output)
	if err != nil {
		log.Error("failed to record task completion", "error", err)
		return
	}

	log.Info("task completed",
		"cascade_enqueued", result.TasksEnqueued,
		"job_complete", result.JobComplete)

	if result.JobComplete {
		r.emit(reportCtx, events.EventJobCompleted, claimed, "", log)
	}
}

// safeHandle runs the handler with panic recovery at the dispatch boundary,
// so a panicking handler becomes a failed attempt instead of a dead worker.
func (r *Runner) safeHandle(
	ctx context.Context,
	handler Handler,
	claimed *domain.Task,
) (output json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task handler panicked: %v", p)
		}
	}()
	return handler.Handle(ctx, claimed)
}

// reportFailure records a failed attempt and emits the job event when the
// failure was terminal for the whole job.
func (r *Runner) reportFailure(ctx context.Context, claimed *domain.Task, message string, log *slog.Logger) {
	reportCtx := logger.WithLogger(context.WithoutCancel(ctx), log)
	result, err := r.store.FailTask(reportCtx, claimed.ID, message)
	if err != nil {
		log.Error("failed to record task failure", "error", err)
		return
	}
	if result.JobFailed {
		r.emit(reportCtx, events.EventJobFailed, claimed, message, log)
	}
}

// emit publishes a terminal job event; delivery is at-least-once and
// best-effort from the runner's perspective.
func (r *Runner) emit(ctx context.Context, eventType string, claimed *domain.Task, message string, log *slog.Logger) {
	if r.emitter == nil {
		return
	}
	event, err := events.NewJobStatusEvent(eventType, claimed.JobID, message)
	if err != nil {
		log.Error("failed to build job event", "error", err)
		return
	}
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		log.Error("failed to emit job event", "error", err, "event_type", eventType)
	}
}

// startHeartbeat refreshes the task's lease at a third of its heartbeat
// timeout. If the store says the lease is gone (the task was reclaimed and
// belongs to someone else now), the task context is cancelled to stop the
// in-flight work. Returns a stop function.
func (r *Runner) startHeartbeat(
	ctx context.Context,
	cancel context.CancelFunc,
	claimed *domain.Task,
	log *slog.Logger,
) func() {
	interval := claimed.HeartbeatTimeout() / 3
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.Heartbeat(ctx, claimed.ID); err != nil {
					if errors.Is(err, store.ErrNotProcessing) || errors.Is(err, store.ErrTaskNotFound) {
						log.Warn("task lease lost, abandoning in-flight work", "error", err)
						cancel()
						return
					}
					log.Error("heartbeat failed", "error", err)
				}
			}
		}
	}()

	return stop
}
