// Command worker runs a headless worker process: it claims and executes
// pipeline tasks and reclaims expired leases, without serving HTTP. Extra
// worker processes can be pointed at the same database to scale throughput;
// size limiter.expected_processes to match the total process count.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/run"

	"github.com/mikububu/readings-engine/internal/config"
	"github.com/mikububu/readings-engine/internal/events"
	"github.com/mikububu/readings-engine/internal/limiter"
	"github.com/mikububu/readings-engine/internal/platform/gemini"
	"github.com/mikububu/readings-engine/internal/platform/logger"
	"github.com/mikububu/readings-engine/internal/platform/mediaapi"
	"github.com/mikububu/readings-engine/internal/platform/postgres"
	"github.com/mikububu/readings-engine/internal/task"
)

const dbPingTimeout = 5 * time.Second

func main() {
	if err := runWorker(); err != nil {
		log.Fatalf("worker exited with error: %v", err)
	}
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logg.Error("failed to close database connection", "error", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db)

	lim := limiter.New(limiter.Config{
		AccountRPM:        cfg.Limiter.AccountRPM,
		ExpectedProcesses: cfg.Limiter.ExpectedProcesses,
		DefaultCooldown:   time.Duration(cfg.Limiter.DefaultCooldownS) * time.Second,
		MaxCooldown:       time.Duration(cfg.Limiter.MaxCooldownS) * time.Second,
	}, logg)

	textGenerator, err := gemini.NewTextGenerator(context.Background(), logg, cfg.Generation)
	if err != nil {
		return fmt.Errorf("failed to create text generator: %w", err)
	}

	mediaClient, err := mediaapi.NewClient(cfg.Generation, logg)
	if err != nil {
		return fmt.Errorf("failed to create media API client: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(logg)
	emitter.RegisterHandler(events.NewLoggingHandler(logg))

	runner := task.NewRunner(taskStore, emitter, task.RunnerConfig{
		WorkerCount:  cfg.Worker.Count,
		PollInterval: time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
	}, logg)

	handlers := []task.Handler{
		task.NewTextGenerationHandler(textGenerator, lim),
		task.NewDocumentRenderHandler(mediaClient, lim),
		task.NewAudioNarrationHandler(mediaClient, lim),
		task.NewSongRenderHandler(mediaClient, lim),
	}
	for _, h := range handlers {
		if err := runner.Register(h); err != nil {
			return fmt.Errorf("failed to register task handler: %w", err)
		}
	}

	reclaimer := task.NewReclaimer(
		taskStore,
		time.Duration(cfg.Worker.ReclaimIntervalMs)*time.Millisecond,
		logg,
	)

	var group run.Group

	group.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	group.Add(
		func() error { return runner.Run(runnerCtx) },
		func(error) { cancelRunner() },
	)

	reclaimCtx, cancelReclaim := context.WithCancel(context.Background())
	group.Add(
		func() error { return reclaimer.Run(reclaimCtx) },
		func(error) { cancelReclaim() },
	)

	logg.Info("worker started",
		"worker_count", cfg.Worker.Count,
		"pid", os.Getpid(),
		slog.String("limiter_interval", lim.Interval().String()))

	err = group.Run()

	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) {
		return err
	}
	logg.Info("worker stopped")
	return nil
}
