package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/run"

	"github.com/mikububu/readings-engine/internal/api"
	apimiddleware "github.com/mikububu/readings-engine/internal/api/middleware"
	"github.com/mikububu/readings-engine/internal/config"
	"github.com/mikububu/readings-engine/internal/events"
	"github.com/mikububu/readings-engine/internal/limiter"
	"github.com/mikububu/readings-engine/internal/platform/gemini"
	"github.com/mikububu/readings-engine/internal/platform/logger"
	"github.com/mikububu/readings-engine/internal/platform/mediaapi"
	"github.com/mikububu/readings-engine/internal/platform/postgres"
	"github.com/mikububu/readings-engine/internal/service"
	"github.com/mikububu/readings-engine/internal/task"
)

const (
	dbPingTimeout       = 5 * time.Second
	httpReadTimeout     = 10 * time.Second
	httpWriteTimeout    = 30 * time.Second
	httpShutdownTimeout = 15 * time.Second
)

// application holds the wired dependencies of the server process.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	router    chi.Router
	runner    *task.Runner
	reclaimer *task.Reclaimer
}

// newApplication loads configuration, connects to the database, applies
// migrations, and wires every component of the server process.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}
	log.Info("database migrations applied")

	jobStore := postgres.NewPostgresJobStore(db)
	taskStore := postgres.NewPostgresTaskStore(db)

	lim := limiter.New(limiter.Config{
		AccountRPM:        cfg.Limiter.AccountRPM,
		ExpectedProcesses: cfg.Limiter.ExpectedProcesses,
		DefaultCooldown:   time.Duration(cfg.Limiter.DefaultCooldownS) * time.Second,
		MaxCooldown:       time.Duration(cfg.Limiter.MaxCooldownS) * time.Second,
	}, log)
	log.Info("outbound call limiter configured",
		"account_rpm", cfg.Limiter.AccountRPM,
		"expected_processes", cfg.Limiter.ExpectedProcesses,
		"interval", lim.Interval().String())

	textGenerator, err := gemini.NewTextGenerator(context.Background(), log, cfg.Generation)
	if err != nil {
		return nil, fmt.Errorf("failed to create text generator: %w", err)
	}

	mediaClient, err := mediaapi.NewClient(cfg.Generation, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create media API client: %w", err)
	}

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(events.NewLoggingHandler(log))

	runner := task.NewRunner(taskStore, emitter, task.RunnerConfig{
		WorkerCount:  cfg.Worker.Count,
		PollInterval: time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
	}, log)

	handlers := []task.Handler{
		task.NewTextGenerationHandler(textGenerator, lim),
		task.NewDocumentRenderHandler(mediaClient, lim),
		task.NewAudioNarrationHandler(mediaClient, lim),
		task.NewSongRenderHandler(mediaClient, lim),
	}
	for _, h := range handlers {
		if err := runner.Register(h); err != nil {
			return nil, fmt.Errorf("failed to register task handler: %w", err)
		}
	}

	reclaimer := task.NewReclaimer(
		taskStore,
		time.Duration(cfg.Worker.ReclaimIntervalMs)*time.Millisecond,
		log,
	)

	jobService := service.NewJobService(jobStore, log)
	jobHandler := api.NewJobHandler(jobService)

	router := newRouter(jobHandler, db)

	return &application{
		cfg:       cfg,
		logger:    log,
		db:        db,
		router:    router,
		runner:    runner,
		reclaimer: reclaimer,
	}, nil
}

// newRouter builds the HTTP routing tree.
func newRouter(jobHandler *api.JobHandler, db *sql.DB) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(apimiddleware.TraceMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", jobHandler.CreateJob)
		r.Get("/jobs/{id}", jobHandler.GetJob)
	})

	return r
}

// Run starts the HTTP server, the task runner, and the lease reclaimer, and
// blocks until one of them exits or a shutdown signal arrives.
func (app *application) Run() error {
	defer func() {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}()

	var group run.Group

	group.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
	}
	group.Add(
		func() error {
			app.logger.Info("starting HTTP server", "addr", server.Addr)
			return server.ListenAndServe()
		},
		func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				app.logger.Error("HTTP server shutdown failed", "error", err)
			}
		},
	)

	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	group.Add(
		func() error {
			return app.runner.Run(runnerCtx)
		},
		func(error) {
			cancelRunner()
		},
	)

	reclaimCtx, cancelReclaim := context.WithCancel(context.Background())
	group.Add(
		func() error {
			return app.reclaimer.Run(reclaimCtx)
		},
		func(error) {
			cancelReclaim()
		},
	)

	err := group.Run()

	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) {
		return err
	}
	app.logger.Info("application stopped", "pid", os.Getpid())
	return nil
}
