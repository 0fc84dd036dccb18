package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikububu/readings-engine/internal/store"
)

// Reclaimer periodically sweeps for processing tasks whose worker stopped
// heartbeating and returns them to the pending pool. It is the only crash
// detector in the system: a dead worker never reports its own death.
type Reclaimer struct {
	store    store.TaskStore
	interval time.Duration
	logger   *slog.Logger
}

// NewReclaimer creates a Reclaimer sweeping at the given interval.
func NewReclaimer(taskStore store.TaskStore, interval time.Duration, log *slog.Logger) *Reclaimer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reclaimer{
		store:    taskStore,
		interval: interval,
		logger:   log.With("component", "lease_reclaimer"),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	r.logger.Info("starting lease reclaimer", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("lease reclaimer stopped")
			return nil
		case <-ticker.C:
			count, err := r.store.ReclaimExpired(ctx, time.Now().UTC())
			if err != nil {
				r.logger.Error("failed to reclaim expired leases", "error", err)
				continue
			}
			if count > 0 {
				r.logger.Info("reclaimed expired leases", "count", count)
			}
		}
	}
}
