package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes expired in-memory state and reports how much it removed.
type Sweeper interface {
	Sweep() int
}

// SweepWorker periodically sweeps expired rate-limit buckets and ledger
// snapshots so idle users do not hold memory indefinitely.
type SweepWorker struct {
	sweepers map[string]Sweeper
	interval time.Duration
}

// NewSweepWorker creates a worker that sweeps each named Sweeper every interval.
func NewSweepWorker(interval time.Duration, sweepers map[string]Sweeper) *SweepWorker {
	return &SweepWorker{
		sweepers: sweepers,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start: nothing has expired yet.
func (w *SweepWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sweep",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sweep",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.sweepOnce()
		}
	}
}

// sweepOnce runs every sweeper a single time.
func (w *SweepWorker) sweepOnce() {
	start := time.Now()
	for name, s := range w.sweepers {
		removed := s.Sweep()
		if removed > 0 {
			slog.Debug("sweep completed",
				"component", "worker",
				"action", "sweep",
				"target", name,
				"removed", removed,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
