// Package scheduler sweeps active experiments and runs significance
// evaluation on a ticker, so winners complete without an operator in the
// loop.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/essai/abtest"
)

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often to sweep active experiments.
	// Default: 5 minutes.
	CheckInterval time.Duration
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
}

// Scheduler periodically evaluates all active experiments.
type Scheduler struct {
	svc    *abtest.Service
	config Config
	logger *slog.Logger
}

// New creates a Scheduler.
func New(svc *abtest.Service, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{svc: svc, config: cfg, logger: logger}
}

// Run sweeps on a ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run once immediately on start.
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every active experiment once. A failed evaluation is
// logged and skipped; the sweep continues with the rest.
func (s *Scheduler) Sweep(ctx context.Context) {
	list, err := s.svc.List(ctx, abtest.StatusActive)
	if err != nil {
		s.logger.Error("scheduler: list experiments", "error", err)
		return
	}

	completed := 0
	for _, e := range list {
		ev, err := s.svc.Evaluate(ctx, e.ID)
		if err != nil {
			s.logger.Warn("scheduler: evaluate", "id", e.ID, "error", err)
			continue
		}
		if ev.Significant {
			completed++
		}
	}
	if completed > 0 {
		s.logger.Debug("scheduler: sweep done", "active", len(list), "completed", completed)
	}
}
