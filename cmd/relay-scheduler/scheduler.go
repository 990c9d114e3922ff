package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaycrm/relay/pkg/workflow"
)

// Scheduler owns the polling loop: every interval it fires due cron schedules
// and resumes runs whose delay has elapsed. One scheduler instance should run
// per deployment; the delay claim is atomic, so an accidental second instance
// degrades to harmless competition rather than double resumes.
type Scheduler struct {
	id       string
	engine   *workflow.Engine
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(id string, engine *workflow.Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		id:       id,
		engine:   engine,
		interval: interval,
		logger:   logger.With("scheduler_id", id),
	}
}

// Start ticks until the context is cancelled. An errored tick is logged and
// the loop keeps going; transient storage failures should not kill the
// scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopping")

			return
		case now := <-ticker.C:
			result, err := s.engine.Tick(ctx, now)
			if err != nil {
				s.logger.ErrorContext(ctx, "Tick failed", "error", err)

				continue
			}

			if result.Started > 0 || result.Resumed > 0 {
				s.logger.InfoContext(ctx, "Tick completed",
					"started", result.Started,
					"resumed", result.Resumed)
			}
		}
	}
}
