// Package sched runs the delayed-execution background loop. The engine
// signals Activate after creating any delayed execution; the runner
// also polls on an interval so nothing is stranded across restarts.
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Engine is the part of the signal engine the runner drives.
type Engine interface {
	RunDue(ctx context.Context) (int, error)
}

// Runner scans for due executions and fires them.
type Runner struct {
	engine   Engine
	interval time.Duration
	nudge    chan struct{}
}

// New creates a runner polling at the given interval.
func New(engine Engine, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		nudge:    make(chan struct{}, 1),
	}
}

// Activate nudges the runner to re-scan without waiting for the next
// tick. Never blocks; a nudge while one is already queued is a no-op.
func (r *Runner) Activate() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Msg("execution scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("execution scheduler stopped")
			return
		case <-ticker.C:
		case <-r.nudge:
		}

		fired, err := r.engine.RunDue(ctx)
		if err != nil {
			log.Error().Err(err).Msg("due-execution scan failed")
			continue
		}
		if fired > 0 {
			log.Info().Int("fired", fired).Msg("due executions fired")
		}
	}
}
