package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

// Migrator performs one memory migration attempt.
type Migrator interface {
	Run(ctx context.Context) error
}

// MigrationRunner runs the memory migration at startup and retries failed
// attempts until one succeeds or ctx is cancelled. A run that finds the
// migration done, or owned by another instance, counts as success.
type MigrationRunner struct {
	migrator Migrator
	interval time.Duration
	done     chan struct{}
}

// NewMigrationRunner creates a runner retrying every interval.
func NewMigrationRunner(m Migrator, interval time.Duration) *MigrationRunner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MigrationRunner{migrator: m, interval: interval, done: make(chan struct{})}
}

// Done is closed once Start returns.
func (r *MigrationRunner) Done() <-chan struct{} { return r.done }

// Start blocks until the migration succeeded or ctx is cancelled.
func (r *MigrationRunner) Start(ctx context.Context) {
	defer close(r.done)
	for attempt := 1; ; attempt++ {
		err := r.migrator.Run(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			log.Info("Memory migration runner stopped", "attempt", attempt)
			return
		}
		log.Error("Memory migration attempt failed, will retry", "attempt", attempt, "retryIn", r.interval, "err", err)

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
