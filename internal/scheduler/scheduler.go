// Package scheduler runs recurring sync jobs using the gocron library.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler wraps a gocron scheduler configured for UTC with structured
// logging. Used by the watch command to run periodic incremental syncs.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// New creates a stopped scheduler; call Start after registering jobs.
func New(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
	}, nil
}

// AddEvery registers a job to run at the given interval. The first run
// fires after one full interval. A run that outlasts the interval is
// never overlapped; missed triggers are rescheduled, not stacked.
func (s *Scheduler) AddEvery(name string, interval time.Duration, job func()) error {
	if name == "" {
		return errors.New("empty job name")
	}
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	if job == nil {
		return errors.New("nil job function")
	}

	wrapped := func() {
		start := time.Now()
		job()
		s.logger.Debug("Job finished", "job", name, "duration", time.Since(start))
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	return nil
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Debug("Scheduler started")
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}
