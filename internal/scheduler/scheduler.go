// Package scheduler runs named background tasks on cron schedules using the
// gocron library.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TaskFunc is one schedulable unit of background work.
type TaskFunc func(ctx context.Context) error

// Scheduler manages scheduled tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
}

// New creates a scheduler instance.
func New(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
	}, nil
}

// Register adds a task on a cron schedule. Tasks run in the background at low
// priority; a failing run is logged and the schedule keeps ticking.
func (s *Scheduler) Register(name, cronExpr string, task TaskFunc) error {
	_, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func(ctx context.Context) {
			s.logger.Info("Running scheduled task", "task_name", name)
			startTime := time.Now()

			if taskErr := task(ctx); taskErr != nil {
				s.logger.Error("Scheduled task failed",
					"task_name", name, "error", taskErr,
					"duration", time.Since(startTime))
				return
			}

			s.logger.Info("Scheduled task finished",
				"task_name", name, "duration", time.Since(startTime))
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %s (%q): %w", name, cronExpr, err)
	}

	s.logger.Info("Task scheduled", "task_name", name, "schedule", cronExpr)
	return nil
}

// Start begins the scheduler's internal ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.scheduler.Start()
	s.running = true
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	s.running = false
	return nil
}
