package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	MaxConcurrentJobs int64
}

// JobScheduler bounds how many conversions run at once.
// Every job gets its own workspace, so the bound protects host resources only.
type JobScheduler struct {
	logger    *slog.Logger
	semaphore *semaphore.Weighted
	limit     int64
	inFlight  atomic.Int64
	waiting   atomic.Int64
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	// Default to 4 concurrent jobs if not set
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 4
	}

	return &JobScheduler{
		logger:    logger,
		semaphore: semaphore.NewWeighted(limit),
		limit:     limit,
	}
}

// Run blocks until a slot is free (or ctx ends) and then executes fn in the caller's goroutine.
func (s *JobScheduler) Run(ctx context.Context, id domain.JobID, fn func(context.Context) error) error {
	s.waiting.Add(1)
	err := s.semaphore.Acquire(ctx, 1)
	s.waiting.Add(-1)
	if err != nil {
		s.logger.Warn("gave up waiting for a conversion slot", "job_id", id, "error", err)
		return fmt.Errorf("waiting for conversion slot: %w", err)
	}
	defer s.semaphore.Release(1)

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	return fn(ctx)
}

// InFlight returns the number of jobs currently holding a slot.
func (s *JobScheduler) InFlight() int64 {
	return s.inFlight.Load()
}

// Waiting returns the number of jobs blocked on a slot.
func (s *JobScheduler) Waiting() int64 {
	return s.waiting.Load()
}

func (s *JobScheduler) Limit() int64 {
	return s.limit
}
