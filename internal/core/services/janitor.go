package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/ports"
)

// JanitorConfig controls periodic cleanup.
type JanitorConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

// Janitor reclaims state left behind by jobs that did not finish cleanly:
// workspace directories, runner leftovers (containers) and job records stuck in a running state.
type Janitor struct {
	logger     *slog.Logger
	workspaces *WorkspaceManager
	reaper     ports.OrphanReaper  // optional
	repo       ports.JobRepository // optional
	cfg        JanitorConfig
}

func NewJanitor(logger *slog.Logger, workspaces *WorkspaceManager, reaper ports.OrphanReaper, repo ports.JobRepository, cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Janitor{
		logger:     logger,
		workspaces: workspaces,
		reaper:     reaper,
		repo:       repo,
		cfg:        cfg,
	}
}

// ReapStartup runs once before serving. Nothing is in flight yet, so every
// workspace and every non-terminal job belongs to a previous process.
func (j *Janitor) ReapStartup(ctx context.Context) error {
	j.logger.Info("running startup reaper")

	if j.repo != nil {
		n, err := j.repo.MarkInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("mark interrupted jobs: %w", err)
		}
		if n > 0 {
			j.logger.Warn("jobs interrupted by previous shutdown", "count", n)
		}
	}

	return j.sweep(ctx, 0)
}

// Sweep removes leftovers older than the configured TTL.
func (j *Janitor) Sweep(ctx context.Context) error {
	return j.sweep(ctx, j.cfg.TTL)
}

func (j *Janitor) sweep(ctx context.Context, olderThan time.Duration) error {
	removed, err := j.workspaces.Sweep(olderThan)
	if removed > 0 {
		j.logger.Info("orphaned workspaces removed", "count", removed)
	}
	if err != nil {
		return fmt.Errorf("sweep workspaces: %w", err)
	}

	if j.reaper != nil {
		reaped, err := j.reaper.ReapOrphans(ctx, olderThan, j.workspaces.Held)
		if reaped > 0 {
			j.logger.Info("orphaned converter containers removed", "count", reaped)
		}
		if err != nil {
			return fmt.Errorf("reap runner orphans: %w", err)
		}
	}
	return nil
}

// Run sweeps on every tick until ctx is done. Sweep failures are logged, not fatal.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				j.logger.Error("janitor sweep failed", "error", err)
			}
		}
	}
}
