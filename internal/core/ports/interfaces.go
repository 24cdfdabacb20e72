package ports

import (
	"context"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

// ConverterRunner abstracts how the external converter is executed (local process, container).
type ConverterRunner interface {
	// Name identifies the runner in logs and job history.
	Name() string

	// Run converts inputPath inside ws to format, writing output to ws.Path.
	// A non-nil error means the tool could not be launched (wrapping
	// domain.ErrToolUnavailable) or ctx ended; a non-zero exit is reported
	// in RunOutcome only. The artifact is never guaranteed to exist.
	Run(ctx context.Context, ws domain.Workspace, inputPath string, format domain.Format) (domain.RunOutcome, error)
}

// OrphanReaper is implemented by runners that leave runtime state behind on crash.
// State of jobs for which inUse reports true must be left alone.
type OrphanReaper interface {
	ReapOrphans(ctx context.Context, olderThan time.Duration, inUse func(domain.JobID) bool) (int, error)
}

// JobRepository abstracts the persistent storage (DuckDB)
type JobRepository interface {
	SaveJob(ctx context.Context, job domain.JobRecord) error
	GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error)
	// ListJobs returns the newest jobs first.
	ListJobs(ctx context.Context, limit int) ([]domain.JobRecord, error)
	// MarkInterrupted fails every non-terminal job; used at startup.
	MarkInterrupted(ctx context.Context) (int64, error)
}

// SettingsRepository persists opaque settings documents.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}
