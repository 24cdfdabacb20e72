package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
)

const jobColumns = `id, source_name, source_mime, source_size, target_format, status, failure_kind,
	error, output_name, output_size, runner, exit_code, created_at, updated_at, duration_ms`

// SaveJob upserts the job record. created_at is kept from the first insert.
func (r *Repository) SaveJob(ctx context.Context, job domain.JobRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversion_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_mime   = excluded.source_mime,
			target_format = excluded.target_format,
			status        = excluded.status,
			failure_kind  = excluded.failure_kind,
			error         = excluded.error,
			output_name   = excluded.output_name,
			output_size   = excluded.output_size,
			exit_code     = excluded.exit_code,
			updated_at    = excluded.updated_at,
			duration_ms   = excluded.duration_ms`,
		string(job.ID),
		job.SourceName,
		job.SourceMIME,
		job.SourceSize,
		string(job.TargetFormat),
		string(job.Status),
		string(job.FailureKind),
		job.Error,
		job.OutputName,
		job.OutputSize,
		job.Runner,
		job.ExitCode,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		job.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM conversion_jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobRecord{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (r *Repository) ListJobs(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM conversion_jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.JobRecord{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkInterrupted fails jobs that never reached a terminal state, e.g. after a crash.
func (r *Repository) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversion_jobs
		SET status = ?, failure_kind = ?, error = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		string(domain.JobStatusFailed),
		string(domain.KindInternal),
		"interrupted by service restart",
		time.Now().UTC(),
		string(domain.JobStatusPending),
		string(domain.JobStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (domain.JobRecord, error) {
	var (
		job                      domain.JobRecord
		id, format, status, kind string
	)
	err := s.Scan(
		&id,
		&job.SourceName,
		&job.SourceMIME,
		&job.SourceSize,
		&format,
		&status,
		&kind,
		&job.Error,
		&job.OutputName,
		&job.OutputSize,
		&job.Runner,
		&job.ExitCode,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.DurationMs,
	)
	if err != nil {
		return domain.JobRecord{}, err
	}
	job.ID = domain.JobID(id)
	job.TargetFormat = domain.Format(format)
	job.Status = domain.JobStatus(status)
	job.FailureKind = domain.FailureKind(kind)
	return job, nil
}
