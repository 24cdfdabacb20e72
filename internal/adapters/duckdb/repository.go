package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GedeBrawidya/convert-project/internal/core/ports"
	_ "github.com/marcboeker/go-duckdb"
)

var ErrSettingNotFound = errors.New("setting not found")

type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path and applies migrations.
// An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// DuckDB allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Ensure Repository implements the storage ports
var (
	_ ports.JobRepository      = (*Repository)(nil)
	_ ports.SettingsRepository = (*Repository)(nil)
)

func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversion_jobs (
			id            VARCHAR PRIMARY KEY,
			source_name   VARCHAR NOT NULL DEFAULT '',
			source_mime   VARCHAR NOT NULL DEFAULT '',
			source_size   BIGINT  NOT NULL DEFAULT 0,
			target_format VARCHAR NOT NULL DEFAULT '',
			status        VARCHAR NOT NULL,
			failure_kind  VARCHAR NOT NULL DEFAULT '',
			error         VARCHAR NOT NULL DEFAULT '',
			output_name   VARCHAR NOT NULL DEFAULT '',
			output_size   BIGINT  NOT NULL DEFAULT 0,
			runner        VARCHAR NOT NULL DEFAULT '',
			exit_code     INTEGER NOT NULL DEFAULT 0,
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL,
			duration_ms   BIGINT  NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        VARCHAR PRIMARY KEY,
			value      VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, current_timestamp)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}
