package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type JobID string

// NewJobID returns a fresh random identifier; workspace names derive from it.
func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// ParseJobID accepts only canonical UUIDs so ids are safe as directory names.
func ParseJobID(raw string) (JobID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", err
	}
	return JobID(id.String()), nil
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// JobRecord is the persisted history of one conversion.
type JobRecord struct {
	ID           JobID       `json:"id"`
	SourceName   string      `json:"source_name"`
	SourceMIME   string      `json:"source_mime"`
	SourceSize   int64       `json:"source_size"`
	TargetFormat Format      `json:"target_format"`
	Status       JobStatus   `json:"status"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	Error        string      `json:"error,omitempty"`
	OutputName   string      `json:"output_name,omitempty"`
	OutputSize   int64       `json:"output_size"`
	Runner       string      `json:"runner"`
	ExitCode     int         `json:"exit_code"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	DurationMs   int64       `json:"duration_ms"`
}

// Terminal reports whether the job reached a final state.
func (j JobRecord) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

var (
	ErrJobNotFound = errors.New("job not found")
)
