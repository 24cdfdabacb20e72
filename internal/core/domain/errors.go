package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies why a conversion did not produce a result.
type FailureKind string

const (
	KindInvalidInput       FailureKind = "invalid_input"
	KindToolUnavailable    FailureKind = "tool_unavailable"
	KindConversionRejected FailureKind = "conversion_rejected"
	KindArtifactNotFound   FailureKind = "artifact_not_found"
	KindOutputTooLarge     FailureKind = "output_too_large"
	KindTimeout            FailureKind = "timeout"
	// KindInternal covers workspace I/O failures (disk full, permissions).
	KindInternal FailureKind = "internal"
)

// MaxPublicDetail bounds the diagnostic text attached to a caller-facing message.
const MaxPublicDetail = 256

var (
	ErrToolUnavailable  = errors.New("converter tool unavailable")
	ErrWorkspaceExists  = errors.New("workspace already exists")
	ErrWorkspaceUnknown = errors.New("workspace not held by this manager")
)

// ConversionError is the only error type returned by the orchestrator.
// Message and Detail are safe to show to callers; Err is for logs.
type ConversionError struct {
	JobID   JobID
	Kind    FailureKind
	Message string
	Detail  string
	Err     error
}

func NewConversionError(id JobID, kind FailureKind, msg string, err error) *ConversionError {
	return &ConversionError{JobID: id, Kind: kind, Message: msg, Err: err}
}

// WithDetail returns a copy carrying a bounded diagnostic summary.
func (e *ConversionError) WithDetail(detail string) *ConversionError {
	cp := *e
	cp.Detail = truncate(strings.TrimSpace(detail), MaxPublicDetail)
	return &cp
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Public renders the message exposed outside the process.
func (e *ConversionError) Public() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

// KindOf extracts the failure kind from err, or KindInternal when err is not a ConversionError.
func KindOf(err error) FailureKind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a ConversionError of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var ce *ConversionError
	return errors.As(err, &ce) && ce.Kind == kind
}

const ellipsis = "..."

// truncate bounds s to limit bytes, ellipsis included.
func truncate(s string, limit int) string {
	if limit <= len(ellipsis) || len(s) <= limit {
		return s
	}
	cut := limit - len(ellipsis)
	// avoid splitting a UTF-8 sequence
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + ellipsis
}
