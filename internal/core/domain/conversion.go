package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ConversionRequest is what a caller submits: raw bytes, the original file name and the target format.
type ConversionRequest struct {
	Source   []byte
	FileName string
	Format   string
}

// ConversionResult is a successful conversion. FileName is derived from the
// caller's original name, never from what the converter wrote on disk.
type ConversionResult struct {
	JobID    JobID
	Output   []byte
	FileName string
	MIMEType string
	Format   Format
}

// Workspace is a directory exclusively owned by one job.
type Workspace struct {
	JobID JobID
	Path  string
}

const (
	workspaceSourceDir  = "src"
	workspaceProfileDir = ".profile"
)

// SourceDir holds the written input so it never shares a directory with converter output.
func (w Workspace) SourceDir() string {
	return filepath.Join(w.Path, workspaceSourceDir)
}

// ProfileDir is the per-job converter user installation.
func (w Workspace) ProfileDir() string {
	return filepath.Join(w.Path, workspaceProfileDir)
}

// Diagnostic is the bounded stderr captured from the converter.
type Diagnostic struct {
	Text         string
	Truncated    bool
	DroppedBytes int64
}

// Summary compacts the diagnostic to one line, replaces any of the scrub
// strings (workspace paths) with a placeholder and keeps at most limit bytes of the tail.
func (d Diagnostic) Summary(limit int, scrub ...string) string {
	text := d.Text
	for _, s := range scrub {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, "<workspace>")
	}
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	text = strings.Join(parts, "; ")
	if limit > len(ellipsis) && len(text) > limit {
		start := len(text) - (limit - len(ellipsis))
		for start < len(text) && text[start]&0xC0 == 0x80 {
			start++
		}
		text = ellipsis + text[start:]
	}
	return text
}

// RunOutcome is what the converter process reported. A non-zero ExitCode is
// a rejection, not a launch failure.
type RunOutcome struct {
	ExitCode   int
	Diagnostic Diagnostic
	Duration   time.Duration
}

// FileEntry describes one entry of a workspace listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

func (f FileEntry) String() string {
	if f.IsDir {
		return fmt.Sprintf("%s/ (%s)", f.Name, f.ModTime.UTC().Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("%s %dB (%s)", f.Name, f.Size, f.ModTime.UTC().Format(time.RFC3339Nano))
}

// ResolutionError is returned when the produced artifact cannot be identified unambiguously.
type ResolutionError struct {
	Expected   string
	Candidates []string
	Listing    []FileEntry
}

func (e *ResolutionError) Error() string {
	entries := make([]string, 0, len(e.Listing))
	for _, f := range e.Listing {
		entries = append(entries, f.String())
	}
	reason := "no candidate output"
	if len(e.Candidates) > 1 {
		reason = fmt.Sprintf("ambiguous output (%s)", strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("expected %s: %s; workspace contains [%s]", e.Expected, reason, strings.Join(entries, ", "))
}
