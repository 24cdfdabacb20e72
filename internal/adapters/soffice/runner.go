package soffice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/ports"
)

// waitDelay bounds how long Wait blocks on stderr after the process exits or is killed.
const waitDelay = 5 * time.Second

// candidateBinaries are probed in order when no binary is configured.
var candidateBinaries = []string{
	"soffice",
	"libreoffice",
	"/usr/bin/soffice",
	"/usr/lib/libreoffice/program/soffice",
	"/opt/homebrew/bin/soffice",
	"/Applications/LibreOffice.app/Contents/MacOS/soffice",
}

type Config struct {
	// Binary is a path or a name looked up on PATH. Empty means probe candidateBinaries.
	Binary        string
	Filters       Filters
	MaxDiagnostic int
}

// Runner executes LibreOffice as a local child process.
type Runner struct {
	logger *slog.Logger
	cfg    Config
}

// Ensure Runner implements ConverterRunner
var _ ports.ConverterRunner = (*Runner)(nil)

func NewRunner(logger *slog.Logger, cfg Config) *Runner {
	if cfg.Filters == nil {
		cfg.Filters = DefaultFilters()
	}
	if cfg.MaxDiagnostic <= 0 {
		cfg.MaxDiagnostic = DefaultMaxDiagnostic
	}
	return &Runner{logger: logger, cfg: cfg}
}

func (r *Runner) Name() string {
	return "soffice"
}

// Locate returns the converter binary that Run would execute.
func (r *Runner) Locate() (string, error) {
	if r.cfg.Binary != "" {
		path, err := exec.LookPath(r.cfg.Binary)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrToolUnavailable, err)
		}
		return path, nil
	}
	for _, name := range candidateBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no soffice binary found", domain.ErrToolUnavailable)
}

func (r *Runner) Run(ctx context.Context, ws domain.Workspace, inputPath string, format domain.Format) (domain.RunOutcome, error) {
	outcome := domain.RunOutcome{ExitCode: -1}

	bin, err := r.Locate()
	if err != nil {
		return outcome, err
	}

	args := Args(ws.ProfileDir(), ws.Path, inputPath, ImportFilter(inputPath, format), r.cfg.Filters.Filter(format))
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = ws.Path
	// HOME inside the workspace keeps font and config caches out of the service user's home.
	cmd.Env = append(os.Environ(), "HOME="+ws.Path)
	cmd.Stdout = io.Discard
	stderr := NewBoundedBuffer(r.cfg.MaxDiagnostic)
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return outcome, fmt.Errorf("%w: start %s: %v", domain.ErrToolUnavailable, bin, err)
	}

	r.logger.Debug("converter started", "job_id", ws.JobID, "pid", cmd.Process.Pid, "binary", bin)

	waitErr := cmd.Wait()
	outcome.Duration = time.Since(start)
	outcome.Diagnostic = stderr.Diagnostic()
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, fmt.Errorf("converter killed: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.As(waitErr, &exitErr):
		return outcome, nil
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// exited, but a forked helper kept stderr open
		r.logger.Warn("converter left stderr open after exit", "job_id", ws.JobID)
		return outcome, nil
	default:
		return outcome, fmt.Errorf("wait for converter: %w", waitErr)
	}
}
