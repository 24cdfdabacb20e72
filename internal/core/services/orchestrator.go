package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/ports"
	"github.com/gabriel-vasile/mimetype"
)

const (
	maxStemBytes = 120
	maxExtBytes  = 16
)

// Orchestrator runs one conversion per Convert call: validate, acquire a
// workspace, run the converter, resolve the artifact, read it and release the
// workspace on every path.
type Orchestrator struct {
	logger     *slog.Logger
	workspaces *WorkspaceManager
	runner     ports.ConverterRunner
	scheduler  *JobScheduler
	repo       ports.JobRepository // optional
	bus        *EventBus           // optional

	mu       sync.RWMutex
	settings domain.ConversionSettings
}

func NewOrchestrator(
	logger *slog.Logger,
	workspaces *WorkspaceManager,
	runner ports.ConverterRunner,
	scheduler *JobScheduler,
	repo ports.JobRepository,
	bus *EventBus,
	settings *domain.ConversionSettings,
) *Orchestrator {
	if settings == nil {
		settings = domain.DefaultSettings()
	}
	return &Orchestrator{
		logger:     logger,
		workspaces: workspaces,
		runner:     runner,
		scheduler:  scheduler,
		repo:       repo,
		bus:        bus,
		settings:   *settings,
	}
}

// UpdateSettings swaps the limits used by subsequent jobs. Jobs in flight keep theirs.
func (o *Orchestrator) UpdateSettings(s *domain.ConversionSettings) {
	o.mu.Lock()
	o.settings = *s
	o.mu.Unlock()
	o.logger.Info("conversion settings updated",
		"timeout_seconds", s.TimeoutSeconds,
		"max_source_bytes", s.MaxSourceBytes,
		"max_artifact_bytes", s.MaxArtifactBytes,
	)
}

func (o *Orchestrator) Settings() domain.ConversionSettings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

func (o *Orchestrator) RunnerName() string {
	return o.runner.Name()
}

func (o *Orchestrator) Scheduler() *JobScheduler {
	return o.scheduler
}

// Convert performs one conversion. Every returned error is a *domain.ConversionError.
func (o *Orchestrator) Convert(ctx context.Context, req domain.ConversionRequest) (*domain.ConversionResult, error) {
	id := domain.NewJobID()
	settings := o.Settings()
	started := time.Now().UTC()

	rec := domain.JobRecord{
		ID:         id,
		SourceName: req.FileName,
		SourceSize: int64(len(req.Source)),
		Status:     domain.JobStatusPending,
		Runner:     o.runner.Name(),
		CreatedAt:  started,
		UpdatedAt:  started,
	}

	format, verr := validateRequest(id, req, &settings)
	if verr != nil {
		o.finish(ctx, &rec, nil, verr)
		return nil, verr
	}
	rec.TargetFormat = format
	rec.SourceMIME = mimetype.Detect(req.Source).String()

	o.save(ctx, rec)
	o.publish(id, StatusPayload{Status: domain.JobStatusPending, Stage: "queued", Progress: 0})

	var result *domain.ConversionResult
	err := o.scheduler.Run(ctx, id, func(ctx context.Context) error {
		var err error
		result, err = o.execute(ctx, &rec, req, format, &settings)
		return err
	})
	if err != nil {
		cerr := asConversionError(id, err)
		o.finish(ctx, &rec, nil, cerr)
		return nil, cerr
	}

	o.finish(ctx, &rec, result, nil)
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, rec *domain.JobRecord, req domain.ConversionRequest, format domain.Format, settings *domain.ConversionSettings) (*domain.ConversionResult, error) {
	id := rec.ID
	ctx, cancel := context.WithTimeout(ctx, settings.Timeout())
	defer cancel()

	ws, err := o.workspaces.Acquire(id)
	if err != nil {
		return nil, domain.NewConversionError(id, domain.KindInternal, "could not prepare a workspace", err)
	}
	defer func() {
		if err := o.workspaces.Release(ws); err != nil {
			o.logger.Error("failed to release workspace", "job_id", id, "path", ws.Path, "error", err)
		}
	}()

	inputName := SanitizeFileName(req.FileName)
	inputPath := filepath.Join(ws.SourceDir(), inputName)
	if err := os.WriteFile(inputPath, req.Source, 0o600); err != nil {
		return nil, domain.NewConversionError(id, domain.KindInternal, "could not store the uploaded document", err)
	}

	rec.Status = domain.JobStatusRunning
	rec.UpdatedAt = time.Now().UTC()
	o.save(ctx, *rec)
	o.publish(id, StatusPayload{Status: domain.JobStatusRunning, Stage: "converting", Progress: 25})

	o.logger.Info("conversion started", "job_id", id, "format", format, "runner", o.runner.Name(), "source_bytes", len(req.Source))

	outcome, err := o.runner.Run(ctx, ws, inputPath, format)
	rec.ExitCode = outcome.ExitCode
	summary := outcome.Diagnostic.Summary(domain.MaxPublicDetail, ws.Path)

	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutError(ctx, id, settings, err).WithDetail(summary)
		}
		return nil, domain.NewConversionError(id, domain.KindToolUnavailable, "the document converter is not available", err)
	}
	if outcome.ExitCode != 0 {
		return nil, domain.NewConversionError(id, domain.KindConversionRejected,
			fmt.Sprintf("the converter rejected the document (exit code %d)", outcome.ExitCode),
			fmt.Errorf("exit code %d: %s", outcome.ExitCode, outcome.Diagnostic.Text),
		).WithDetail(summary)
	}

	o.publish(id, StatusPayload{Status: domain.JobStatusRunning, Stage: "resolving", Progress: 75})

	resolver := NewArtifactResolver(ResolverConfig{Retries: settings.ResolveRetries, Interval: settings.ResolveInterval()})
	artifact, err := resolver.Resolve(ctx, ws, inputName, format)
	if err != nil {
		var rerr *domain.ResolutionError
		if errors.As(err, &rerr) {
			detail := summary
			if detail == "" {
				detail = "expected " + rerr.Expected
			}
			return nil, domain.NewConversionError(id, domain.KindArtifactNotFound,
				"the converter did not produce a recognizable output",
				fmt.Errorf("%w; stderr: %s", rerr, outcome.Diagnostic.Text),
			).WithDetail(detail)
		}
		if ctx.Err() != nil {
			return nil, timeoutError(ctx, id, settings, err)
		}
		return nil, domain.NewConversionError(id, domain.KindInternal, "could not inspect the workspace", err)
	}

	output, err := readBounded(artifact, settings.MaxArtifactBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, domain.NewConversionError(id, domain.KindOutputTooLarge,
				fmt.Sprintf("converted output exceeds the %d byte limit", settings.MaxArtifactBytes), err)
		}
		return nil, domain.NewConversionError(id, domain.KindInternal, "could not read the converted output", err)
	}

	if format == domain.FormatTXT && settings.NormalizeText {
		var charset string
		output, charset = NormalizeText(output)
		if charset != "UTF-8" {
			o.logger.Info("text output re-encoded", "job_id", id, "from", charset, "output_bytes", len(output))
		}
		// re-encoding to UTF-8 can grow the text
		if int64(len(output)) > settings.MaxArtifactBytes {
			return nil, domain.NewConversionError(id, domain.KindOutputTooLarge,
				fmt.Sprintf("converted output exceeds the %d byte limit", settings.MaxArtifactBytes), errTooLarge)
		}
	}

	return &domain.ConversionResult{
		JobID:    id,
		Output:   output,
		FileName: OutputFileName(req.FileName, format),
		MIMEType: mimetype.Detect(output).String(),
		Format:   format,
	}, nil
}

func validateRequest(id domain.JobID, req domain.ConversionRequest, settings *domain.ConversionSettings) (domain.Format, *domain.ConversionError) {
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		return "", domain.NewConversionError(id, domain.KindInvalidInput,
			fmt.Sprintf("unsupported target format %q", req.Format), err)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return "", domain.NewConversionError(id, domain.KindInvalidInput, "a file name is required", nil)
	}
	if len(req.Source) == 0 {
		return "", domain.NewConversionError(id, domain.KindInvalidInput, "the uploaded document is empty", nil)
	}
	if int64(len(req.Source)) > settings.MaxSourceBytes {
		return "", domain.NewConversionError(id, domain.KindInvalidInput,
			fmt.Sprintf("the uploaded document exceeds the %d byte limit", settings.MaxSourceBytes), nil)
	}
	return format, nil
}

func timeoutError(ctx context.Context, id domain.JobID, settings *domain.ConversionSettings, err error) *domain.ConversionError {
	msg := fmt.Sprintf("conversion did not finish within %s", settings.Timeout())
	if errors.Is(ctx.Err(), context.Canceled) {
		msg = "conversion was cancelled"
	}
	return domain.NewConversionError(id, domain.KindTimeout, msg, err)
}

// asConversionError maps anything escaping the scheduler to a ConversionError.
func asConversionError(id domain.JobID, err error) *domain.ConversionError {
	var ce *domain.ConversionError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewConversionError(id, domain.KindTimeout, "conversion was cancelled before it started", err)
	}
	return domain.NewConversionError(id, domain.KindInternal, "internal error", err)
}

func (o *Orchestrator) finish(ctx context.Context, rec *domain.JobRecord, result *domain.ConversionResult, cerr *domain.ConversionError) {
	now := time.Now().UTC()
	rec.UpdatedAt = now
	rec.DurationMs = now.Sub(rec.CreatedAt).Milliseconds()

	if cerr != nil {
		rec.Status = domain.JobStatusFailed
		rec.FailureKind = cerr.Kind
		rec.Error = cerr.Public()
		o.logger.Warn("conversion failed",
			"job_id", rec.ID,
			"format", rec.TargetFormat,
			"kind", cerr.Kind,
			"exit_code", rec.ExitCode,
			"duration_ms", rec.DurationMs,
			"error", cerr,
		)
		o.publish(rec.ID, StatusPayload{Status: domain.JobStatusFailed, Progress: 100, Kind: cerr.Kind, Message: cerr.Public()})
	} else {
		rec.Status = domain.JobStatusCompleted
		rec.OutputName = result.FileName
		rec.OutputSize = int64(len(result.Output))
		o.logger.Info("conversion completed",
			"job_id", rec.ID,
			"format", rec.TargetFormat,
			"output_bytes", rec.OutputSize,
			"duration_ms", rec.DurationMs,
		)
		o.publish(rec.ID, StatusPayload{Status: domain.JobStatusCompleted, Stage: "done", Progress: 100})
	}

	// history must be written even when the caller went away
	o.save(context.WithoutCancel(ctx), *rec)
}

func (o *Orchestrator) save(ctx context.Context, rec domain.JobRecord) {
	if o.repo == nil {
		return
	}
	if err := o.repo.SaveJob(ctx, rec); err != nil {
		o.logger.Error("failed to save job", "job_id", rec.ID, "error", err)
	}
}

func (o *Orchestrator) publish(id domain.JobID, p StatusPayload) {
	if o.bus == nil {
		return
	}
	o.bus.PublishStatus(id, p)
}

var errTooLarge = errors.New("artifact exceeds size limit")

func readBounded(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %d bytes", errTooLarge, info.Size())
	}

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: grew past %d bytes while reading", errTooLarge, limit)
	}
	return data, nil
}

// OutputFileName is the name the caller receives: the original stem plus the target extension.
func OutputFileName(original string, format domain.Format) string {
	stem := strings.TrimSpace(fileStem(baseName(original)))
	if stem == "" || stem == "." || stem == ".." {
		stem = "document"
	}
	return stem + format.Extension()
}

// SanitizeFileName produces the on-disk input name. It keeps the original
// extension so the converter can pick an import filter.
func SanitizeFileName(name string) string {
	base := baseName(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	stem = strings.TrimLeft(cleanName(stem), "._-")
	if stem == "" {
		stem = "document"
	}
	stem = truncateUTF8(stem, maxStemBytes)

	ext = cleanName(strings.TrimPrefix(ext, "."))
	ext = truncateUTF8(ext, maxExtBytes)
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func baseName(name string) string {
	return filepath.Base(strings.ReplaceAll(name, "\\", "/"))
}

func cleanName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
