// Package app wires configuration, storage, the converter runner and the
// conversion services together. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/GedeBrawidya/convert-project/internal/adapters/docker"
	"github.com/GedeBrawidya/convert-project/internal/adapters/duckdb"
	"github.com/GedeBrawidya/convert-project/internal/adapters/soffice"
	"github.com/GedeBrawidya/convert-project/internal/config"
	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/ports"
	"github.com/GedeBrawidya/convert-project/internal/core/services"
)

type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Repo         *duckdb.Repository
	Settings     *config.SettingsStore
	Workspaces   *services.WorkspaceManager
	Runner       ports.ConverterRunner
	Scheduler    *services.JobScheduler
	EventBus     *services.EventBus
	Orchestrator *services.Orchestrator
	Janitor      *services.Janitor
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New opens the database, loads runtime settings and builds the services.
// Close must be called to release the database.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	repo, err := duckdb.NewRepository(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}

	a, err := build(ctx, cfg, logger, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, repo *duckdb.Repository) (*App, error) {
	secretKey, err := config.NewSecretKey("")
	if err != nil {
		return nil, fmt.Errorf("failed to init secret key: %w", err)
	}

	// Settings store: runtime limits persisted in DuckDB, seeded from the static config
	settingsStore, err := config.NewSettingsStore(ctx, logger, repo, secretKey, cfg.Conversion.Settings())
	if err != nil {
		return nil, fmt.Errorf("failed to init settings store: %w", err)
	}

	runner, err := NewRunner(logger, cfg.Converter)
	if err != nil {
		return nil, err
	}

	eventBus := services.NewEventBus(logger)
	workspaces := services.NewWorkspaceManager(cfg.Storage.WorkspaceDir)
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrent,
	})

	settings := settingsStore.Settings()
	orch := services.NewOrchestrator(logger, workspaces, runner, scheduler, repo, eventBus, settings)

	var reaper ports.OrphanReaper
	if r, ok := runner.(ports.OrphanReaper); ok {
		reaper = r
	}
	janitor := services.NewJanitor(logger, workspaces, reaper, repo, services.JanitorConfig{
		Interval: cfg.Janitor.Interval,
		TTL:      cfg.Janitor.TTL,
	})

	// Hot-reload: new limits apply to the next job; registry credentials to the next pull
	dockerRunner, _ := runner.(*docker.Runner)
	if dockerRunner != nil {
		dockerRunner.SetRegistryAuth(settings.Registry)
	}
	settingsStore.OnChange(func(s *domain.ConversionSettings) {
		orch.UpdateSettings(s)
		if dockerRunner != nil {
			dockerRunner.SetRegistryAuth(s.Registry)
		}
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Repo:         repo,
		Settings:     settingsStore,
		Workspaces:   workspaces,
		Runner:       runner,
		Scheduler:    scheduler,
		EventBus:     eventBus,
		Orchestrator: orch,
		Janitor:      janitor,
	}, nil
}

// NewRunner builds the converter runner selected by cfg.Runner.
func NewRunner(logger *slog.Logger, cfg config.ConverterConfig) (ports.ConverterRunner, error) {
	filters, err := Filters(cfg.Filters)
	if err != nil {
		return nil, err
	}

	switch cfg.Runner {
	case config.RunnerDocker:
		r, err := docker.NewRunner(logger, docker.Config{
			Image:         cfg.Image,
			Binary:        cfg.Binary,
			Filters:       filters,
			MaxDiagnostic: cfg.MaxDiagnosticBytes,
			MemoryBytes:   cfg.MemoryMB << 20,
			NanoCPUs:      int64(cfg.CPUs * 1e9),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init docker runner: %w", err)
		}
		return r, nil
	case config.RunnerLocal, "":
		r := soffice.NewRunner(logger, soffice.Config{
			Binary:        cfg.Binary,
			Filters:       filters,
			MaxDiagnostic: cfg.MaxDiagnosticBytes,
		})
		// A missing converter is reported per job as tool_unavailable, so startup continues.
		if bin, err := r.Locate(); err != nil {
			logger.Warn("converter not found, conversions will fail until it is installed", "error", err)
		} else {
			logger.Info("converter located", "binary", bin)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown runner %q", cfg.Runner)
	}
}

// Filters overlays configured --convert-to values on the defaults.
func Filters(configured map[string]string) (soffice.Filters, error) {
	filters := soffice.DefaultFilters()
	for name, filter := range configured {
		f, err := domain.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("converter filters: %w", err)
		}
		filters[f] = filter
	}
	return filters, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Repo != nil {
		errs = append(errs, a.Repo.Close())
	}
	return errors.Join(errs...)
}
