package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Config is the static service configuration, fixed for the life of the process.
// Limits that may change at runtime live in domain.ConversionSettings (see SettingsStore).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Converter  ConverterConfig  `yaml:"converter"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Janitor    JanitorConfig    `yaml:"janitor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Conversion ConversionConfig `yaml:"conversion"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	WorkspaceDir string `yaml:"workspace_dir"`
	DBPath       string `yaml:"db_path"`
}

type ConverterConfig struct {
	Runner             string            `yaml:"runner"` // local or docker
	Binary             string            `yaml:"binary"`
	Image              string            `yaml:"image"`
	Filters            map[string]string `yaml:"filters"` // format -> --convert-to value
	MaxDiagnosticBytes int               `yaml:"max_diagnostic_bytes"`
	MemoryMB           int64             `yaml:"memory_mb"`
	CPUs               float64           `yaml:"cpus"`
}

type JobsConfig struct {
	MaxConcurrent int64 `yaml:"max_concurrent"`
}

type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// ConversionConfig seeds the runtime settings on first start.
type ConversionConfig struct {
	TimeoutSeconds    int   `yaml:"timeout_seconds"`
	MaxSourceBytes    int64 `yaml:"max_source_bytes"`
	MaxArtifactBytes  int64 `yaml:"max_artifact_bytes"`
	ResolveRetries    int   `yaml:"resolve_retries"`
	ResolveIntervalMs int   `yaml:"resolve_interval_ms"`
	NormalizeText     bool  `yaml:"normalize_text"`
}

// Settings converts the static defaults into runtime settings.
func (c ConversionConfig) Settings() *domain.ConversionSettings {
	return &domain.ConversionSettings{
		TimeoutSeconds:    c.TimeoutSeconds,
		MaxSourceBytes:    c.MaxSourceBytes,
		MaxArtifactBytes:  c.MaxArtifactBytes,
		ResolveRetries:    c.ResolveRetries,
		ResolveIntervalMs: c.ResolveIntervalMs,
		NormalizeText:     c.NormalizeText,
	}
}

// Load reads an optional .env file, an optional YAML file and CONVERT_* environment overrides.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	defaults := domain.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			WorkspaceDir: filepath.Join(os.TempDir(), "convertd"),
			DBPath:       "convertd.db",
		},
		Converter: ConverterConfig{
			Runner:             RunnerLocal,
			Image:              "linuxserver/libreoffice:latest",
			MaxDiagnosticBytes: 64 << 10,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 4,
		},
		Janitor: JanitorConfig{
			Interval: 10 * time.Minute,
			TTL:      time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Conversion: ConversionConfig{
			TimeoutSeconds:    defaults.TimeoutSeconds,
			MaxSourceBytes:    defaults.MaxSourceBytes,
			MaxArtifactBytes:  defaults.MaxArtifactBytes,
			ResolveRetries:    defaults.ResolveRetries,
			ResolveIntervalMs: defaults.ResolveIntervalMs,
			NormalizeText:     defaults.NormalizeText,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Storage.WorkspaceDir == "" {
		return fmt.Errorf("storage.workspace_dir is required")
	}
	switch c.Converter.Runner {
	case RunnerLocal:
	case RunnerDocker:
		if c.Converter.Image == "" {
			return fmt.Errorf("converter.image is required for the docker runner")
		}
	default:
		return fmt.Errorf("converter.runner must be %q or %q, got %q", RunnerLocal, RunnerDocker, c.Converter.Runner)
	}
	for name, filter := range c.Converter.Filters {
		f, err := domain.ParseFormat(name)
		if err != nil {
			return fmt.Errorf("converter.filters: %w", err)
		}
		if head, _, _ := strings.Cut(filter, ":"); head != string(f) {
			return fmt.Errorf("converter.filters.%s must start with %q", name, f)
		}
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be positive")
	}
	if c.Janitor.Interval <= 0 || c.Janitor.TTL <= 0 {
		return fmt.Errorf("janitor.interval and janitor.ttl must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	if err := c.Conversion.Settings().Validate(); err != nil {
		return fmt.Errorf("conversion: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONVERT_ADDR"); v != "" {
		cfg.Server.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("CONVERT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("CONVERT_WORKSPACE_DIR"); v != "" {
		cfg.Storage.WorkspaceDir = v
	} else if v := os.Getenv("TMP_DIR"); v != "" {
		cfg.Storage.WorkspaceDir = v
	}
	if v := os.Getenv("CONVERT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}

	if v := os.Getenv("CONVERT_RUNNER"); v != "" {
		cfg.Converter.Runner = strings.ToLower(v)
	}
	if v := os.Getenv("CONVERT_SOFFICE_BINARY"); v != "" {
		cfg.Converter.Binary = v
	}
	if v := os.Getenv("CONVERT_DOCKER_IMAGE"); v != "" {
		cfg.Converter.Image = v
	}

	if v := os.Getenv("CONVERT_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Jobs.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CONVERT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversion.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("CONVERT_MAX_SOURCE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Conversion.MaxSourceBytes = n
		}
	}

	if v := os.Getenv("CONVERT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CONVERT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
