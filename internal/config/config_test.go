package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, RunnerLocal, cfg.Converter.Runner)
	assert.Equal(t, 300, cfg.Conversion.TimeoutSeconds)
	assert.Equal(t, int64(4), cfg.Jobs.MaxConcurrent)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convertd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
converter:
  runner: docker
  image: registry.local/libreoffice:7
  filters:
    pdf: "pdf:writer_pdf_Export"
janitor:
  interval: 30s
  ttl: 2h
conversion:
  timeout_seconds: 60
`), 0o600))

	t.Setenv("CONVERT_MAX_CONCURRENT", "8")
	t.Setenv("CONVERT_WORKSPACE_DIR", "/srv/convert")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, RunnerDocker, cfg.Converter.Runner)
	assert.Equal(t, "pdf:writer_pdf_Export", cfg.Converter.Filters["pdf"])
	assert.Equal(t, 30*time.Second, cfg.Janitor.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Janitor.TTL)
	assert.Equal(t, 60, cfg.Conversion.TimeoutSeconds)
	assert.Equal(t, int64(8), cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "/srv/convert", cfg.Storage.WorkspaceDir)
}

func TestLoad_PortFallback(t *testing.T) {
	t.Setenv("CONVERT_ADDR", "")
	t.Setenv("PORT", "8123")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8123", cfg.Server.Addr)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown runner", func(c *Config) { c.Converter.Runner = "podman" }},
		{"filter for unknown format", func(c *Config) { c.Converter.Filters = map[string]string{"xlsx": "xlsx"} }},
		{"filter changes extension", func(c *Config) { c.Converter.Filters = map[string]string{"txt": "text:Text"} }},
		{"zero concurrency", func(c *Config) { c.Jobs.MaxConcurrent = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"resolver wait too long", func(c *Config) { c.Conversion.ResolveRetries = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

type memSettingsRepo struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memSettingsRepo) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *memSettingsRepo) SaveSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func newStore(t *testing.T, repo *memSettingsRepo) *SettingsStore {
	t.Helper()
	t.Setenv(secretKeyEnv, "store-test-key")
	sk, err := NewSecretKey("")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewSettingsStore(context.Background(), logger, repo, sk, domain.DefaultSettings())
	require.NoError(t, err)
	return store
}

func TestSettingsStore_UpdateEncryptsAndNotifies(t *testing.T) {
	repo := &memSettingsRepo{data: map[string]string{}}
	store := newStore(t, repo)

	var notified *domain.ConversionSettings
	store.OnChange(func(s *domain.ConversionSettings) { notified = s })

	update := store.Settings()
	update.TimeoutSeconds = 120
	update.Registry = domain.RegistryAuth{ServerAddress: "registry.local", Username: "ci", Password: "s3cret-pass"}
	require.NoError(t, store.Update(context.Background(), update))

	require.NotNil(t, notified)
	assert.Equal(t, 120, notified.TimeoutSeconds)
	assert.Equal(t, "s3cret-pass", notified.Registry.Password)

	assert.NotContains(t, repo.data[settingsKey], "s3cret-pass")
	assert.Equal(t, "****pass", store.MaskedSettings().Registry.Password)

	// a masked password from the UI keeps the stored secret
	again := store.MaskedSettings()
	again.TimeoutSeconds = 90
	require.NoError(t, store.Update(context.Background(), again))
	assert.Equal(t, "s3cret-pass", store.Settings().Registry.Password)

	// reload from the repository
	reloaded := newStore(t, repo)
	assert.Equal(t, 90, reloaded.Settings().TimeoutSeconds)
	assert.Equal(t, "s3cret-pass", reloaded.Settings().Registry.Password)
}

func TestSettingsStore_RejectsInvalid(t *testing.T) {
	repo := &memSettingsRepo{data: map[string]string{}}
	store := newStore(t, repo)

	called := false
	store.OnChange(func(*domain.ConversionSettings) { called = true })

	bad := store.Settings()
	bad.TimeoutSeconds = -1
	assert.Error(t, store.Update(context.Background(), bad))
	assert.False(t, called)
	assert.Equal(t, 300, store.Settings().TimeoutSeconds)
}
