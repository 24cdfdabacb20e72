package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GedeBrawidya/convert-project/internal/core/domain"
	"github.com/GedeBrawidya/convert-project/internal/core/ports"
)

const settingsKey = "conversion_settings"

// OnChangeFunc is called after settings were persisted.
type OnChangeFunc func(s *domain.ConversionSettings)

// SettingsStore keeps the runtime conversion settings in the database.
// The registry password is encrypted at rest and masked on read.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     ports.SettingsRepository
	settings *domain.ConversionSettings
	onChange []OnChangeFunc
}

// NewSettingsStore loads saved settings, or persists defaults on first run.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo ports.SettingsRepository, secret *SecretKey, defaults *domain.ConversionSettings) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	s, err := store.load(ctx)
	if err != nil {
		logger.Warn("no saved settings found, using defaults", "error", err)
		if defaults == nil {
			defaults = domain.DefaultSettings()
		}
		s = defaults
		if err := store.save(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to save default settings: %w", err)
		}
	}

	store.settings = s
	return store, nil
}

// OnChange registers a callback for when settings are updated.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Settings returns a copy with secrets decrypted.
func (s *SettingsStore) Settings() *domain.ConversionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.settings
	return &cp
}

// MaskedSettings returns a copy safe for API responses.
func (s *SettingsStore) MaskedSettings() *domain.ConversionSettings {
	cp := s.Settings()
	cp.Registry.Password = MaskSecret(cp.Registry.Password)
	return cp
}

// Update validates and persists new settings, then notifies listeners.
// An empty or masked password keeps the stored one.
func (s *SettingsStore) Update(ctx context.Context, update *domain.ConversionSettings) error {
	s.mu.Lock()

	next := *update
	if next.Registry.Password == "" || isMasked(next.Registry.Password) {
		next.Registry.Password = s.settings.Registry.Password
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.save(ctx, &next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings = &next
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"timeout_seconds", next.TimeoutSeconds,
		"max_source_bytes", next.MaxSourceBytes,
		"registry", next.Registry.ServerAddress,
	)

	for _, fn := range callbacks {
		cp := next
		fn(&cp)
	}
	return nil
}

func (s *SettingsStore) load(ctx context.Context) (*domain.ConversionSettings, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}

	var stored storedSettings
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	out := stored.ConversionSettings
	if stored.EncryptedPassword != "" {
		pw, err := s.secret.Decrypt(stored.EncryptedPassword)
		if err != nil {
			s.logger.Warn("failed to decrypt registry password", "error", err)
		} else {
			out.Registry.Password = pw
		}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("stored settings invalid: %w", err)
	}
	return &out, nil
}

func (s *SettingsStore) save(ctx context.Context, settings *domain.ConversionSettings) error {
	stored := storedSettings{ConversionSettings: *settings}
	stored.Registry.Password = ""

	if settings.Registry.Password != "" {
		enc, err := s.secret.Encrypt(settings.Registry.Password)
		if err != nil {
			return fmt.Errorf("encrypt registry password: %w", err)
		}
		stored.EncryptedPassword = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

// storedSettings is the DB representation with the password encrypted
type storedSettings struct {
	domain.ConversionSettings
	EncryptedPassword string `json:"encrypted_registry_password,omitempty"`
}
