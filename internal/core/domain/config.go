package domain

import (
	"fmt"
	"time"
)

// MaxResolveWait is the hard ceiling on time spent waiting for output to appear.
const MaxResolveWait = 5 * time.Second

// RegistryAuth holds credentials used to pull the converter image.
type RegistryAuth struct {
	ServerAddress string `json:"server_address"`
	Username      string `json:"username"`
	Password      string `json:"password"` // Encrypted in storage
}

// ConversionSettings are the runtime-tunable limits of the orchestrator.
type ConversionSettings struct {
	TimeoutSeconds    int          `json:"timeout_seconds"`
	MaxSourceBytes    int64        `json:"max_source_bytes"`
	MaxArtifactBytes  int64        `json:"max_artifact_bytes"`
	ResolveRetries    int          `json:"resolve_retries"`
	ResolveIntervalMs int          `json:"resolve_interval_ms"`
	NormalizeText     bool         `json:"normalize_text"`
	Registry          RegistryAuth `json:"registry"`
}

// DefaultSettings returns safe defaults
func DefaultSettings() *ConversionSettings {
	return &ConversionSettings{
		TimeoutSeconds:    300,
		MaxSourceBytes:    50 << 20,
		MaxArtifactBytes:  100 << 20,
		ResolveRetries:    5,
		ResolveIntervalMs: 100,
		NormalizeText:     true,
	}
}

func (s *ConversionSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s *ConversionSettings) ResolveInterval() time.Duration {
	return time.Duration(s.ResolveIntervalMs) * time.Millisecond
}

func (s *ConversionSettings) Validate() error {
	if s.TimeoutSeconds <= 0 || s.TimeoutSeconds > 3600 {
		return fmt.Errorf("timeout_seconds must be between 1 and 3600, got %d", s.TimeoutSeconds)
	}
	if s.MaxSourceBytes <= 0 {
		return fmt.Errorf("max_source_bytes must be positive")
	}
	if s.MaxArtifactBytes <= 0 {
		return fmt.Errorf("max_artifact_bytes must be positive")
	}
	if s.ResolveRetries < 0 || s.ResolveIntervalMs < 0 {
		return fmt.Errorf("resolve_retries and resolve_interval_ms must not be negative")
	}
	if wait := time.Duration(s.ResolveRetries) * s.ResolveInterval(); wait > MaxResolveWait {
		return fmt.Errorf("resolver wait %s exceeds ceiling %s", wait, MaxResolveWait)
	}
	return nil
}
