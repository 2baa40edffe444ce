package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Validate enforces the service configuration rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateRadio(&cfg.Radio); err != nil {
		return fmt.Errorf("radio validation failed: %w", err)
	}

	if err := validateStream(&cfg.Stream); err != nil {
		return fmt.Errorf("stream validation failed: %w", err)
	}

	if cfg.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch queue size must be positive, got %d", cfg.Dispatch.QueueSize)
	}

	if err := cfg.Cycle.Validate(); err != nil {
		return fmt.Errorf("default cycle validation failed: %w", err)
	}

	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if cfg.Paths.LastConfig == "" {
		return fmt.Errorf("last config path must be set")
	}

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}

	return nil
}

func validateRadio(r *RadioConfig) error {
	if r.FrequencyHz == 0 {
		return fmt.Errorf("frequency must be positive")
	}
	if r.SampleRateHz == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if r.BasebandBandwidthHz == 0 {
		return fmt.Errorf("baseband bandwidth must be positive")
	}
	return nil
}

func validateStream(s *StreamConfig) error {
	if s.ReadSize <= 0 {
		return fmt.Errorf("read size must be positive, got %d", s.ReadSize)
	}
	if s.BufferCount < 1 {
		return fmt.Errorf("buffer count must be at least 1, got %d", s.BufferCount)
	}
	if s.ProgressEvery < 0 {
		return fmt.Errorf("progress interval must be non-negative, got %d", s.ProgressEvery)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %v", s.CommandTimeout)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", s.HeartbeatInterval)
	}
	if s.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", s.EventBufferSize)
	}
	return nil
}
