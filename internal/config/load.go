package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Load merges LoadBaseline() + optional YAML file at path + SIGGEN_* env
// overrides, then validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := LoadBaseline()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes YAML over cfg so absent keys keep their defaults.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyEnvOverrides applies SIGGEN_* environment variables. Unparseable
// values are ignored.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SIGGEN_FREQUENCY_HZ"); val != "" {
		if hz, err := strconv.ParseUint(val, 10, 64); err == nil {
			cfg.Radio.FrequencyHz = hz
		}
	}

	if val := os.Getenv("SIGGEN_SAMPLE_RATE_HZ"); val != "" {
		if hz, err := strconv.ParseUint(val, 10, 32); err == nil {
			cfg.Radio.SampleRateHz = uint32(hz)
		}
	}

	if val := os.Getenv("SIGGEN_READ_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Stream.ReadSize = n
		}
	}

	if val := os.Getenv("SIGGEN_BUFFER_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Stream.BufferCount = n
		}
	}

	if val := os.Getenv("SIGGEN_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Dispatch.QueueSize = n
		}
	}

	cfg.Server.Addr = GetEnvVar("SIGGEN_ADDR", cfg.Server.Addr)
	cfg.Server.CommandTimeout = GetEnvDuration("SIGGEN_COMMAND_TIMEOUT", cfg.Server.CommandTimeout)
	cfg.Server.HeartbeatInterval = GetEnvDuration("SIGGEN_HEARTBEAT_INTERVAL", cfg.Server.HeartbeatInterval)

	cfg.Paths.WaveformDir = GetEnvVar("SIGGEN_WAVEFORM_DIR", cfg.Paths.WaveformDir)
	cfg.Paths.LastConfig = GetEnvVar("SIGGEN_LAST_CONFIG", cfg.Paths.LastConfig)
	cfg.Paths.AuditDir = GetEnvVar("SIGGEN_AUDIT_DIR", cfg.Paths.AuditDir)

	cfg.Logging.Level = GetEnvVar("SIGGEN_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = GetEnvVar("SIGGEN_LOG_FILE", cfg.Logging.File)

	cfg.Auth.Secret = GetEnvVar("SIGGEN_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Output.FIFOPath = GetEnvVar("SIGGEN_FIFO_PATH", cfg.Output.FIFOPath)
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
