package config

import "time"

// Config is the service configuration.
type Config struct {
	Radio    RadioConfig    `yaml:"radio"`
	Stream   StreamConfig   `yaml:"stream"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Cycle    CycleConfig    `yaml:"cycle"`
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Output   OutputConfig   `yaml:"output"`
}

// RadioConfig holds the transmitter defaults applied before every start.
type RadioConfig struct {
	FrequencyHz         uint64 `yaml:"frequency_hz"`
	SampleRateHz        uint32 `yaml:"sample_rate_hz"`
	BandwidthHz         uint32 `yaml:"bandwidth_hz"`
	BasebandBandwidthHz uint32 `yaml:"baseband_bandwidth_hz"`
}

// StreamConfig sizes the file producer.
type StreamConfig struct {
	ReadSize      int  `yaml:"read_size"`
	BufferCount   int  `yaml:"buffer_count"`
	ProgressEvery int  `yaml:"progress_every"`
	AwaitReady    bool `yaml:"await_ready"`
}

// DispatchConfig sizes the event dispatcher.
type DispatchConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// ServerConfig holds HTTP and telemetry timing.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	EventBufferSize   int           `yaml:"event_buffer_size"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	WaveformDir string `yaml:"waveform_dir"`
	LastConfig  string `yaml:"last_config"`
	AuditDir    string `yaml:"audit_dir"`
}

// LoggingConfig configures the zap logger and its rotating file sink.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuthConfig enables bearer-token auth on the API when Secret is set.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// OutputConfig selects the sample sink. An empty FIFOPath runs against the
// in-memory transmitter.
type OutputConfig struct {
	FIFOPath string `yaml:"fifo_path"`
}

// LoadBaseline returns the built-in defaults.
func LoadBaseline() *Config {
	return &Config{
		Radio: RadioConfig{
			FrequencyHz:         1575420000,
			SampleRateHz:        2600000,
			BandwidthHz:         15000000,
			BasebandBandwidthHz: 1750000,
		},
		Stream: StreamConfig{
			ReadSize:      16384,
			BufferCount:   3,
			ProgressEvery: 16,
			AwaitReady:    false,
		},
		Dispatch: DispatchConfig{
			QueueSize: 256,
		},
		Cycle: DefaultCycleConfig(),
		Server: ServerConfig{
			Addr:              ":8000",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			CommandTimeout:    5 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			EventBufferSize:   50,
		},
		Paths: PathsConfig{
			WaveformDir: "SigGen",
			LastConfig:  "SigGen/config.txt",
			AuditDir:    "logs",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
