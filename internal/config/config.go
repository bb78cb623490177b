// Package config loads and validates the archiver configuration using viper.
// The config file is JSON by site convention; viper also accepts YAML or TOML
// if a site prefers them. The parsed Config value is passed into constructors
// directly, there is no process-wide config state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lscat.org/bparchive/internal/log"
)

// Config is the top-level configuration.
type Config struct {
	Archiver ArchiverConfig `mapstructure:"archiver"`
	Log      log.Config     `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ArchiverConfig groups the stream source and output settings.
type ArchiverConfig struct {
	Source SourceConfig `mapstructure:"source"`
	Output OutputConfig `mapstructure:"output"`
}

// SourceConfig configures the connection to the DCU's stream interface.
type SourceConfig struct {
	// ZMQPushSocket is the protocol and address of the DCU's push socket,
	// e.g. tcp://grape.ls-cat.org:9999.
	ZMQPushSocket string `mapstructure:"zmq_push_socket"`

	// ReadBufferMB sizes the receive buffer in MiB. A message part larger
	// than this is a fatal error.
	ReadBufferMB int `mapstructure:"read_buffer_mb"`

	// PollInterval is the idle poll timeout in seconds. It only controls
	// how often an "idle" line is logged and how quickly a shutdown
	// request is observed between series.
	PollInterval int `mapstructure:"poll_interval"`

	// Workers is the transport I/O worker count. Parsed for config-file
	// compatibility; the pure-Go transport schedules its own goroutines.
	Workers int `mapstructure:"workers"`

	// UsingHeaderAppendix tells the parser the DCU appends an opaque JSON
	// part to every global header.
	UsingHeaderAppendix bool `mapstructure:"using_header_appendix"`

	// UsingImageAppendix tells the parser the DCU appends an opaque JSON
	// part to every frame.
	UsingImageAppendix bool `mapstructure:"using_image_appendix"`

	// Strict enables the htype and timing-field checks that are redundant
	// with a well-behaved DCU.
	Strict bool `mapstructure:"strict"`
}

// OutputConfig controls where minicbf files land.
type OutputConfig struct {
	// Directory receives the output files. Defaults to the process
	// working directory.
	Directory string `mapstructure:"directory"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// PollIntervalDuration returns the idle poll timeout as a duration.
func (s SourceConfig) PollIntervalDuration() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

// ReadBufferBytes returns the receive buffer size in bytes.
func (s SourceConfig) ReadBufferBytes() int {
	return s.ReadBufferMB * 1024 * 1024
}

// Load reads the config file at path, applies defaults and environment
// overrides (BPARCHIVE_ prefix), and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("bparchive")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("archiver.source.zmq_push_socket", "tcp://localhost:9999")
	v.SetDefault("archiver.source.read_buffer_mb", 128)
	v.SetDefault("archiver.source.poll_interval", 3600)
	v.SetDefault("archiver.source.workers", 1)
	v.SetDefault("archiver.source.using_header_appendix", false)
	v.SetDefault("archiver.source.using_image_appendix", false)
	v.SetDefault("archiver.source.strict", false)
	v.SetDefault("archiver.output.directory", ".")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9091")
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects settings the archiver cannot run with.
func (c *Config) Validate() error {
	s := c.Archiver.Source
	if s.ZMQPushSocket == "" {
		return fmt.Errorf("archiver.source.zmq_push_socket must not be empty")
	}
	if s.ReadBufferMB <= 0 {
		return fmt.Errorf("archiver.source.read_buffer_mb must be positive, got %d", s.ReadBufferMB)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("archiver.source.poll_interval must be positive, got %d", s.PollInterval)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("archiver.source.workers must be positive, got %d", s.Workers)
	}
	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level %q (must be debug/info/warn/error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (must be text/json)", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen must not be empty when metrics are enabled")
	}
	return nil
}
