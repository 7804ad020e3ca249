package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// HTTP server configuration
	Server ServerConfig `toml:"server"`

	// Recorder configuration
	Recorder RecorderConfig `toml:"recorder"`

	// Fault-event feed configuration
	Feed FeedConfig `toml:"feed"`

	// Footprint store configuration
	Store StoreConfig `toml:"store"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Listen address (default: ":9190")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Enable pprof endpoints under /debug/pprof (default: true)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// RecorderConfig contains settings for the SMRA recording core.
type RecorderConfig struct {
	// Records reserved per target buffer (default: 4096). Faults beyond
	// this are dropped silently, the capacity is a budget not a bound.
	BufferSize int `toml:"buffer_size"`

	// Upper bound on records held across all targets, 0 for unlimited
	// (default: 1048576). Setup calls that would exceed it fail.
	MaxTotalRecords int `toml:"max_total_records"`

	// Pids to register and start recording at boot (optional). When empty
	// the recorder stays idle until configured over the control API.
	TargetPIDs []int32 `toml:"target_pids"`
}

// FeedConfig selects where fault events come from.
type FeedConfig struct {
	// Feed type: "none", "replay" (default: "none").
	Type string `toml:"type"`

	// Path to a newline-delimited JSON event file for the replay feed.
	// "-" reads from stdin.
	Path string `toml:"path"`
}

// StoreConfig contains settings for persisting post-processed footprints.
type StoreConfig struct {
	// Enable the SQLite footprint store (default: false).
	Enabled bool `toml:"enabled"`

	// SQLite database path (default: "smra_footprints.db").
	Path string `toml:"path"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Log level: trace, debug, info, warn, error, fatal (default: "info").
	Level string `toml:"level"`

	// Output format: "glog" or "json" (default: "glog").
	Format string `toml:"format"`

	// Writer: "stdout" or "stderr" (default: "stderr").
	Writer string `toml:"writer"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: ":9190",
			MetricsPath:   "/metrics",
			PprofEnabled:  true,
		},
		Recorder: RecorderConfig{
			BufferSize:      4096,
			MaxTotalRecords: 1 << 20,
		},
		Feed: FeedConfig{
			Type: "none",
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "smra_footprints.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "glog",
			Writer: "stderr",
		},
	}
}

// LoadConfig reads the TOML file at path on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %q has unknown keys: %v", path, undecoded)
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *AppConfig) Validate() error {
	if c.Server.ListenAddress == "" {
		return errors.New("server.listen_address must not be empty")
	}
	if c.Server.MetricsPath == "" {
		return errors.New("server.metrics_path must not be empty")
	}
	if c.Recorder.BufferSize <= 0 {
		return fmt.Errorf("recorder.buffer_size must be positive, got %d", c.Recorder.BufferSize)
	}
	if c.Recorder.MaxTotalRecords < 0 {
		return fmt.Errorf("recorder.max_total_records must not be negative, got %d", c.Recorder.MaxTotalRecords)
	}
	if n := c.Recorder.MaxTotalRecords; n > 0 && len(c.Recorder.TargetPIDs)*c.Recorder.BufferSize > n {
		return fmt.Errorf("recorder.target_pids needs %d records, over max_total_records %d",
			len(c.Recorder.TargetPIDs)*c.Recorder.BufferSize, n)
	}

	switch c.Feed.Type {
	case "none":
	case "replay":
		if c.Feed.Path == "" {
			return errors.New("feed.path is required for the replay feed")
		}
	default:
		return fmt.Errorf("feed.type must be \"none\" or \"replay\", got %q", c.Feed.Type)
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return errors.New("store.path must not be empty when the store is enabled")
	}

	switch c.Logging.Format {
	case "glog", "json":
	default:
		return fmt.Errorf("logging.format must be \"glog\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Writer {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("logging.writer must be \"stdout\" or \"stderr\", got %q", c.Logging.Writer)
	}

	return nil
}
