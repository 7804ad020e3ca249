package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestConfigData tests configuration data, defaults, edge cases, and validation
func TestConfigData(t *testing.T) {
	tests := []struct {
		name       string
		config     *AppConfig
		configTOML string
		setupFunc  func(*AppConfig)
		expectErr  bool
		validate   func(*testing.T, *AppConfig)
	}{
		{
			name:   "default config",
			config: DefaultConfig(),
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != ":9190" {
					t.Errorf("Expected ListenAddress ':9190', got %s", c.Server.ListenAddress)
				}
				if c.Recorder.BufferSize != 4096 {
					t.Errorf("Expected buffer size 4096, got %d", c.Recorder.BufferSize)
				}
				if c.Logging.Level != "info" {
					t.Errorf("Expected default log level 'info', got %s", c.Logging.Level)
				}
				if c.Feed.Type != "none" {
					t.Errorf("Expected feed type 'none', got %s", c.Feed.Type)
				}
			},
		},
		{
			name: "custom recorder config",
			configTOML: `
[recorder]
buffer_size = 128
max_total_records = 4096
target_pids = [712, 1044]
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Recorder.BufferSize != 128 {
					t.Errorf("Expected buffer size 128, got %d", c.Recorder.BufferSize)
				}
				if len(c.Recorder.TargetPIDs) != 2 || c.Recorder.TargetPIDs[0] != 712 {
					t.Errorf("Unexpected target pids: %v", c.Recorder.TargetPIDs)
				}
			},
		},
		{
			name:   "invalid empty listen address",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Server.ListenAddress = ""
			},
			expectErr: true,
		},
		{
			name:   "invalid zero buffer size",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Recorder.BufferSize = 0
			},
			expectErr: true,
		},
		{
			name:   "invalid target pids over budget",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Recorder.BufferSize = 1000
				c.Recorder.MaxTotalRecords = 1500
				c.Recorder.TargetPIDs = []int32{1, 2}
			},
			expectErr: true,
		},
		{
			name:   "replay feed requires a path",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Feed.Type = "replay"
				c.Feed.Path = ""
			},
			expectErr: true,
		},
		{
			name:   "unknown feed type",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Feed.Type = "kafka"
			},
			expectErr: true,
		},
		{
			name:   "enabled store requires a path",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Store.Enabled = true
				c.Store.Path = ""
			},
			expectErr: true,
		},
		{
			name:   "unknown logging format",
			config: DefaultConfig(),
			setupFunc: func(c *AppConfig) {
				c.Logging.Format = "logfmt"
			},
			expectErr: true,
		},
		{
			name: "valid custom server config",
			configTOML: `
[server]
listen_address = ":8080"
metrics_path = "/custom"
pprof_enabled = false

[feed]
type = "replay"
path = "faults.jsonl"
`,
			validate: func(t *testing.T, c *AppConfig) {
				if c.Server.ListenAddress != ":8080" {
					t.Errorf("Expected :8080, got %s", c.Server.ListenAddress)
				}
				if c.Server.MetricsPath != "/custom" {
					t.Errorf("Expected /custom, got %s", c.Server.MetricsPath)
				}
				if c.Server.PprofEnabled {
					t.Error("Expected pprof to be disabled")
				}
				if c.Feed.Path != "faults.jsonl" {
					t.Errorf("Expected feed path 'faults.jsonl', got %s", c.Feed.Path)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *AppConfig

			// Get config from direct config, TOML, or setup function
			if tt.config != nil {
				cfg = tt.config
				if tt.setupFunc != nil {
					tt.setupFunc(cfg)
				}
			} else {
				tmpDir := t.TempDir()
				path := filepath.Join(tmpDir, "test.toml")
				os.WriteFile(path, []byte(tt.configTOML), 0644)
				var err error
				cfg, err = LoadConfig(path)
				if err != nil {
					t.Fatalf("Failed to load config: %v", err)
				}
			}

			// Test validation
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error but got none")
			} else if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}

			if !tt.expectErr && tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

// TestLoadConfig tests loading behavior for missing, empty, and bad files
func TestLoadConfig(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if cfg.Server.ListenAddress != ":9190" {
			t.Errorf("Expected defaults, got listen address %s", cfg.Server.ListenAddress)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := LoadConfig("nonexistent.toml"); err == nil {
			t.Error("Expected an error for a missing config file")
		}
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.toml")
		os.WriteFile(path, []byte("[recorder]\nbufer_size = 10\n"), 0644)
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected an error for unknown config keys")
		}
	})

	t.Run("malformed TOML is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.toml")
		os.WriteFile(path, []byte("[recorder\n"), 0644)
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected an error for malformed TOML")
		}
	})
}
