package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	t.Setenv("YTQ_QUEUE_DOWNLOAD_DIR", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"env", cfg.Env, EnvLocal},
		{"log format", cfg.Log.Format, LogFormatText},
		{"max concurrent", cfg.Queue.MaxConcurrent, 3},
		{"quality", cfg.Queue.Quality, "best"},
		{"filename template", cfg.Queue.FilenameTemplate, "%(title)s.%(ext)s"},
		{"poll interval", cfg.Queue.PollInterval, 5 * time.Second},
		{"progress min delta", cfg.Queue.ProgressMinDelta, 0.01},
		{"progress interval", cfg.Queue.ProgressInterval, time.Second},
		{"cleanup partials", cfg.Queue.CleanupPartials, true},
		{"record failures", cfg.History.RecordFailures, true},
		{"cache size", cfg.History.CacheSize, 256},
		{"cache ttl", cfg.History.CacheTTL, 10 * time.Minute},
		{"store driver", cfg.Store.Driver, "sqlite"},
		{"prefetch info", cfg.Engine.PrefetchInfo, true},
		{"retries", cfg.Engine.Retries, 1},
		{"retry backoff", cfg.Engine.RetryBackoff, 2 * time.Second},
		{"http address", cfg.HTTP.Address, ":8090"},
		{"shutdown timeout", cfg.HTTP.ShutdownTimeout, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, expected %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `env: prod
log:
  level: debug
queue:
  max_concurrent: 5
  download_dir: ` + dir + `
  quality: audio
  cleanup_partials: false
history:
  record_failures: false
store:
  driver: bolt
  path: ` + dir + `
engine:
  retries: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	t.Setenv("YTQ_QUEUE_MAX_CONCURRENT", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != EnvProd || cfg.Log.Format != LogFormatJSON {
		t.Errorf("Env = %q, Format = %q; expected prod with json logs", cfg.Env, cfg.Log.Format)
	}
	if cfg.Queue.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, expected env override 2", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.Quality != "audio" || cfg.Store.Driver != "bolt" || cfg.Engine.Retries != 3 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Queue.CleanupPartials || cfg.History.RecordFailures {
		t.Error("explicit false booleans were replaced by defaults")
	}
	if !cfg.Engine.PrefetchInfo {
		t.Error("PrefetchInfo = false, expected default true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env: EnvLocal,
			Log: Log{Level: "info", Format: LogFormatText},
			Queue: Queue{
				MaxConcurrent:    3,
				Quality:          "best",
				PollInterval:     time.Second,
				ProgressMinDelta: 0.01,
				ProgressInterval: time.Second,
			},
			History: History{CacheSize: 10},
			Store:   Store{Driver: "sqlite", Path: "./data"},
			HTTP:    HTTP{Address: ":8090"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"should accept defaults", func(*Config) {}, ""},
		{"should reject zero concurrency", func(c *Config) { c.Queue.MaxConcurrent = 0 }, "queue.max_concurrent"},
		{"should reject six concurrent", func(c *Config) { c.Queue.MaxConcurrent = 6 }, "queue.max_concurrent"},
		{"should reject unknown quality", func(c *Config) { c.Queue.Quality = "4k" }, "queue.quality"},
		{"should reject unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"should require dsn for postgres", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"should reject bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"should reject negative retries", func(c *Config) { c.Engine.Retries = -1 }, "engine.retries"},
		{"should reject large delta", func(c *Config) { c.Queue.ProgressMinDelta = 2 }, "queue.progress_min_delta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, expected mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.expected {
			t.Errorf("ParseLogLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	cfg := &Config{Env: EnvProd, Log: Log{Level: "warn", Format: LogFormatJSON}}
	logger := SetupLogger(cfg)
	if logger == nil {
		t.Fatal("SetupLogger() returned nil")
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if slog.Default() != logger {
		t.Error("SetupLogger() did not set the default logger")
	}
}
