// Package config loads the daemon configuration from an optional YAML file
// and environment variables using github.com/ilyakaznacheev/cleanenv.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ytget/yt-queue/internal/engine"
	"github.com/ytget/yt-queue/internal/platform"
	"github.com/ytget/yt-queue/internal/store"
)

// ConfigPathEnv names the variable holding the config file path
const ConfigPathEnv = "YTQ_CONFIG"

// Environments
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Concurrency bounds
const (
	MinConcurrent = 1
	MaxConcurrent = 5
)

// Config is the full daemon configuration
type Config struct {
	Env     string  `yaml:"env" env:"YTQ_ENV" env-default:"local"`
	Log     Log     `yaml:"log"`
	Queue   Queue   `yaml:"queue"`
	History History `yaml:"history"`
	Store   Store   `yaml:"store"`
	Engine  Engine  `yaml:"engine"`
	HTTP    HTTP    `yaml:"http"`
}

type Log struct {
	Level  string `yaml:"level" env:"YTQ_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"YTQ_LOG_FORMAT"`
}

type Queue struct {
	MaxConcurrent    int           `yaml:"max_concurrent" env:"YTQ_QUEUE_MAX_CONCURRENT" env-default:"3"`
	DownloadDir      string        `yaml:"download_dir" env:"YTQ_QUEUE_DOWNLOAD_DIR"`
	Quality          string        `yaml:"quality" env:"YTQ_QUEUE_QUALITY" env-default:"best"`
	FilenameTemplate string        `yaml:"filename_template" env:"YTQ_QUEUE_FILENAME_TEMPLATE" env-default:"%(title)s.%(ext)s"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"YTQ_QUEUE_POLL_INTERVAL" env-default:"5s"`
	ProgressMinDelta float64       `yaml:"progress_min_delta" env:"YTQ_QUEUE_PROGRESS_MIN_DELTA" env-default:"0.01"`
	ProgressInterval time.Duration `yaml:"progress_interval" env:"YTQ_QUEUE_PROGRESS_INTERVAL" env-default:"1s"`
	CleanupPartials  bool          `yaml:"cleanup_partials" env:"YTQ_QUEUE_CLEANUP_PARTIALS"`
}

type History struct {
	RecordFailures bool          `yaml:"record_failures" env:"YTQ_HISTORY_RECORD_FAILURES"`
	CacheSize      int           `yaml:"cache_size" env:"YTQ_HISTORY_CACHE_SIZE" env-default:"256"`
	CacheTTL       time.Duration `yaml:"cache_ttl" env:"YTQ_HISTORY_CACHE_TTL" env-default:"10m"`
}

type Store struct {
	Driver string `yaml:"driver" env:"YTQ_STORE_DRIVER" env-default:"sqlite"`
	Path   string `yaml:"path" env:"YTQ_STORE_PATH" env-default:"./data"`
	DSN    string `yaml:"dsn" env:"YTQ_STORE_DSN"`
}

type Engine struct {
	PrefetchInfo    bool          `yaml:"prefetch_info" env:"YTQ_ENGINE_PREFETCH_INFO"`
	Retries         int           `yaml:"retries" env:"YTQ_ENGINE_RETRIES" env-default:"1"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"YTQ_ENGINE_RETRY_BACKOFF" env-default:"2s"`
	ExtractTimeout  time.Duration `yaml:"extract_timeout" env:"YTQ_ENGINE_EXTRACT_TIMEOUT" env-default:"60s"`
	PlaylistTimeout time.Duration `yaml:"playlist_timeout" env:"YTQ_ENGINE_PLAYLIST_TIMEOUT" env-default:"60s"`
}

type HTTP struct {
	Address         string        `yaml:"address" env:"YTQ_HTTP_ADDRESS" env-default:":8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"YTQ_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"YTQ_HTTP_WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"YTQ_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Load reads the config file at path, or the one named by YTQ_CONFIG, and
// applies environment overrides. Without a file only the environment is
// read.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}

	// Booleans defaulting to true are preset; cleanenv cannot tell an
	// explicit false from an unset value.
	cfg := &Config{}
	cfg.Queue.CleanupPartials = true
	cfg.History.RecordFailures = true
	cfg.Engine.PrefetchInfo = true

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("cannot find config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = LogFormatJSON
		if cfg.Env == EnvLocal {
			cfg.Log.Format = LogFormatText
		}
	}

	if cfg.Queue.DownloadDir == "" {
		dir, err := platform.GetHomeDownloadsDir()
		if err != nil {
			dir = filepath.Join(".", "downloads")
		}
		cfg.Queue.DownloadDir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements
func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("env: unknown environment %q", c.Env))
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != LogFormatText && c.Log.Format != LogFormatJSON {
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	if c.Queue.MaxConcurrent < MinConcurrent || c.Queue.MaxConcurrent > MaxConcurrent {
		errs = append(errs, fmt.Errorf("queue.max_concurrent: must be between %d and %d, got %d",
			MinConcurrent, MaxConcurrent, c.Queue.MaxConcurrent))
	}
	if !engine.QualityPreset(c.Queue.Quality).IsValid() {
		errs = append(errs, fmt.Errorf("queue.quality: unknown preset %q", c.Queue.Quality))
	}
	if c.Queue.ProgressMinDelta <= 0 || c.Queue.ProgressMinDelta > 1 {
		errs = append(errs, fmt.Errorf("queue.progress_min_delta: must be in (0, 1], got %v", c.Queue.ProgressMinDelta))
	}
	if c.Queue.PollInterval <= 0 || c.Queue.ProgressInterval <= 0 {
		errs = append(errs, errors.New("queue: intervals must be positive"))
	}

	if c.History.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("history.cache_size: must be positive, got %d", c.History.CacheSize))
	}

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverBolt:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path: required for file based drivers"))
		}
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}

	if c.Engine.Retries < 0 {
		errs = append(errs, fmt.Errorf("engine.retries: must not be negative, got %d", c.Engine.Retries))
	}

	if c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address: required"))
	}

	return errors.Join(errs...)
}

// SetupLogger configures the global slog logger
func SetupLogger(cfg *Config) *slog.Logger {
	level, err := ParseLogLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("env", cfg.Env))
	slog.SetDefault(logger)
	return logger
}

// ParseLogLevel converts a level name into slog.Level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q, expected debug, info, warn or error", level)
	}
}
