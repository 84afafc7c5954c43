package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ytget/yt-queue/internal/api"
	"github.com/ytget/yt-queue/internal/config"
	"github.com/ytget/yt-queue/internal/download"
	"github.com/ytget/yt-queue/internal/engine"
	"github.com/ytget/yt-queue/internal/platform"
	"github.com/ytget/yt-queue/internal/store"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("yt-queue v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("yt-queue starting",
		slog.String("version", version),
		slog.String("store", cfg.Store.Driver),
		slog.String("download_dir", cfg.Queue.DownloadDir))

	if err := run(cfg, logger); err != nil {
		logger.Error("yt-queue stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("yt-queue stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := platform.CreateDirectoryIfNotExists(cfg.Queue.DownloadDir); err != nil {
		return fmt.Errorf("failed to ensure downloads dir: %w", err)
	}
	if cfg.Store.Driver != store.DriverPostgres {
		if err := platform.CreateDirectoryIfNotExists(cfg.Store.Path); err != nil {
			return fmt.Errorf("failed to ensure store dir: %w", err)
		}
	}

	st, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.Store.DSN,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	manager := download.NewManager(
		st,
		engine.NewYTDLP(logger, cfg.Engine.ExtractTimeout),
		platform.NewPlaylistParser(cfg.Engine.PlaylistTimeout),
		managerConfig(cfg),
		logger,
	)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	defer manager.Stop()

	handler := api.NewHandler(manager, logger, version)
	server := api.NewServer(api.ServerConfig{
		Address:         cfg.HTTP.Address,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, handler.Routes(), logger)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func managerConfig(cfg *config.Config) download.Config {
	return download.Config{
		DownloadDir:   cfg.Queue.DownloadDir,
		Quality:       engine.QualityPreset(cfg.Queue.Quality),
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		PollInterval:  cfg.Queue.PollInterval,
		CacheSize:     cfg.History.CacheSize,
		CacheTTL:      cfg.History.CacheTTL,
		Orchestrator: download.OrchestratorConfig{
			FilenameTemplate: cfg.Queue.FilenameTemplate,
			PrefetchInfo:     cfg.Engine.PrefetchInfo,
			Retries:          cfg.Engine.Retries,
			RetryBackoff:     cfg.Engine.RetryBackoff,
			ProgressMinDelta: cfg.Queue.ProgressMinDelta,
			ProgressInterval: cfg.Queue.ProgressInterval,
			CleanupPartials:  cfg.Queue.CleanupPartials,
			RecordFailures:   cfg.History.RecordFailures,
		},
	}
}
