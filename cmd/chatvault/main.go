// Package main contains the entrypoint for the chat archive service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yueye109/chatvault/internal/api"
	"github.com/yueye109/chatvault/internal/app"
	"github.com/yueye109/chatvault/internal/assets"
	"github.com/yueye109/chatvault/internal/authz"
	"github.com/yueye109/chatvault/internal/config"
	"github.com/yueye109/chatvault/internal/database"
	"github.com/yueye109/chatvault/internal/ingest"
	"github.com/yueye109/chatvault/internal/logger"
	"github.com/yueye109/chatvault/internal/retention"
	"github.com/yueye109/chatvault/internal/scheduler"
	"github.com/yueye109/chatvault/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// asset store, archiver, retention engine, HTTP API, optional Telegram
// listener), handles graceful shutdown, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format == "json")
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path, cfg.Database.MaxOpenConns, cfg.Database.BusyTimeout)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log, cfg.Database.OperationTimeout)

	assetStore, err := assets.NewStore(store, cfg.Media.ImageDir, cfg.Media.VideoDir, log)
	if err != nil {
		log.Error("Failed to initialize asset store", "error", err)
		return 1
	}
	fetcher := assets.NewFetcher(assetStore, cfg.Media.MaxConcurrentDownloads, cfg.Media.DownloadTimeout, log)

	registry := authz.NewRegistry(store, cfg.Admin.Identity, cfg.Admin.Secret, log)
	archiver := ingest.NewArchiver(store, fetcher, registry, cfg.Media.SaveImages, cfg.Media.SaveVideos, log)

	sched, err := scheduler.New(log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	if cfg.Retention.Enabled {
		engine := retention.NewEngine(store, assetStore, cfg.Retention.KeepDays, log)
		err = sched.Register("retention_sweep", cfg.Retention.Schedule, func(ctx context.Context) error {
			_, sweepErr := engine.RunOnce(ctx)
			return sweepErr
		})
		if err != nil {
			log.Error("Failed to schedule retention sweep", "error", err)
			return 1
		}
	} else {
		log.Warn("Retention is disabled, expired buckets will accumulate")
	}
	if err := sched.Register("sql_maintenance", cfg.Retention.MaintenanceSchedule, store.RunSQLMaintenance); err != nil {
		log.Error("Failed to schedule SQL maintenance", "error", err)
		return 1
	}

	handler := api.NewHandler(store, assetStore, registry, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(handler, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var adapter *telegram.Adapter
	if cfg.Telegram.Token != "" {
		adapter, err = telegram.New(cfg.Telegram.Token, cfg.Telegram.AdminID, archiver, store, log)
		if err != nil {
			log.Error("Failed to create Telegram listener", "error", err)
			return 1
		}
	} else {
		log.Info("No Telegram token configured, running query API only")
	}

	service := app.New(log, httpServer, cfg.HTTP.ShutdownTimeout, adapter, sched)

	log.Info("Starting chat archive service...")
	runErr := service.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
