// Package app orchestrates the lifecycle of all service components: the HTTP
// query API, the optional Telegram ingest adapter, and the task scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yueye109/chatvault/internal/scheduler"
	"github.com/yueye109/chatvault/internal/telegram"
)

// App runs the service components until the context is cancelled, handling
// graceful shutdown.
type App struct {
	logger          *slog.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
	adapter         *telegram.Adapter // nil when no token configured
	scheduler       *scheduler.Scheduler
}

// New assembles the application from its already-wired components.
func New(
	logger *slog.Logger,
	httpServer *http.Server,
	shutdownTimeout time.Duration,
	adapter *telegram.Adapter,
	sched *scheduler.Scheduler,
) *App {
	return &App{
		logger:          logger.With("component", "app"),
		httpServer:      httpServer,
		shutdownTimeout: shutdownTimeout,
		adapter:         adapter,
		scheduler:       sched,
	}
}

// Run starts all components and blocks until shutdown or a component failure.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting service components...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP shutdown error", "error", err)
		}
		return nil
	})

	if a.adapter != nil {
		g.Go(func() error {
			a.adapter.Run(gCtx)
			if gCtx.Err() == nil {
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Service stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Service stopped gracefully.")
	return nil
}
