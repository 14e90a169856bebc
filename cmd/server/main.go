/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Auric Regia counter server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment
  2. Build the logger
  3. Open the store (PostgreSQL or SQLite)
  4. Create engine, goal service and API handler
  5. Start the goal rollover scheduler
  6. Start server with graceful shutdown

ENVIRONMENT:
  AURIC_ADDR                   Listen address (default: :8080)
  DATABASE_URL                 PostgreSQL URL; empty selects SQLite
  AURIC_SQLITE_PATH            SQLite database path (default: auric.db)
                               Use ":memory:" for an in-memory database
  AURIC_LOG_MODE               development | production
  AURIC_CORS_ORIGINS           Comma-separated allowed origins
  AURIC_DB_MAX_CONNS           PostgreSQL pool size (default: 20)
  AURIC_GOAL_ROLLOVER_ENABLED  Run the monthly goal rollover (default: true)
  AURIC_GOAL_ROLLOVER_CRON     Rollover schedule (default: "0 0 1 * *")
  AURIC_SCENARIOS_ENABLED      Serve /api/scenarios (default: false)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rollover scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/store.go: Backend selection
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AlterionX/auric-regia/api"
	"github.com/AlterionX/auric-regia/config"
	"github.com/AlterionX/auric-regia/counter"
	"github.com/AlterionX/auric-regia/goals"
	"github.com/AlterionX/auric-regia/logging"
	"github.com/AlterionX/auric-regia/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	backend, kind, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer backend.Close()
	logger.Info("store ready", zap.String("backend", kind))

	// Initialize handler
	engine := counter.NewEngine(backend)
	goalSvc := goals.NewService(backend)
	handler := api.NewHandler(engine, goalSvc, logger)

	scheduler := api.NewGoalRolloverScheduler(goalSvc, cfg.GoalRolloverCron, logger)
	scheduler.Enabled = cfg.GoalRolloverEnabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()
	handler.Rollover = scheduler

	if cfg.ScenariosEnabled {
		logger.Warn("demo scenarios enabled; loading one resets the database")
		handler.Resetter = backend
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
