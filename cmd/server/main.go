/*
main.go - Application entry point

PURPOSE:
  Command line of the invoice control service. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  invoice-control serve       Start the HTTP API (and the auto-control scheduler)
  invoice-control evaluate    Control an invoice file against an order file offline

STARTUP SEQUENCE (serve):
  1. Load configuration (flags > env > .env > defaults)
  2. Initialize logger
  3. Initialize SQLite store
  4. Load the control policy file, if any
  5. Create API handler, scheduler and router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

EXAMPLES:
  # Run with file database
  invoice-control serve --db=./data/control.db

  # In-memory database, console logs, background controls every 30s
  invoice-control serve --db=":memory:" --log-format=console \
      --scheduler-enabled --scheduler-interval=30s

  # Stricter policy
  INVOICE_CONTROL_THRESHOLDS_FILE=strict.yaml invoice-control serve

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/spf13/cobra"

	"github.com/warp/invoice-control/api"
	"github.com/warp/invoice-control/config"
	"github.com/warp/invoice-control/factory"
	"github.com/warp/invoice-control/logging"
	"github.com/warp/invoice-control/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "invoice-control",
		Short: "Three-way control of supplier invoices",
		Long: `invoice-control reconciles supplier invoices against the purchase orders
they bill, and purchase orders against the approved purchase requests they
come from. Variances are classified by severity and a decision is made:
approve or investigate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newEvaluateCommand())
	return root
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.Int(config.KeyPort, 8080, "HTTP server port")
	f.String(config.KeyDB, "invoice-control.db", `SQLite database path (":memory:" for in-memory)`)
	f.String(config.KeyLogLevel, "info", "log level: trace, debug, info, warn, error")
	f.String(config.KeyLogFormat, "json", "log format: json or console")
	f.String(config.KeyThresholdsFile, "", "control policy file (JSON or YAML)")
	f.Bool(config.KeySchedulerEnabled, false, "control received invoices in the background")
	f.Duration(config.KeySchedulerInterval, time.Minute, "background control interval")
	f.String(config.KeyCORSOrigins, "http://localhost:5173,http://localhost:8080", "allowed CORS origins, comma separated")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Fields: map[string]string{"service": "invoice-control"},
	})

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	var policy *factory.Policy
	if cfg.ThresholdsFile != "" {
		policy, err = factory.NewPolicyFactory().LoadFile(cfg.ThresholdsFile)
		if err != nil {
			return err
		}
		logger.Info().Str("policy", policy.ID).Str("file", cfg.ThresholdsFile).Msg("Control policy loaded")
	}

	handler := api.NewHandler(store, policy, logger)

	scheduler := api.NewAutoControlScheduler(store, handler.Controller, logger)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("db", cfg.DBPath).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}
