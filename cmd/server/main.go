/*
main.go - Application entry point

PURPOSE:
  Starts the borrow/return tracker. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  borrowd serve     Run the HTTP server (default)
  borrowd migrate   Apply the SQLite schema and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store
  3. Build the lending service, warning sinks and notifier
  4. Configure HTTP router and auth
  5. Start the reminder scheduler
  6. Start server with graceful shutdown

FLAGS (override the environment):
  --port    HTTP server port
  --db      SQLite database path (":memory:" for a throwaway database)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection

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
	"go.uber.org/zap"

	"github.com/warp/borrow-ledger/api"
	"github.com/warp/borrow-ledger/config"
	"github.com/warp/borrow-ledger/lending"
	"github.com/warp/borrow-ledger/logger"
	"github.com/warp/borrow-ledger/store/sqlite"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var port int
	var dbPath string

	// loadConfig applies flags on top of the environment.
	loadConfig := func(cmd *cobra.Command) (config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return cfg, err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if cmd.Flags().Changed("db") {
			cfg.DBPath = dbPath
		}
		return cfg, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// New applies the schema.
			store, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			defer store.Close()
			if err := store.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied to %s\n", cfg.DBPath)
			return nil
		},
	}

	root := &cobra.Command{
		Use:          "borrowd",
		Short:        "School inventory borrow/return tracker",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().IntVar(&port, "port", 8080, "HTTP server port")
	root.PersistentFlags().StringVar(&dbPath, "db", "borrow.db", "SQLite database path")
	root.AddCommand(serve, migrate)
	return root
}

func runServer(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Service and its side-effect sinks
	recent := lending.NewWarningLog(200)
	svc := lending.NewService(store, lending.NewStoreNotifier(store), lending.MultiSink{
		lending.ZapWarnings{Logger: log.Named("warnings")},
		recent,
	})
	svc.FinePerDay = lending.Money(cfg.FinePerDay)
	svc.LoanDays = cfg.DefaultLoanDays

	handler := api.NewHandler(svc, recent, log.Named("api"))
	auth := api.NewAuthenticator(cfg.JWTSecret, store)
	router := api.NewRouter(handler, auth, api.RouterOptions{AllowedOrigins: cfg.AllowedOrigins})

	scheduler := api.NewReminderScheduler(svc, log.Named("scheduler"))
	scheduler.CheckInterval = cfg.ReminderInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Int64("fine_per_day", cfg.FinePerDay),
			zap.Int("default_loan_days", cfg.DefaultLoanDays))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
