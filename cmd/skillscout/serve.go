package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/skillscout/internal/api"
	"github.com/terra-clan/skillscout/internal/assessment"
	"github.com/terra-clan/skillscout/internal/cleanup"
	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/health"
	"github.com/terra-clan/skillscout/internal/pipeline"
	"github.com/terra-clan/skillscout/internal/storage"
	"github.com/terra-clan/skillscout/internal/workspace"
)

// analysisTimeout bounds one background analysis run, retries included
const analysisTimeout = 30 * time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(os.Stdout, cfg.LogLevel)
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	slog.Info("starting skillscout",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"database", cfg.Database.Driver,
		"ai_provider", cfg.AI.Provider,
		"scanner_mode", cfg.Sonar.ScannerMode,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	applied, err := storage.Migrate(initCtx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MigrationsDir)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations applied", "count", applied)

	store, err := storage.Open(initCtx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	slog.Info("database connected successfully")

	deps, err := buildComponents(initCtx, cfg, true)
	if err != nil {
		return err
	}
	defer deps.Close()
	deps.registry.Register("database", health.CheckerFunc(store.Ping))

	service := pipeline.NewService(pipeline.ServiceConfig{
		Store:           store,
		Analyzer:        deps.analyzer,
		Summarizer:      deps.reviewer,
		Browser:         workspace.NewBrowser(cfg.Workspace.MaxFileBytes),
		Bus:             deps.bus,
		WorkspaceRoot:   cfg.Workspace.Root,
		AnalysisTimeout: analysisTimeout,
	})
	engine := assessment.NewEngine(store, deps.reviewer)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start workspace janitor
	cleaner := cleanup.NewCleaner(store, cfg.Workspace.Root, cfg.Cleanup.Interval)
	cleaner.Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, service, engine, deps.registry, store)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		slog.Error("HTTP server error", "error", err)
	}

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Running analyses are marked failed before the store closes
	service.Close()

	slog.Info("skillscout stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			setupLogging(os.Stderr, cfg.LogLevel)

			applied, err := storage.Migrate(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MigrationsDir)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}
