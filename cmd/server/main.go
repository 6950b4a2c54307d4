package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/casevault/importer/internal/config"
	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/logging"
	"github.com/casevault/importer/internal/schema"
	"github.com/casevault/importer/internal/store"
	"github.com/casevault/importer/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Connect to database
	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg.Database.URL, store.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Apply schema migrations
	if err := store.RunMigrations(ctx, pool, slog.Default()); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Log registered entity types
	order, err := schema.ImportOrder()
	if err != nil {
		slog.Error("entity type registry is inconsistent", "error", err)
		os.Exit(1)
	}
	slog.Info("entity types registered",
		"count", schema.Count(),
		"import_order", order,
	)

	// Create service with config
	core.SimilarityThreshold = cfg.Mapping.SimilarityThreshold
	pg := store.NewPostgres(pool)
	service := core.NewService(pg, pg, slog.Default(), core.Options{
		MaxFileBytes:         cfg.Import.MaxFileSize,
		SessionTTL:           cfg.Import.SessionTTL,
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		AcquireTimeout:       cfg.Import.MaxWaitTime,
	})

	// Create server with config
	server := web.NewServer(cfg, service, pool.Ping)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	// Sweep abandoned sessions in the background
	go service.StartSessionSweeper(jobCtx, cfg.Import.SweepInterval)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running imports to settle (with timeout)
		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for running imports", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not settle in time", "error", err)
			} else {
				slog.Info("all imports settled")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
