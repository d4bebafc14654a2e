package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/catalog"
	"github.com/dx-insights/attp-pipeline/internal/config"
	"github.com/dx-insights/attp-pipeline/internal/features"
	"github.com/dx-insights/attp-pipeline/internal/logging"
	"github.com/dx-insights/attp-pipeline/internal/pipeline"
	"github.com/dx-insights/attp-pipeline/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"bucket", cfg.Blob.Bucket,
		"pipeline_workers", cfg.Pipeline.Workers,
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	cat := catalog.New(pool)
	if err := cat.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure catalog schema", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog schema ready")

	blobs, err := blob.NewMinio(cfg.Blob)
	if err != nil {
		slog.Error("failed to connect object storage", "error", err)
		os.Exit(1)
	}
	if err := blobs.EnsureBucket(ctx, cfg.Blob.Bucket); err != nil {
		slog.Error("failed to ensure bucket", "error", err)
		os.Exit(1)
	}
	slog.Info("object storage ready", "endpoint", cfg.Blob.Endpoint, "bucket", cfg.Blob.Bucket)

	queue := pipeline.NewQueue(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, cfg.Pipeline.JobTimeout)
	engine := &features.Engine{
		Blobs:  blobs,
		Bucket: cfg.Blob.Bucket,
		Store:  cat,
		Audit:  cat,
	}
	chain := &pipeline.Pipeline{
		Blobs:   blobs,
		Bucket:  cfg.Blob.Bucket,
		Catalog: cat,
		Builder: engine,
		Queue:   queue,
	}
	chain.Register()

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	queue.Start(jobCtx)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      web.NewServer(cfg, cat, blobs, queue).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()
		queue.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
