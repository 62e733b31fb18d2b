package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/config"
	"github.com/aigoflow/helix/internal/metrics"
	"github.com/aigoflow/helix/internal/repository"
	"github.com/aigoflow/helix/internal/store"
	"github.com/aigoflow/helix/internal/worker"
)

func main() {
	var envFile = flag.String("env", "", "Optional .env file to load")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile); err != nil {
		slog.Error("Worker failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	db.LogEvent("info", "startup", "Worker starting", map[string]interface{}{
		"model":       cfg.WorkerModel,
		"backend_url": cfg.BackendURL,
		"db_path":     cfg.DBPath,
	})

	registry, err := capabilities.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		return err
	}
	spec, ok := registry.Lookup(capabilities.Model(cfg.WorkerModel))
	if !ok {
		return fmt.Errorf("unknown worker model %q; supported models are: %v", cfg.WorkerModel, registry.Models())
	}

	conn, err := nats.Connect(cfg.NatsURL, nats.Name("helix-worker-"+cfg.WorkerModel))
	if err != nil {
		db.LogEvent("error", "nats.failed", "NATS connection failed", map[string]interface{}{
			"nats_url": cfg.NatsURL,
			"error":    err.Error(),
		})
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer conn.Close()

	collector := metrics.NewCollector("helix")
	repo := repository.NewSQLiteRepository(db)
	host := worker.NewHost(cfg, spec, conn, worker.NewHTTPBackend(cfg.BackendURL, spec), repo, collector)

	// Metrics endpoint
	metricsServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	db.LogEvent("info", "worker.ready", "Worker ready to accept requests", map[string]interface{}{
		"model":     spec.Model,
		"subject":   spec.Subject,
		"worker_id": host.ID(),
		"nats_url":  cfg.NatsURL,
	})

	if err := host.Run(ctx); err != nil {
		db.LogEvent("error", "worker.failed", "Worker host failed", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	db.LogEvent("info", "shutdown", "Worker stopped", nil)
	slog.Info("Shutting down worker")
	return nil
}
