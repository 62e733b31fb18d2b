package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/config"
	"github.com/aigoflow/helix/internal/metrics"
	"github.com/aigoflow/helix/internal/repository"
	"github.com/aigoflow/helix/internal/services"
	"github.com/aigoflow/helix/internal/store"
	"github.com/aigoflow/helix/pkg/client"
	"github.com/aigoflow/helix/pkg/server"
)

const usage = `usage: helix <command> [flags]

commands:
  fold        predict structures with ESMFold
  chai        predict structures with Chai-1
  embed       compute ESM-2 embeddings
  perplexity  score sequences with the ESM-2 masked language model
  evolve      run EvoProtGrad directed evolution on a wild type
  unimol      compute Uni-Mol molecular representations
  health      query worker health
  monitor     watch worker heartbeats and backpressure
  serve       run the HTTP API
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	switch command {
	case "fold":
		return runFold(ctx, args, string(capabilities.ModelESMFold))
	case "chai":
		return runFold(ctx, args, string(capabilities.ModelChai1))
	case "embed":
		return runEmbed(ctx, args)
	case "perplexity":
		return runPerplexity(ctx, args)
	case "evolve":
		return runEvolve(ctx, args)
	case "unimol":
		return runUniMol(ctx, args)
	case "health":
		return runHealth(ctx, args)
	case "monitor":
		return runMonitor(ctx, args)
	case "serve":
		return runServe(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// app holds what every command needs: configuration, the audit store, the
// transport and the model services.
type app struct {
	cfg       *config.Config
	db        *store.DB
	nc        *client.NATSClient
	collector *metrics.Collector
	svcs      server.Services
}

func newApp(envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	registry, err := capabilities.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		return nil, err
	}

	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	nc, err := client.NewNATSClient(cfg.NatsURL, cfg.ClientID, cfg.InvokeTimeout)
	if err != nil {
		db.Close()
		return nil, err
	}

	collector := metrics.NewCollector("helix")
	base := services.NewBase(registry, nc, repository.NewSQLiteRepository(db), collector, services.Settings{
		ChunkSize: cfg.ChunkSize,
		Timeout:   cfg.InvokeTimeout,
	})

	return &app{
		cfg:       cfg,
		db:        db,
		nc:        nc,
		collector: collector,
		svcs:      server.NewServices(base),
	}, nil
}

func (a *app) Close() {
	a.nc.Close()
	a.db.Close()
}
