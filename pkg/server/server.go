package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aigoflow/helix/internal/handlers"
	"github.com/aigoflow/helix/internal/services"
)

// Services are the model services exposed over HTTP.
type Services struct {
	Base       *services.Base
	Structure  *services.StructureService
	Embedding  *services.EmbeddingService
	Perplexity *services.PerplexityService
	Evolution  *services.EvolutionService
	Molecule   *services.MoleculeService
}

// NewServices builds every model service on base.
func NewServices(base *services.Base) Services {
	return Services{
		Base:       base,
		Structure:  services.NewStructureService(base),
		Embedding:  services.NewEmbeddingService(base),
		Perplexity: services.NewPerplexityService(base),
		Evolution:  services.NewEvolutionService(base),
		Molecule:   services.NewMoleculeService(base),
	}
}

type Server struct {
	httpAddr string
	svcs     Services
	metrics  http.Handler
	fleet    handlers.WorkerLister
}

// NewServer creates the HTTP server. metrics may be nil.
func NewServer(httpAddr string, svcs Services, metrics http.Handler) *Server {
	return &Server{
		httpAddr: httpAddr,
		svcs:     svcs,
		metrics:  metrics,
	}
}

// WithFleet exposes the worker fleet on /v1/workers.
func (s *Server) WithFleet(f handlers.WorkerLister) *Server {
	s.fleet = f
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	handlers.NewOpsHandler(s.svcs.Base).RegisterRoutes(mux)
	handlers.NewStructureHandler(s.svcs.Structure).RegisterRoutes(mux)
	handlers.NewEmbeddingHandler(s.svcs.Embedding).RegisterRoutes(mux)
	handlers.NewPerplexityHandler(s.svcs.Perplexity).RegisterRoutes(mux)
	handlers.NewVariantsHandler(s.svcs.Evolution).RegisterRoutes(mux)
	handlers.NewMoleculeHandler(s.svcs.Molecule).RegisterRoutes(mux)
	if s.fleet != nil {
		handlers.NewWorkersHandler(s.fleet).RegisterRoutes(mux)
	}
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	slog.Info("HTTP server starting",
		"addr", s.httpAddr,
		"endpoints", []string{"/v1/structures", "/v1/embeddings", "/v1/perplexity", "/v1/variants", "/v1/molecules", "/v1/models", "/v1/workers", "/healthz", "/logs", "/metrics"})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
