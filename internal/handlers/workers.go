package handlers

import (
	"net/http"

	"github.com/aigoflow/helix/internal/fleet"
)

// WorkerLister reports the known worker hosts.
type WorkerLister interface {
	Workers() []fleet.Worker
}

type WorkersHandler struct {
	fleet WorkerLister
}

func NewWorkersHandler(f WorkerLister) *WorkersHandler {
	return &WorkersHandler{
		fleet: f,
	}
}

func (h *WorkersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/workers", h.handleWorkers)
}

func (h *WorkersHandler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	workers := h.fleet.Workers()
	if model := r.URL.Query().Get("model"); model != "" {
		filtered := make([]fleet.Worker, 0, len(workers))
		for _, wk := range workers {
			if wk.Model == model {
				filtered = append(filtered, wk)
			}
		}
		workers = filtered
	}
	writeJSON(w, http.StatusOK, workers)
}
