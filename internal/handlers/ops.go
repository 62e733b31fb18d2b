package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/services"
)

// OpsHandler serves liveness, the invocation log and the model list.
type OpsHandler struct {
	base *services.Base
}

func NewOpsHandler(base *services.Base) *OpsHandler {
	return &OpsHandler{
		base: base,
	}
}

func (h *OpsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/logs", h.handleLogs)
	mux.HandleFunc("/v1/models", h.handleModels)
}

func (h *OpsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *OpsHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := h.base.GetInvocationLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []*models.InvocationLog{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(logs)
}

func (h *OpsHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	registry := h.base.Registry()
	specs := make([]capabilities.Spec, 0)
	for _, m := range registry.Models() {
		spec, _ := registry.Lookup(m)
		specs = append(specs, spec)
	}
	writeJSON(w, http.StatusOK, specs)
}
