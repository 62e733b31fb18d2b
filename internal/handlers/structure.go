package handlers

import (
	"net/http"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/services"
)

type StructureRequest struct {
	SequenceInput
	Model    string                 `json:"model"`
	Params   map[string]interface{} `json:"params,omitempty"`
	FailFast *bool                  `json:"fail_fast,omitempty"`
}

type StructureHandler struct {
	structureService *services.StructureService
}

func NewStructureHandler(structureService *services.StructureService) *StructureHandler {
	return &StructureHandler{
		structureService: structureService,
	}
}

func (h *StructureHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/structures", h.handleStructures)
}

func (h *StructureHandler) handleStructures(w http.ResponseWriter, r *http.Request) {
	var req StructureRequest
	if !decodePost(w, r, &req) {
		return
	}
	reqID := requestID(r)
	if req.Model == "" {
		req.Model = string(capabilities.ModelESMFold)
	}

	seqs, err := req.parse()
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	results, err := h.structureService.PredictStructures(r.Context(), seqs, services.StructureOptions{
		Model:    req.Model,
		Params:   req.Params,
		FailFast: req.FailFast,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(reqID, req.Model, results))
}
