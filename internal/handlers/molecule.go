package handlers

import (
	"net/http"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/services"
)

type MoleculeRequest struct {
	Smiles []string               `json:"smiles"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type MoleculeHandler struct {
	moleculeService *services.MoleculeService
}

func NewMoleculeHandler(moleculeService *services.MoleculeService) *MoleculeHandler {
	return &MoleculeHandler{
		moleculeService: moleculeService,
	}
}

func (h *MoleculeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/molecules", h.handleMolecules)
}

func (h *MoleculeHandler) handleMolecules(w http.ResponseWriter, r *http.Request) {
	var req MoleculeRequest
	if !decodePost(w, r, &req) {
		return
	}
	reqID := requestID(r)

	results, err := h.moleculeService.Represent(r.Context(), req.Smiles, req.Params)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(reqID, string(capabilities.ModelUniMol), results))
}
