package handlers

import (
	"net/http"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/services"
)

type EmbeddingRequest struct {
	SequenceInput
	Model              string                 `json:"model,omitempty"`
	OutputHiddenStates bool                   `json:"output_hidden_states"`
	OutputAttentions   bool                   `json:"output_attentions"`
	Params             map[string]interface{} `json:"params,omitempty"`
}

type EmbeddingHandler struct {
	embeddingService *services.EmbeddingService
}

func NewEmbeddingHandler(embeddingService *services.EmbeddingService) *EmbeddingHandler {
	return &EmbeddingHandler{
		embeddingService: embeddingService,
	}
}

func (h *EmbeddingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/embeddings", h.handleEmbeddings)
}

func (h *EmbeddingHandler) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if !decodePost(w, r, &req) {
		return
	}
	reqID := requestID(r)
	if req.Model == "" {
		req.Model = string(capabilities.ModelESM2)
	}

	seqs, err := req.parse()
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	results, err := h.embeddingService.Embed(r.Context(), seqs, services.EmbeddingOptions{
		Model:            req.Model,
		OutputHidden:     req.OutputHiddenStates,
		OutputAttentions: req.OutputAttentions,
		Params:           req.Params,
	})
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(reqID, req.Model, results))
}
