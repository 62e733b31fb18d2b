package handlers

import (
	"net/http"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/services"
)

type PerplexityRequest struct {
	SequenceInput
	BatchSize int `json:"batch_size,omitempty"`
}

type PerplexityHandler struct {
	perplexityService *services.PerplexityService
}

func NewPerplexityHandler(perplexityService *services.PerplexityService) *PerplexityHandler {
	return &PerplexityHandler{
		perplexityService: perplexityService,
	}
}

func (h *PerplexityHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/perplexity", h.handlePerplexity)
}

// A single sequence is scored directly and its failure fails the request;
// several are scored as a tolerant batch.
func (h *PerplexityHandler) handlePerplexity(w http.ResponseWriter, r *http.Request) {
	var req PerplexityRequest
	if !decodePost(w, r, &req) {
		return
	}
	reqID := requestID(r)

	seqs, err := req.parse()
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = services.DefaultMaskBatchSize
	}
	model := string(capabilities.ModelESM2MLM)

	if len(seqs) == 1 {
		ppl, err := h.perplexityService.Perplexity(r.Context(), seqs[0], req.BatchSize)
		if err != nil {
			writeError(w, reqID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"req_id":     reqID,
			"model":      model,
			"id":         ppl.ID,
			"perplexity": ppl.Perplexity,
		})
		return
	}

	results, err := h.perplexityService.PerplexityBatch(r.Context(), seqs, req.BatchSize)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(reqID, model, results))
}
