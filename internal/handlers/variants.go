package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/services"
	"github.com/aigoflow/helix/internal/variants"
)

// VariantsRequest starts a directed-evolution run. Unset fields take the
// service defaults. Format selects json (default), csv or fasta output.
type VariantsRequest struct {
	WildType       models.Sequence        `json:"wild_type"`
	Experts        []string               `json:"experts,omitempty"`
	Steps          *int                   `json:"n_steps,omitempty"`
	ParallelChains *int                   `json:"parallel_chains,omitempty"`
	MaxMutations   *int                   `json:"max_mutations,omitempty"`
	RandomSeed     *int64                 `json:"random_seed,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	Format         string                 `json:"format,omitempty"`
}

type VariantsHandler struct {
	evolutionService *services.EvolutionService
}

func NewVariantsHandler(evolutionService *services.EvolutionService) *VariantsHandler {
	return &VariantsHandler{
		evolutionService: evolutionService,
	}
}

func (h *VariantsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/variants", h.handleVariants)
}

func (h *VariantsHandler) handleVariants(w http.ResponseWriter, r *http.Request) {
	var req VariantsRequest
	if !decodePost(w, r, &req) {
		return
	}
	reqID := requestID(r)

	if req.WildType.Residues == "" {
		http.Error(w, "wild_type.residues is required", http.StatusBadRequest)
		return
	}
	if req.WildType.ID == "" {
		req.WildType.ID = "wild_type"
	}

	opts := services.DefaultEvolveOptions()
	if len(req.Experts) > 0 {
		opts.Experts = req.Experts
	}
	if req.Steps != nil {
		opts.Steps = *req.Steps
	}
	if req.ParallelChains != nil {
		opts.ParallelChains = *req.ParallelChains
	}
	if req.MaxMutations != nil {
		opts.MaxMutations = *req.MaxMutations
	}
	opts.RandomSeed = req.RandomSeed
	opts.Params = req.Params

	result, err := h.evolutionService.Evolve(r.Context(), req.WildType, opts)
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	switch req.Format {
	case "csv":
		writeRendered(w, reqID, "text/csv", func(buf io.Writer) error {
			return variants.WriteCSV(buf, result.Records)
		})
	case "fasta":
		writeRendered(w, reqID, "text/plain", func(buf io.Writer) error {
			return variants.WriteFASTA(buf, result.Records)
		})
	default:
		failed := make([]string, len(result.Failed))
		for i, f := range result.Failed {
			failed[i] = f.Error()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"req_id":       reqID,
			"records":      result.Records,
			"summary":      result.Summary,
			"report":       result.Report,
			"failed_calls": failed,
		})
	}
}

// writeRendered renders the whole body before writing, so a failed render
// still produces a clean error response.
func writeRendered(w http.ResponseWriter, reqID, contentType string, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		writeError(w, reqID, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
