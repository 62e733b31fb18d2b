package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/fasta"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/services"
	"github.com/aigoflow/helix/pkg/client"
)

// SequenceInput accepts sequences either as records or as FASTA text.
type SequenceInput struct {
	Sequences []models.Sequence `json:"sequences,omitempty"`
	FASTA     string            `json:"fasta,omitempty"`
}

func (in SequenceInput) parse() ([]models.Sequence, error) {
	seqs := in.Sequences
	if in.FASTA != "" {
		parsed, err := fasta.Parse(strings.NewReader(in.FASTA))
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, parsed...)
	}
	return seqs, nil
}

// ItemResult is one per-input outcome in a batch response.
type ItemResult[T any] struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Value    *T     `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchResponse lists outcomes in input order.
type BatchResponse[T any] struct {
	ReqID     string          `json:"req_id"`
	Model     string          `json:"model,omitempty"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []ItemResult[T] `json:"results"`
}

func batchResponse[T any](reqID, model string, res *dispatch.Results[T]) BatchResponse[T] {
	resp := BatchResponse[T]{ReqID: reqID, Model: model}
	for _, o := range res.Ordered() {
		item := ItemResult[T]{ID: o.ID, Position: o.Position}
		if o.OK() {
			v := o.Value
			item.Value = &v
			resp.Succeeded++
		} else {
			item.Error = o.Err.Error()
			resp.Failed++
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return client.NewRequestID()
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, reqID string, err error) {
	status := http.StatusInternalServerError
	var unsupported *capabilities.UnsupportedModelError
	var chunkErr *dispatch.ChunkError
	var remote *client.RemoteError
	switch {
	case errors.As(err, &unsupported),
		errors.Is(err, services.ErrEmptyBatch),
		errors.Is(err, services.ErrInvalidChains),
		errors.Is(err, fasta.ErrNoHeader),
		errors.Is(err, fasta.ErrEmptyID),
		errors.Is(err, dispatch.ErrInvalidChunkSize):
		status = http.StatusBadRequest
	case errors.As(err, &chunkErr), errors.As(err, &remote):
		status = http.StatusBadGateway
	}

	slog.Error("Request failed", "req_id", reqID, "status", status, "error", err)
	writeJSON(w, status, map[string]interface{}{
		"req_id": reqID,
		"error":  err.Error(),
	})
}
