package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aigoflow/helix/internal/models"
)

// ChunkRequest carries one chunk of inputs to a model worker
type ChunkRequest struct {
	TraceID   string                 `json:"trace_id,omitempty"`
	ReqID     string                 `json:"req_id"`
	Model     string                 `json:"model"`
	Sequences []models.Sequence      `json:"sequences,omitempty"`
	Smiles    []string               `json:"smiles,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	ReplyTo   string                 `json:"reply_to,omitempty"`
}

// ChunkResponse carries one output per input of the chunk, in input order,
// or an error for the whole chunk
type ChunkResponse struct {
	ReqID      string            `json:"req_id"`
	WorkerID   string            `json:"worker_id,omitempty"`
	Outputs    []json.RawMessage `json:"outputs"`
	DurationMs int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// RemoteError is a failure reported by the worker in ChunkResponse.Error
type RemoteError struct {
	ReqID    string
	WorkerID string
	Message  string
}

func (e *RemoteError) Error() string {
	if e.WorkerID != "" {
		return fmt.Sprintf("remote error from %s (req %s): %s", e.WorkerID, e.ReqID, e.Message)
	}
	return fmt.Sprintf("remote error (req %s): %s", e.ReqID, e.Message)
}

// FoldOutput is a structure prediction for one sequence. ESMFold sets Body;
// Chai-1 returns several Candidates.
type FoldOutput struct {
	ID         string                 `json:"id"`
	Format     models.StructureFormat `json:"format"`
	Body       string                 `json:"body,omitempty"`
	Candidates []FoldCandidate        `json:"candidates,omitempty"`
}

// FoldCandidate is one of several predicted structures
type FoldCandidate struct {
	Body      string  `json:"body"`
	MeanPLDDT float64 `json:"mean_plddt"`
}

// BatchLoss is the mean masked-LM loss over one batch of masked copies
type BatchLoss struct {
	MeanLoss float64 `json:"mean_loss"`
	Size     int     `json:"size"`
}

// PerplexityOutput carries per-batch losses for one sequence
type PerplexityOutput struct {
	ID      string      `json:"id"`
	Batches []BatchLoss `json:"batches"`
}

// EvolvedVariant is the best variant of one evolution chain
type EvolvedVariant struct {
	Sequence string  `json:"sequence"`
	Score    float64 `json:"score"`
}

// HealthStatus represents worker health information
type HealthStatus struct {
	Model        string    `json:"model"`
	WorkerID     string    `json:"worker_id"`
	Status       string    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
	Capability   string    `json:"capability"`
	Checkpoint   string    `json:"checkpoint"`
	Subject      string    `json:"subject"`
	Version      string    `json:"version"`
}

// BackpressureReport is published periodically by each worker host
type BackpressureReport struct {
	Model            string    `json:"model"`
	WorkerID         string    `json:"worker_id"`
	PendingMessages  int64     `json:"pending_messages"`
	ActiveProcessing int64     `json:"active_processing"`
	Timestamp        time.Time `json:"timestamp"`
	WorkerCount      int       `json:"worker_count"`
	QueueCapacity    int       `json:"queue_capacity"`
	Status           string    `json:"status"`
}
