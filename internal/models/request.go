package models

import "time"

// InvocationLog represents one logged remote chunk invocation
type InvocationLog struct {
	Timestamp  time.Time `json:"ts"`
	TraceID    string    `json:"trace_id"`
	ReqID      string    `json:"req_id"`
	WorkerID   string    `json:"worker_id"`
	Source     string    `json:"source"`
	Model      string    `json:"model"`
	ReplyTo    string    `json:"reply_to"`
	ItemIDs    string    `json:"item_ids"`
	ItemCount  int       `json:"item_count"`
	ParamsJSON string    `json:"params_json"`
	DurationMs int64     `json:"dur_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error"`
}

// Invocation statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusPanic = "panic"
)
