// Package services implements one orchestration operation per model: resolve
// the selector, dispatch the inputs in chunks to the remote workers and
// assemble the per-item outputs.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/repository"
	"github.com/aigoflow/helix/pkg/client"
)

// ErrEmptyBatch is returned when an operation is given no inputs.
var ErrEmptyBatch = errors.New("services: no inputs given")

// Settings override the per-model dispatch defaults. Zero values keep the
// registry's settings.
type Settings struct {
	ChunkSize int
	Timeout   time.Duration
}

// Base is shared by every model service.
type Base struct {
	registry *capabilities.Registry
	invoker  client.Invoker
	repo     repository.Repository
	observer dispatch.Observer
	settings Settings
	source   string
}

// NewBase wires the registry and transport shared by the services. repo and
// observer may be nil.
func NewBase(registry *capabilities.Registry, invoker client.Invoker, repo repository.Repository, observer dispatch.Observer, settings Settings) *Base {
	return &Base{
		registry: registry,
		invoker:  invoker,
		repo:     repo,
		observer: observer,
		settings: settings,
		source:   "orchestrator",
	}
}

// Registry returns the model registry.
func (b *Base) Registry() *capabilities.Registry {
	return b.registry
}

// GetInvocationLogs returns the most recent chunk invocations.
func (b *Base) GetInvocationLogs(ctx context.Context, limit int) ([]*models.InvocationLog, error) {
	if b.repo == nil {
		return nil, nil
	}
	return b.repo.Invocation().GetInvocationLogs(ctx, limit)
}

func (b *Base) options(spec capabilities.Spec, tolerate bool) dispatch.Options {
	opts := dispatch.Options{
		Name:             string(spec.Model),
		ChunkSize:        spec.ChunkSize,
		TolerateFailures: tolerate,
		Timeout:          spec.Timeout,
		Observer:         b.observer,
	}
	if b.settings.ChunkSize > 0 {
		opts.ChunkSize = b.settings.ChunkSize
	}
	if b.settings.Timeout > 0 {
		opts.Timeout = b.settings.Timeout
	}
	return opts
}

// invoke sends one chunk to the model's subject and records the invocation.
func (b *Base) invoke(ctx context.Context, spec capabilities.Spec, traceID string, req *client.ChunkRequest, ids []string) (_ *client.ChunkResponse, err error) {
	start := time.Now()
	req.TraceID = traceID
	req.Model = string(spec.Model)

	var resp *client.ChunkResponse
	defer func() {
		status := models.StatusOK
		errStr := ""
		if err != nil {
			status = models.StatusError
			errStr = err.Error()
		}
		workerID := ""
		var remote *client.RemoteError
		if resp != nil {
			workerID = resp.WorkerID
		} else if errors.As(err, &remote) {
			workerID = remote.WorkerID
		}
		b.record(ctx, &models.InvocationLog{
			Timestamp:  start,
			TraceID:    traceID,
			ReqID:      req.ReqID,
			WorkerID:   workerID,
			Source:     b.source,
			Model:      req.Model,
			ReplyTo:    req.ReplyTo,
			ItemIDs:    strings.Join(ids, ","),
			ItemCount:  len(ids),
			ParamsJSON: paramsJSON(req.Params),
			DurationMs: time.Since(start).Milliseconds(),
			Status:     status,
			Error:      errStr,
		})
	}()

	resp, err = b.invoker.Invoke(ctx, spec.Subject, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Outputs) != len(ids) {
		return nil, fmt.Errorf("%w: worker %s returned %d outputs for %d items",
			dispatch.ErrCardinality, resp.WorkerID, len(resp.Outputs), len(ids))
	}

	slog.Debug("Chunk invocation completed",
		"trace_id", traceID,
		"req_id", req.ReqID,
		"model", req.Model,
		"worker_id", resp.WorkerID,
		"items", len(ids),
		"duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (b *Base) record(ctx context.Context, inv *models.InvocationLog) {
	if b.repo == nil {
		return
	}
	// The batch context may already be cancelled; the audit row is still wanted.
	if err := b.repo.Invocation().LogInvocation(context.WithoutCancel(ctx), inv); err != nil {
		slog.Error("Failed to log invocation", "req_id", inv.ReqID, "error", err)
	}
}

func paramsJSON(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}

func sequenceID(s models.Sequence) string {
	return s.ID
}

func sequenceIDs(seqs []models.Sequence) []string {
	ids := make([]string, len(seqs))
	for i, s := range seqs {
		ids[i] = s.ID
	}
	return ids
}

// runSequences dispatches seqs to spec, decoding each output as T and
// converting it with convert.
func runSequences[T, O any](ctx context.Context, b *Base, spec capabilities.Spec, opts dispatch.Options, seqs []models.Sequence, params map[string]interface{}, convert func(models.Sequence, T) (O, error)) (*dispatch.Results[O], error) {
	if len(seqs) == 0 {
		return nil, ErrEmptyBatch
	}
	traceID := client.NewRequestID()

	invoke := func(ctx context.Context, chunk dispatch.Chunk, items []models.Sequence) ([]O, error) {
		req := &client.ChunkRequest{Sequences: items, Params: params}
		resp, err := b.invoke(ctx, spec, traceID, req, sequenceIDs(items))
		if err != nil {
			return nil, err
		}
		decoded, err := client.DecodeOutputs[T](resp)
		if err != nil {
			return nil, err
		}
		out := make([]O, len(items))
		for i, item := range items {
			if out[i], err = convert(item, decoded[i]); err != nil {
				return nil, fmt.Errorf("%s: %w", item.ID, err)
			}
		}
		return out, nil
	}

	return dispatch.New(invoke, sequenceID, opts).Run(ctx, seqs)
}
