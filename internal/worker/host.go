// Package worker hosts one model on a GPU machine: it pulls chunk requests
// from the JetStream work queue, runs them on the model backend and replies
// to the orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/config"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/repository"
	"github.com/aigoflow/helix/pkg/client"
)

// Observer receives worker load and per-message outcomes.
type Observer interface {
	ObserveWorkerMessage(model, status string)
	SetWorkerLoad(pending, active int64)
}

type nopObserver struct{}

func (nopObserver) ObserveWorkerMessage(string, string) {}

func (nopObserver) SetWorkerLoad(int64, int64) {}

func generateWorkerID(model capabilities.Model) string {
	return fmt.Sprintf("%s-%s", model, strings.ToLower(ulid.Make().String()))
}

// Host serves one model from the work queue.
type Host struct {
	cfg      *config.Config
	spec     capabilities.Spec
	conn     *nats.Conn
	backend  Backend
	repo     repository.Repository
	observer Observer
	hostID   string

	monitor *Monitor
	health  *Health
}

// NewHost creates a host for spec. repo and observer may be nil.
func NewHost(cfg *config.Config, spec capabilities.Spec, conn *nats.Conn, backend Backend, repo repository.Repository, observer Observer) *Host {
	if observer == nil {
		observer = nopObserver{}
	}
	hostID := generateWorkerID(spec.Model)
	monitor := NewMonitor(conn, string(spec.Model), hostID, cfg.MonitoringTopic, cfg.BackpressureThreshold, cfg.Concurrency, cfg.MaxMsgs, observer)
	return &Host{
		cfg:      cfg,
		spec:     spec,
		conn:     conn,
		backend:  backend,
		repo:     repo,
		observer: observer,
		hostID:   hostID,
		monitor:  monitor,
		health:   NewHealth(conn, spec, hostID, cfg.HeartbeatInterval, monitor),
	}
}

// ID returns the host identifier reported in health responses.
func (h *Host) ID() string {
	return h.hostID
}

// Run serves chunk requests until ctx is cancelled. The backend is opened
// once and closed on every return path.
func (h *Host) Run(ctx context.Context) (err error) {
	js, err := h.conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := h.ensureStream(js); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	consumer, err := h.createConsumer(js)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	defer consumer.Unsubscribe()

	if err := h.backend.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := h.backend.Close(); cerr != nil {
			slog.Error("Failed to release backend", "model", h.spec.Model, "error", cerr)
			if err == nil {
				err = cerr
			}
			return
		}
		slog.Info("Backend released", "model", h.spec.Model)
	}()

	if err := h.health.Start(ctx); err != nil {
		return err
	}
	h.monitor.Start(ctx)

	slog.Info("Worker host starting",
		"model", h.spec.Model,
		"stream", h.cfg.Stream,
		"subject", h.spec.Subject,
		"concurrency", h.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < max(h.cfg.Concurrency, 1); i++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			h.worker(ctx, consumer, workerID)
		}(fmt.Sprintf("%s/%d", h.hostID, i))
	}
	wg.Wait()

	slog.Info("Worker host shutting down", "model", h.spec.Model)
	return nil
}

func (h *Host) ensureStream(js nats.JetStreamContext) error {
	streamInfo, err := js.StreamInfo(h.cfg.Stream)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      h.cfg.Stream,
			Subjects:  []string{h.cfg.StreamSubject},
			MaxMsgs:   int64(h.cfg.MaxMsgs),
			MaxAge:    h.cfg.MaxAge,
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		slog.Info("Created NATS stream", "name", h.cfg.Stream, "subject", h.cfg.StreamSubject)
		return nil
	}

	for _, subject := range streamInfo.Config.Subjects {
		if subject == h.cfg.StreamSubject || subject == h.spec.Subject {
			slog.Info("NATS stream already exists", "name", h.cfg.Stream, "messages", streamInfo.State.Msgs)
			return nil
		}
	}

	newConfig := streamInfo.Config
	newConfig.Subjects = append(newConfig.Subjects, h.spec.Subject)
	if _, err := js.UpdateStream(&newConfig); err != nil {
		return fmt.Errorf("failed to update stream with new subject: %w", err)
	}
	slog.Info("Updated NATS stream with new subject", "name", h.cfg.Stream, "subject", h.spec.Subject)
	return nil
}

func (h *Host) createConsumer(js nats.JetStreamContext) (*nats.Subscription, error) {
	durable := "helix-" + string(h.spec.Model)
	sub, err := js.PullSubscribe(h.spec.Subject, durable,
		nats.BindStream(h.cfg.Stream),
		nats.ManualAck(),
		nats.AckWait(h.cfg.AckWait),
		nats.MaxDeliver(h.cfg.MaxDeliver),
		nats.MaxAckPending(h.cfg.MaxAckPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}
	slog.Info("Created NATS consumer", "durable", durable)
	return sub, nil
}

func (h *Host) worker(ctx context.Context, consumer *nats.Subscription, workerID string) {
	slog.Info("Worker starting", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker shutting down", "worker_id", workerID)
			return
		default:
		}

		msgs, err := consumer.Fetch(1, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			slog.Error("Failed to fetch messages", "worker_id", workerID, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			h.monitor.IncrementPending()
			h.processMessage(ctx, msg, workerID)
			h.monitor.DecrementPending()
		}
	}
}

func (h *Host) processMessage(ctx context.Context, msg *nats.Msg, workerID string) {
	var req client.ChunkRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Error("Failed to parse chunk request",
			"worker_id", workerID,
			"error", err,
			"data", string(msg.Data))
		h.observer.ObserveWorkerMessage(string(h.spec.Model), "invalid")
		// Redelivery cannot fix a malformed payload.
		msg.Term()
		return
	}

	resp := h.Handle(ctx, &req, fmt.Sprintf("nats.%s", msg.Subject), workerID)

	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("Failed to marshal response",
			"worker_id", workerID,
			"req_id", req.ReqID,
			"error", err)
		msg.Nak()
		return
	}

	if req.ReplyTo != "" {
		if err := h.conn.Publish(req.ReplyTo, data); err != nil {
			slog.Error("Failed to publish response",
				"worker_id", workerID,
				"req_id", req.ReqID,
				"reply_subject", req.ReplyTo,
				"error", err)
		}
	}

	if err := msg.Ack(); err != nil {
		slog.Error("Failed to acknowledge message",
			"worker_id", workerID,
			"req_id", req.ReqID,
			"error", err)
	}
}

// Handle runs one chunk request on the backend and builds its response.
// Failures, including backend panics, are reported in the response.
func (h *Host) Handle(ctx context.Context, req *client.ChunkRequest, source, workerID string) (resp *client.ChunkResponse) {
	start := time.Now()
	if req.TraceID == "" {
		req.TraceID = req.ReqID
	}
	resp = &client.ChunkResponse{ReqID: req.ReqID, WorkerID: workerID}
	status := models.StatusOK

	h.monitor.IncrementActive()
	h.health.Touch()

	defer func() {
		if r := recover(); r != nil {
			status = models.StatusPanic
			resp.Outputs = nil
			resp.Error = fmt.Sprintf("panic in backend: %v", r)
		}
		h.monitor.DecrementActive()

		duration := time.Since(start)
		resp.DurationMs = duration.Milliseconds()
		h.observer.ObserveWorkerMessage(string(h.spec.Model), status)
		h.record(ctx, req, source, workerID, start, duration, status, resp.Error)

		if resp.Error == "" {
			slog.Info("Chunk completed",
				"worker_id", workerID,
				"req_id", req.ReqID,
				"model", req.Model,
				"outputs", len(resp.Outputs),
				"duration_ms", duration.Milliseconds())
		} else {
			slog.Error("Chunk failed",
				"worker_id", workerID,
				"req_id", req.ReqID,
				"model", req.Model,
				"duration_ms", duration.Milliseconds(),
				"error", resp.Error)
		}
	}()

	if req.Model != "" && req.Model != string(h.spec.Model) {
		status = models.StatusError
		resp.Error = fmt.Sprintf("worker serves %s, not %s", h.spec.Model, req.Model)
		return resp
	}

	slog.Debug("Processing chunk request",
		"worker_id", workerID,
		"req_id", req.ReqID,
		"trace_id", req.TraceID,
		"items", len(req.Sequences)+len(req.Smiles))

	if h.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.spec.Timeout)
		defer cancel()
	}

	outputs, err := h.backend.Infer(ctx, req)
	if err != nil {
		status = models.StatusError
		resp.Error = err.Error()
		return resp
	}
	resp.Outputs = outputs
	return resp
}

func (h *Host) record(ctx context.Context, req *client.ChunkRequest, source, workerID string, start time.Time, duration time.Duration, status, errStr string) {
	if h.repo == nil {
		return
	}
	ids := make([]string, 0, len(req.Sequences)+len(req.Smiles))
	for _, s := range req.Sequences {
		ids = append(ids, s.ID)
	}
	ids = append(ids, req.Smiles...)

	params := ""
	if len(req.Params) > 0 {
		if b, err := json.Marshal(req.Params); err == nil {
			params = string(b)
		}
	}

	err := h.repo.Invocation().LogInvocation(context.WithoutCancel(ctx), &models.InvocationLog{
		Timestamp:  start,
		TraceID:    req.TraceID,
		ReqID:      req.ReqID,
		WorkerID:   workerID,
		Source:     source,
		Model:      req.Model,
		ReplyTo:    req.ReplyTo,
		ItemIDs:    strings.Join(ids, ","),
		ItemCount:  len(ids),
		ParamsJSON: params,
		DurationMs: duration.Milliseconds(),
		Status:     status,
		Error:      errStr,
	})
	if err != nil {
		slog.Error("Failed to log invocation", "req_id", req.ReqID, "error", err)
	}
}
