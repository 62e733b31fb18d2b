package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/pkg/client"
)

// Version is reported in health responses.
const Version = "1.0.0"

// Health answers health checks and publishes heartbeats for one model.
type Health struct {
	nats         *nats.Conn
	spec         capabilities.Spec
	workerID     string
	interval     time.Duration
	monitor      *Monitor
	lastActivity atomic.Int64
}

func NewHealth(natsConn *nats.Conn, spec capabilities.Spec, workerID string, interval time.Duration, monitor *Monitor) *Health {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	h := &Health{
		nats:     natsConn,
		spec:     spec,
		workerID: workerID,
		interval: interval,
		monitor:  monitor,
	}
	h.Touch()
	return h
}

// Touch records activity now.
func (h *Health) Touch() {
	h.lastActivity.Store(time.Now().UnixNano())
}

func (h *Health) Start(ctx context.Context) error {
	topic := client.HealthSubject(string(h.spec.Model))

	sub, err := h.nats.Subscribe(topic, func(msg *nats.Msg) {
		data, err := json.Marshal(h.Status())
		if err != nil {
			slog.Error("Failed to marshal health status", "error", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Error("Failed to respond to health check", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to health topic: %w", err)
	}

	slog.Info("Health responder started", "topic", topic)

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	go h.publishHeartbeats(ctx)
	return nil
}

func (h *Health) publishHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	topic := client.HeartbeatSubject(string(h.spec.Model))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(h.Status())
			if err != nil {
				continue
			}
			if err := h.nats.Publish(topic, data); err != nil {
				slog.Warn("Failed to publish heartbeat", "error", err)
			}
		}
	}
}

// Status reports "busy" while a chunk request is running, "online" otherwise.
func (h *Health) Status() client.HealthStatus {
	status := "online"
	if h.monitor != nil && h.monitor.Active() > 0 {
		status = "busy"
	}
	return client.HealthStatus{
		Model:        string(h.spec.Model),
		WorkerID:     h.workerID,
		Status:       status,
		LastActivity: time.Unix(0, h.lastActivity.Load()),
		Capability:   string(h.spec.Capability),
		Checkpoint:   h.spec.Checkpoint,
		Subject:      h.spec.Subject,
		Version:      Version,
	}
}
