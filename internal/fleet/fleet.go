// Package fleet tracks the worker hosts serving each model from their
// heartbeats, backpressure reports and health responses.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/pkg/client"
)

// StatusOffline marks a worker whose heartbeats stopped.
const StatusOffline = "offline"

// Worker is the last known state of one worker host.
type Worker struct {
	client.HealthStatus
	Backpressure *client.BackpressureReport `json:"backpressure,omitempty"`
	FirstSeen    time.Time                  `json:"first_seen"`
	LastSeen     time.Time                  `json:"last_seen"`
	Uptime       time.Duration              `json:"uptime"`
	RTT          time.Duration              `json:"rtt,omitempty"`
}

// Fleet is safe for concurrent use.
type Fleet struct {
	conn            *nats.Conn
	monitoringTopic string
	staleAfter      time.Duration
	now             func() time.Time

	mu      sync.RWMutex
	workers map[string]*Worker
}

func New(conn *nats.Conn, monitoringTopic string, staleAfter time.Duration) *Fleet {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Fleet{
		conn:            conn,
		monitoringTopic: monitoringTopic,
		staleAfter:      staleAfter,
		now:             time.Now,
		workers:         make(map[string]*Worker),
	}
}

// Start subscribes to heartbeats and backpressure reports of every model
// and periodically marks silent workers offline.
func (f *Fleet) Start(ctx context.Context) error {
	heartbeats, err := f.conn.Subscribe(client.HeartbeatSubject("*"), func(msg *nats.Msg) {
		var status client.HealthStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			slog.Warn("Failed to parse heartbeat", "subject", msg.Subject, "error", err)
			return
		}
		f.ObserveHeartbeat(status)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}

	reports, err := f.conn.Subscribe(f.monitoringTopic+".*", func(msg *nats.Msg) {
		var report client.BackpressureReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			slog.Warn("Failed to parse backpressure report", "subject", msg.Subject, "error", err)
			return
		}
		f.ObserveBackpressure(report)
	})
	if err != nil {
		heartbeats.Unsubscribe()
		return fmt.Errorf("failed to subscribe to backpressure reports: %w", err)
	}

	slog.Info("Fleet monitor started", "monitoring_topic", f.monitoringTopic)

	go func() {
		ticker := time.NewTicker(f.staleAfter / 2)
		defer ticker.Stop()
		defer heartbeats.Unsubscribe()
		defer reports.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.MarkStale()
			}
		}
	}()
	return nil
}

// Discover queries the health subject of every model once. Workers that
// answer are added to the fleet.
func (f *Fleet) Discover(ctx context.Context, models []capabilities.Model) {
	var wg sync.WaitGroup
	for _, m := range models {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			start := f.now()
			msg, err := f.conn.RequestWithContext(reqCtx, client.HealthSubject(model), nil)
			if err != nil {
				slog.Debug("No worker answered", "model", model, "error", err)
				return
			}
			var status client.HealthStatus
			if err := json.Unmarshal(msg.Data, &status); err != nil {
				slog.Warn("Failed to parse health response", "model", model, "error", err)
				return
			}
			w := f.ObserveHeartbeat(status)
			f.mu.Lock()
			w.RTT = f.now().Sub(start)
			f.mu.Unlock()
		}(string(m))
	}
	wg.Wait()
}

func key(model, workerID string) string {
	if workerID == "" {
		return model
	}
	return workerID
}

// ObserveHeartbeat records a heartbeat or health response.
func (f *Fleet) ObserveHeartbeat(status client.HealthStatus) *Worker {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(status.Model, status.WorkerID)
	w, ok := f.workers[k]
	if !ok {
		w = &Worker{FirstSeen: now}
		f.workers[k] = w
		slog.Info("Worker discovered", "model", status.Model, "worker_id", status.WorkerID)
	}
	w.HealthStatus = status
	w.LastSeen = now
	w.Uptime = now.Sub(w.FirstSeen)
	return w
}

// ObserveBackpressure attaches a load report to its worker.
func (f *Fleet) ObserveBackpressure(report client.BackpressureReport) {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(report.Model, report.WorkerID)
	w, ok := f.workers[k]
	if !ok {
		w = &Worker{
			HealthStatus: client.HealthStatus{Model: report.Model, WorkerID: report.WorkerID, Status: "online"},
			FirstSeen:    now,
		}
		f.workers[k] = w
	}
	r := report
	w.Backpressure = &r
	w.LastSeen = now
	w.Uptime = now.Sub(w.FirstSeen)
}

// MarkStale sets workers silent for longer than the stale period offline.
func (f *Fleet) MarkStale() {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.workers {
		if now.Sub(w.LastSeen) > f.staleAfter && w.Status != StatusOffline {
			w.Status = StatusOffline
			slog.Warn("Worker went offline", "model", w.Model, "worker_id", w.WorkerID, "last_seen", w.LastSeen)
		}
	}
}

// Workers returns a snapshot sorted by model, then worker id.
func (f *Fleet) Workers() []Worker {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Worker, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].WorkerID < out[j].WorkerID
	})
	return out
}
