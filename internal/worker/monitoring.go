package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aigoflow/helix/pkg/client"
)

// Backpressure statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Monitor tracks fetched and running chunk requests and publishes
// backpressure reports.
type Monitor struct {
	nats        *nats.Conn
	model       string
	workerID    string
	topic       string
	threshold   int64
	workerCount int
	capacity    int
	observer    Observer

	pendingCount atomic.Int64
	activeCount  atomic.Int64
}

func NewMonitor(natsConn *nats.Conn, model, workerID, topic string, threshold, workerCount, capacity int, observer Observer) *Monitor {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Monitor{
		nats:        natsConn,
		model:       model,
		workerID:    workerID,
		topic:       topic,
		threshold:   int64(threshold),
		workerCount: workerCount,
		capacity:    capacity,
		observer:    observer,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	slog.Info("Starting backpressure monitor",
		"topic", m.topic,
		"threshold", m.threshold)
	go m.monitorBackpressure(ctx)
}

func (m *Monitor) monitorBackpressure(ctx context.Context) {
	highLoadTicker := time.NewTicker(1 * time.Second)
	lowLoadTicker := time.NewTicker(10 * time.Second)
	defer highLoadTicker.Stop()
	defer lowLoadTicker.Stop()

	current := lowLoadTicker
	for {
		select {
		case <-ctx.Done():
			return
		case <-highLoadTicker.C:
			if current != highLoadTicker {
				continue
			}
		case <-lowLoadTicker.C:
			if current != lowLoadTicker {
				continue
			}
		}

		pending, active := m.Pending(), m.Active()
		if pending > 0 && current == lowLoadTicker {
			current = highLoadTicker
			slog.Debug("Switched to high-frequency monitoring", "pending", pending)
		} else if pending == 0 && current == highLoadTicker {
			current = lowLoadTicker
			slog.Debug("Switched to low-frequency monitoring")
		}
		m.report(pending, active)
	}
}

func (m *Monitor) report(pending, active int64) {
	report := m.Report(pending, active)

	data, err := json.Marshal(report)
	if err != nil {
		slog.Error("Failed to marshal backpressure report", "error", err)
		return
	}
	topic := fmt.Sprintf("%s.%s", m.topic, m.model)
	if err := m.nats.Publish(topic, data); err != nil {
		slog.Warn("Failed to publish backpressure report", "error", err)
		return
	}

	if pending > 0 || report.Status != StatusHealthy {
		slog.Info("Backpressure report",
			"pending", pending,
			"active", active,
			"status", report.Status)
	}
}

// Report builds a backpressure report for the given load.
func (m *Monitor) Report(pending, active int64) client.BackpressureReport {
	return client.BackpressureReport{
		Model:            m.model,
		WorkerID:         m.workerID,
		PendingMessages:  pending,
		ActiveProcessing: active,
		Timestamp:        time.Now(),
		WorkerCount:      m.workerCount,
		QueueCapacity:    m.capacity,
		Status:           m.status(pending, active),
	}
}

func (m *Monitor) status(pending, active int64) string {
	total := pending + active
	switch {
	case total == 0:
		return StatusHealthy
	case total < m.threshold:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// IncrementPending counts a fetched chunk request
func (m *Monitor) IncrementPending() {
	m.pendingCount.Add(1)
	m.publishLoad()
}

// DecrementPending uncounts a finished chunk request
func (m *Monitor) DecrementPending() {
	m.pendingCount.Add(-1)
	m.publishLoad()
}

// IncrementActive counts a chunk request running on the backend
func (m *Monitor) IncrementActive() {
	m.activeCount.Add(1)
	m.publishLoad()
}

// DecrementActive uncounts a chunk request that left the backend
func (m *Monitor) DecrementActive() {
	m.activeCount.Add(-1)
	m.publishLoad()
}

func (m *Monitor) Pending() int64 {
	return m.pendingCount.Load()
}

func (m *Monitor) Active() int64 {
	return m.activeCount.Load()
}

func (m *Monitor) publishLoad() {
	m.observer.SetWorkerLoad(m.Pending(), m.Active())
}
