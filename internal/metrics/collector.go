// Package metrics exposes dispatch and worker counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the helix metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	chunksTotal   *prometheus.CounterVec
	itemsTotal    *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec

	workerMessages *prometheus.CounterVec
	workerPending  prometheus.Gauge
	workerActive   prometheus.Gauge
}

// NewCollector registers every metric under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		chunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_chunks_total",
				Help:      "Remote chunk invocations by model and status",
			},
			[]string{"model", "status"},
		),
		itemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_items_total",
				Help:      "Items carried by remote chunk invocations by model and status",
			},
			[]string{"model", "status"},
		),
		chunkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_chunk_duration_seconds",
				Help:      "Remote chunk invocation latency",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
			},
			[]string{"model"},
		),
		workerMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_total",
				Help:      "Chunk requests handled by this worker by status",
			},
			[]string{"model", "status"},
		),
		workerPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pending_messages",
			Help:      "Fetched chunk requests not yet finished",
		}),
		workerActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_active_messages",
			Help:      "Chunk requests currently running on the backend",
		}),
	}
}

// ObserveChunk records one finished chunk invocation.
func (c *Collector) ObserveChunk(model string, size int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.chunksTotal.WithLabelValues(model, status).Inc()
	c.itemsTotal.WithLabelValues(model, status).Add(float64(size))
	c.chunkDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveWorkerMessage records one chunk request handled by a worker.
func (c *Collector) ObserveWorkerMessage(model, status string) {
	c.workerMessages.WithLabelValues(model, status).Inc()
}

// SetWorkerLoad publishes the worker's pending and active counts.
func (c *Collector) SetWorkerLoad(pending, active int64) {
	c.workerPending.Set(float64(pending))
	c.workerActive.Set(float64(active))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
