package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveChunk(t *testing.T) {
	c := NewCollector("helix")

	c.ObserveChunk("esmfold", 1, 2*time.Second, nil)
	c.ObserveChunk("esmfold", 1, time.Second, nil)
	c.ObserveChunk("esmfold", 1, time.Second, errors.New("timeout"))
	c.ObserveChunk("unimol", 30, time.Second, nil)

	body := scrape(t, c)
	assert.Contains(t, body, `helix_dispatch_chunks_total{model="esmfold",status="ok"} 2`)
	assert.Contains(t, body, `helix_dispatch_chunks_total{model="esmfold",status="error"} 1`)
	assert.Contains(t, body, `helix_dispatch_items_total{model="unimol",status="ok"} 30`)
	assert.Contains(t, body, `helix_dispatch_chunk_duration_seconds_count{model="esmfold"} 3`)
}

func TestWorkerMetrics(t *testing.T) {
	c := NewCollector("helix")

	c.ObserveWorkerMessage("chai1", "ok")
	c.SetWorkerLoad(4, 2)

	body := scrape(t, c)
	assert.Contains(t, body, `helix_worker_messages_total{model="chai1",status="ok"} 1`)
	assert.Contains(t, body, "helix_worker_pending_messages 4")
	assert.Contains(t, body, "helix_worker_active_messages 2")
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Separate registries must not collide on registration.
	a := NewCollector("helix")
	b := NewCollector("helix")
	a.ObserveChunk("esm2", 8, time.Second, nil)

	assert.Contains(t, scrape(t, a), `helix_dispatch_chunks_total{model="esm2",status="ok"} 1`)
	assert.NotContains(t, scrape(t, b), `model="esm2"`)
}
