package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workerEnv(t *testing.T, natsURL string) {
	t.Helper()
	t.Setenv("NATS_URL", natsURL)
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "worker.sqlite"))
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("WORKER_MODEL", "esmfold")
	t.Setenv("MODEL_CATALOG", "")
}

func TestRunFailsWithoutJetStream(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()
	workerEnv(t, srv.ClientURL())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ensure stream")
}

func TestRunRejectsUnknownModel(t *testing.T) {
	workerEnv(t, "nats://127.0.0.1:1")
	t.Setenv("WORKER_MODEL", "foldx")

	err := run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foldx")
}
