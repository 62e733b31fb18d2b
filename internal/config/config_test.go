package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STREAM_NAME", "")
	t.Setenv("WORKER_MODEL", "")
	t.Setenv("MAX_DELIVER", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "HELIX", cfg.Stream)
	assert.Equal(t, "helix.infer.>", cfg.StreamSubject)
	assert.Equal(t, "esmfold", cfg.WorkerModel)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Zero(t, cfg.ChunkSize)
	assert.Equal(t, 1, cfg.MaxDeliver)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HELIX_CHUNK_SIZE", "12")
	t.Setenv("INVOKE_TIMEOUT", "90s")
	t.Setenv("WORKER_MODEL", "chai1")
	t.Setenv("BACKPRESSURE_THRESHOLD", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.ChunkSize)
	assert.Equal(t, 90*time.Second, cfg.InvokeTimeout)
	assert.Equal(t, "chai1", cfg.WorkerModel)
	assert.Equal(t, 8, cfg.BackpressureThreshold)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# worker\nMODEL_CATALOG=\"models.yaml\"\n\nOUTPUT_DIR = results\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// Registered so the values set by the file are restored afterwards.
	t.Setenv("MODEL_CATALOG", "")
	t.Setenv("OUTPUT_DIR", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "models.yaml", cfg.ModelCatalog)
	assert.Equal(t, "results", cfg.OutputDir)
}
