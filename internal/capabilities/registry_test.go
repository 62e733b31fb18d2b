package capabilities

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnsupportedSelector(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("foldx", CapabilityStructurePrediction)
	require.Error(t, err)

	var unsupported *UnsupportedModelError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "foldx", unsupported.Name)
	assert.Equal(t, []Model{ModelChai1, ModelESMFold}, unsupported.Supported)
	assert.Contains(t, err.Error(), "esmfold")
	assert.Contains(t, err.Error(), `"foldx"`)
}

func TestResolveWrongCapability(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("esm2", CapabilityStructurePrediction)
	var unsupported *UnsupportedModelError
	require.True(t, errors.As(err, &unsupported))
	assert.NotContains(t, unsupported.Supported, ModelESM2)
}

func TestResolveKnownModel(t *testing.T) {
	r := NewRegistry()

	spec, err := r.Resolve("esmfold", CapabilityStructurePrediction)
	require.NoError(t, err)
	assert.Equal(t, ModelESMFold, spec.Model)
	assert.Equal(t, "helix.infer.esmfold", spec.Subject)
	assert.Equal(t, 1, spec.ChunkSize)
	assert.Equal(t, 2000*time.Second, spec.Timeout)
}

func TestEveryBuiltinIsResolvable(t *testing.T) {
	r := NewRegistry()
	for _, m := range r.Models() {
		spec, ok := r.Lookup(m)
		require.True(t, ok)
		assert.Positive(t, spec.ChunkSize, m)
		assert.Positive(t, spec.Timeout, m)

		resolved, err := r.Resolve(string(m), spec.Capability)
		require.NoError(t, err)
		assert.Equal(t, m, resolved.Model)
	}
	assert.Len(t, r.Models(), 6)
}

func TestMergeParams(t *testing.T) {
	spec := Spec{Params: map[string]interface{}{"a": 1, "b": 2}}
	merged := spec.MergeParams(map[string]interface{}{"b": 3, "c": 4})

	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, 2, spec.Params["b"])
}

func TestLoadCatalog(t *testing.T) {
	doc := `
models:
  esmfold:
    timeout: 45m
    params:
      trunk_chunk_size: 32
  unimol:
    chunk_size: 10
    subject: gpu.a100.unimol
    fail_fast: true
`
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	r, err := LoadCatalog(path)
	require.NoError(t, err)

	fold, _ := r.Lookup(ModelESMFold)
	assert.Equal(t, 45*time.Minute, fold.Timeout)
	assert.Equal(t, 32, fold.Params["trunk_chunk_size"])
	assert.Equal(t, 1, fold.ChunkSize)

	mol, _ := r.Lookup(ModelUniMol)
	assert.Equal(t, 10, mol.ChunkSize)
	assert.Equal(t, "gpu.a100.unimol", mol.Subject)
	assert.True(t, mol.FailFast)
	assert.Equal(t, true, mol.Params["return_atomic_reprs"])
}

func TestApplyRejectsUnknownModel(t *testing.T) {
	r := NewRegistry()
	c, err := ParseCatalog([]byte("models:\n  foldx:\n    chunk_size: 2\n  esmfold:\n    chunk_size: 4\n"))
	require.NoError(t, err)

	err = r.Apply(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foldx")

	fold, _ := r.Lookup(ModelESMFold)
	assert.Equal(t, 1, fold.ChunkSize)
}

func TestLoadCatalogEmptyPath(t *testing.T) {
	r, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, r.Models(), 6)
}
