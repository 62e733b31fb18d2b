package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/repository"
	"github.com/aigoflow/helix/internal/store"
	"github.com/aigoflow/helix/pkg/client"
)

// fakeInvoker answers chunk requests in-process.
type fakeInvoker struct {
	mu       sync.Mutex
	subjects []string
	requests []client.ChunkRequest
	handle   func(req *client.ChunkRequest) ([]interface{}, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, subject string, req *client.ChunkRequest) (*client.ChunkResponse, error) {
	f.mu.Lock()
	if req.ReqID == "" {
		req.ReqID = client.NewRequestID()
	}
	f.subjects = append(f.subjects, subject)
	f.requests = append(f.requests, *req)
	f.mu.Unlock()

	outputs, err := f.handle(req)
	if err != nil {
		resp := &client.ChunkResponse{ReqID: req.ReqID, WorkerID: "gpu-0", Error: err.Error()}
		return resp, &client.RemoteError{ReqID: req.ReqID, WorkerID: resp.WorkerID, Message: resp.Error}
	}
	resp := &client.ChunkResponse{ReqID: req.ReqID, WorkerID: "gpu-0"}
	for _, o := range outputs {
		raw, err := json.Marshal(o)
		if err != nil {
			return nil, err
		}
		resp.Outputs = append(resp.Outputs, raw)
	}
	return resp, nil
}

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newBase(t *testing.T, inv client.Invoker) *Base {
	t.Helper()
	return NewBase(capabilities.NewRegistry(), inv, nil, nil, Settings{})
}

func seqs(n int) []models.Sequence {
	out := make([]models.Sequence, n)
	for i := range out {
		out[i] = models.Sequence{ID: fmt.Sprintf("seq%d", i+1), Residues: "MKTAYIAK"}
	}
	return out
}

func caAtom(serial int, bfactor float64) string {
	return fmt.Sprintf("ATOM  %5d %-4s%1s%3s %1s%4d%1s   %8.3f%8.3f%8.3f%6.2f%6.2f           C",
		serial, "CA", "", "ALA", "A", serial, "", 1.0, 2.0, 3.0, 1.0, bfactor)
}

func TestPredictStructuresRejectsUnknownModel(t *testing.T) {
	inv := &fakeInvoker{handle: func(*client.ChunkRequest) ([]interface{}, error) {
		return nil, errors.New("unexpected dispatch")
	}}
	svc := NewStructureService(newBase(t, inv))

	_, err := svc.PredictStructures(context.Background(), seqs(2), StructureOptions{Model: "foldx"})
	require.Error(t, err)

	var unsupported *capabilities.UnsupportedModelError
	require.True(t, errors.As(err, &unsupported))
	assert.Contains(t, err.Error(), "esmfold")
	assert.Zero(t, inv.calls())
}

func TestPredictStructuresDefaultsToESMFold(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		return []interface{}{client.FoldOutput{ID: req.Sequences[0].ID, Format: models.FormatPDB, Body: caAtom(1, 70)}}, nil
	}}
	svc := NewStructureService(newBase(t, inv))

	results, err := svc.PredictStructures(context.Background(), seqs(1), StructureOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Len())
	require.Len(t, inv.subjects, 1)
	assert.Equal(t, "helix.infer.esmfold", inv.subjects[0])
	assert.Equal(t, "esmfold", inv.requests[0].Model)
}

func TestPredictStructuresESMFold(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		body := strings.Join([]string{caAtom(1, 80), caAtom(2, 90)}, "\n")
		return []interface{}{client.FoldOutput{ID: req.Sequences[0].ID, Format: models.FormatPDB, Body: body}}, nil
	}}
	svc := NewStructureService(newBase(t, inv))

	results, err := svc.PredictStructures(context.Background(), seqs(3), StructureOptions{Model: "esmfold"})
	require.NoError(t, err)
	require.Equal(t, 3, results.Len())
	assert.Equal(t, 3, inv.calls())

	ordered := results.Ordered()
	for i, o := range ordered {
		require.True(t, o.OK())
		assert.Equal(t, fmt.Sprintf("seq%d", i+1), o.Value.ID)
		assert.Equal(t, models.FormatPDB, o.Value.Format)
		assert.InDelta(t, 85.0, o.Value.MeanPLDDT, 1e-9)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	assert.Equal(t, "helix.infer.esmfold", inv.subjects[0])
	assert.Equal(t, 64, inv.requests[0].Params["trunk_chunk_size"])
}

func TestPredictStructuresChaiKeepsBestCandidate(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		return []interface{}{client.FoldOutput{
			Format: models.FormatCIF,
			Candidates: []client.FoldCandidate{
				{Body: "model_0", MeanPLDDT: 71.5},
				{Body: "model_1", MeanPLDDT: 88.2},
				{Body: "model_2", MeanPLDDT: 88.2},
			},
		}}, nil
	}}
	svc := NewStructureService(newBase(t, inv))

	results, err := svc.PredictStructures(context.Background(), seqs(1), StructureOptions{Model: "chai1"})
	require.NoError(t, err)

	values := results.Values()
	require.Len(t, values, 1)
	assert.Equal(t, "model_1", values[0].Body)
	assert.Equal(t, models.FormatCIF, values[0].Format)
	assert.Equal(t, 88.2, values[0].MeanPLDDT)
}

func failingFold(failID string) func(req *client.ChunkRequest) ([]interface{}, error) {
	return func(req *client.ChunkRequest) ([]interface{}, error) {
		if req.Sequences[0].ID == failID {
			return nil, errors.New("CUDA out of memory")
		}
		return []interface{}{client.FoldOutput{Format: models.FormatCIF, Body: "data_"}}, nil
	}
}

func TestPredictStructuresToleratesFailedSequence(t *testing.T) {
	svc := NewStructureService(newBase(t, &fakeInvoker{handle: failingFold("seq2")}))

	results, err := svc.PredictStructures(context.Background(), seqs(3), StructureOptions{Model: "esmfold"})
	require.NoError(t, err)
	assert.Equal(t, 2, results.Len())

	failures := results.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "seq2", failures[0].ID)

	var remote *client.RemoteError
	assert.True(t, errors.As(failures[0].Err, &remote))
}

func TestPredictStructuresChaiFailsFast(t *testing.T) {
	svc := NewStructureService(newBase(t, &fakeInvoker{handle: failingFold("seq2")}))

	_, err := svc.PredictStructures(context.Background(), seqs(3), StructureOptions{Model: "chai1"})
	require.Error(t, err)

	var chunkErr *dispatch.ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, []string{"seq2"}, chunkErr.IDs)
}

func TestPredictStructuresFailFastOverride(t *testing.T) {
	svc := NewStructureService(newBase(t, &fakeInvoker{handle: failingFold("seq1")}))

	failFast := false
	results, err := svc.PredictStructures(context.Background(), seqs(2), StructureOptions{Model: "chai1", FailFast: &failFast})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Len())
}

func TestPredictStructuresEmptyBatch(t *testing.T) {
	svc := NewStructureService(newBase(t, &fakeInvoker{}))
	_, err := svc.PredictStructures(context.Background(), nil, StructureOptions{Model: "esmfold"})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestWriteStructures(t *testing.T) {
	svc := NewStructureService(newBase(t, &fakeInvoker{}))
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := svc.WriteStructures(dir, []models.Structure{
		{ID: "seq1", Format: models.FormatPDB, Body: "ATOM"},
		{ID: "seq2", Format: models.FormatCIF, Body: "data_"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "seq1.pdb"), filepath.Join(dir, "seq2.cif")}, paths)
}

func TestEmbedPassesOutputFlags(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		out := make([]interface{}, len(req.Sequences))
		for i := range req.Sequences {
			out[i] = models.Embedding{LastHiddenState: [][]float32{{0.1, 0.2}}, Pooled: []float32{0.15}}
		}
		return out, nil
	}}
	svc := NewEmbeddingService(newBase(t, inv))

	results, err := svc.Embed(context.Background(), seqs(10), EmbeddingOptions{OutputHidden: true})
	require.NoError(t, err)
	assert.Equal(t, 10, results.Len())
	// esm2 carries 8 sequences per call
	assert.Equal(t, 2, inv.calls())

	for _, o := range results.Ordered() {
		assert.Equal(t, o.ID, o.Value.ID)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	assert.Equal(t, true, inv.requests[0].Params["output_hidden_states"])
	assert.Equal(t, false, inv.requests[0].Params["output_attentions"])
}

func TestEmbedHonoursChunkSizeOverride(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		out := make([]interface{}, len(req.Sequences))
		for i := range out {
			out[i] = models.Embedding{Pooled: []float32{1}}
		}
		return out, nil
	}}
	base := NewBase(capabilities.NewRegistry(), inv, nil, nil, Settings{ChunkSize: 3})

	_, err := NewEmbeddingService(base).Embed(context.Background(), seqs(10), EmbeddingOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, inv.calls())
}

func TestPerplexityFromLosses(t *testing.T) {
	ppl, err := PerplexityFromLosses([]client.BatchLoss{
		{MeanLoss: 2.0, Size: 32},
		{MeanLoss: 1.0, Size: 8},
	})
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(72.0/40.0), ppl, 1e-12)

	_, err = PerplexityFromLosses(nil)
	assert.ErrorIs(t, err, ErrNoLosses)
}

func TestPerplexity(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		return []interface{}{client.PerplexityOutput{Batches: []client.BatchLoss{{MeanLoss: math.Log(4), Size: 8}}}}, nil
	}}
	svc := NewPerplexityService(newBase(t, inv))

	got, err := svc.Perplexity(context.Background(), models.Sequence{ID: "wt", Residues: "MKTAYIAK"}, 16)
	require.NoError(t, err)
	assert.Equal(t, "wt", got.ID)
	assert.InDelta(t, 4.0, got.Perplexity, 1e-9)

	inv.mu.Lock()
	defer inv.mu.Unlock()
	assert.Equal(t, 16, inv.requests[0].Params["batch_size"])
}

func TestPerplexityPropagatesErrors(t *testing.T) {
	inv := &fakeInvoker{handle: func(*client.ChunkRequest) ([]interface{}, error) {
		return nil, errors.New("worker lost")
	}}
	svc := NewPerplexityService(newBase(t, inv))

	_, err := svc.Perplexity(context.Background(), models.Sequence{ID: "wt", Residues: "MK"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker lost")
}

func TestPerplexityBatch(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		if req.Sequences[0].ID == "seq3" {
			return nil, errors.New("timeout")
		}
		return []interface{}{client.PerplexityOutput{Batches: []client.BatchLoss{{MeanLoss: 0, Size: 1}}}}, nil
	}}
	svc := NewPerplexityService(newBase(t, inv))

	results, err := svc.PerplexityBatch(context.Background(), seqs(4), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, results.Len())
	for _, v := range results.Values() {
		assert.Equal(t, 1.0, v.Perplexity)
	}
}

func TestEvolveSplitsChainsRemainderFirst(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		n := req.Params["parallel_chains"].(int)
		mu.Lock()
		sizes = append(sizes, n)
		mu.Unlock()

		out := make([]interface{}, n)
		for i := range out {
			switch i % 3 {
			case 0:
				out[i] = client.EvolvedVariant{Sequence: "AKT", Score: 1.5}
			case 1:
				out[i] = client.EvolvedVariant{Sequence: "M K A", Score: 2.0}
			default:
				out[i] = client.EvolvedVariant{Sequence: "MKT", Score: 0.1}
			}
		}
		return out, nil
	}}
	svc := NewEvolutionService(newBase(t, inv))

	opts := DefaultEvolveOptions()
	opts.ParallelChains = 65
	res, err := svc.Evolve(context.Background(), models.Sequence{ID: "wt", Residues: "MKT"}, opts)
	require.NoError(t, err)

	sort.Ints(sizes)
	assert.Equal(t, []int{5, 30, 30}, sizes)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "MKA", res.Records[0].Variant)
	assert.Equal(t, "T3A", res.Records[0].Mutations)
	assert.Equal(t, "AKT", res.Records[1].Variant)
	assert.Equal(t, "esm", res.Records[1].Experts)
	assert.Equal(t, 65, res.Summary.Input)
	assert.Equal(t, 2, res.Summary.Kept)
	assert.Empty(t, res.Failed)
}

func TestEvolveSkipsFailedCalls(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		n := req.Params["parallel_chains"].(int)
		if n == 5 {
			return nil, errors.New("preempted")
		}
		out := make([]interface{}, n)
		for i := range out {
			out[i] = client.EvolvedVariant{Sequence: "AKT", Score: 1}
		}
		return out, nil
	}}
	svc := NewEvolutionService(newBase(t, inv))

	opts := DefaultEvolveOptions()
	opts.ParallelChains = 35
	opts.Experts = []string{"esm", "onehot"}
	res, err := svc.Evolve(context.Background(), models.Sequence{ID: "wt", Residues: "MKT"}, opts)
	require.NoError(t, err)

	require.Len(t, res.Failed, 1)
	assert.Len(t, res.Failed[0].IDs, 5)
	assert.Equal(t, 30, res.Summary.Input)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "esm onehot", res.Records[0].Experts)
}

func TestEvolveRejectsZeroChains(t *testing.T) {
	svc := NewEvolutionService(newBase(t, &fakeInvoker{}))
	opts := DefaultEvolveOptions()
	opts.ParallelChains = 0
	_, err := svc.Evolve(context.Background(), models.Sequence{ID: "wt", Residues: "MKT"}, opts)
	assert.ErrorIs(t, err, ErrInvalidChains)
}

func TestRepresent(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		out := make([]interface{}, len(req.Smiles))
		for i := range out {
			out[i] = models.MoleculeRepr{CLSRepr: []float32{0.5}, AtomicReprs: [][]float32{{0.1}, {0.2}}}
		}
		return out, nil
	}}
	svc := NewMoleculeService(newBase(t, inv))

	smiles := ParseSmiles("CCO\n# comment\n\nc1ccccc1 benzene\n")
	require.Equal(t, []string{"CCO", "c1ccccc1"}, smiles)

	results, err := svc.Represent(context.Background(), smiles, nil)
	require.NoError(t, err)
	require.Equal(t, 2, results.Len())
	ordered := results.Ordered()
	assert.Equal(t, "CCO", ordered[0].Value.Smiles)
	assert.Equal(t, "c1ccccc1", ordered[1].Value.Smiles)
	assert.Len(t, ordered[1].Value.AtomicReprs, 2)
}

func TestCardinalityMismatchFailsChunk(t *testing.T) {
	inv := &fakeInvoker{handle: func(req *client.ChunkRequest) ([]interface{}, error) {
		return []interface{}{models.MoleculeRepr{CLSRepr: []float32{1}}}, nil
	}}
	svc := NewMoleculeService(newBase(t, inv))

	results, err := svc.Represent(context.Background(), []string{"C", "CC"}, nil)
	require.NoError(t, err)
	assert.Zero(t, results.Len())
	require.Len(t, results.ChunkErrors(), 1)
	assert.ErrorIs(t, results.ChunkErrors()[0], dispatch.ErrCardinality)
}

func TestInvocationsAreRecorded(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "helix.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewSQLiteRepository(db)

	inv := &fakeInvoker{handle: failingFold("seq2")}
	base := NewBase(capabilities.NewRegistry(), inv, repo, nil, Settings{})

	_, err = NewStructureService(base).PredictStructures(context.Background(), seqs(2), StructureOptions{Model: "esmfold"})
	require.NoError(t, err)

	logs, err := base.GetInvocationLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	byItem := map[string]*models.InvocationLog{}
	for _, l := range logs {
		byItem[l.ItemIDs] = l
	}
	require.Contains(t, byItem, "seq1")
	require.Contains(t, byItem, "seq2")
	assert.Equal(t, models.StatusOK, byItem["seq1"].Status)
	assert.Equal(t, "gpu-0", byItem["seq1"].WorkerID)
	assert.Equal(t, models.StatusError, byItem["seq2"].Status)
	assert.Equal(t, "gpu-0", byItem["seq2"].WorkerID)
	assert.Contains(t, byItem["seq2"].Error, "CUDA out of memory")
	assert.Equal(t, "esmfold", byItem["seq1"].Model)
	assert.Equal(t, byItem["seq1"].TraceID, byItem["seq2"].TraceID)
}
