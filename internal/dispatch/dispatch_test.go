package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id string
}

func itemID(it item) string { return it.id }

func makeItems(n int) []item {
	items := make([]item, n)
	for i := range items {
		items[i] = item{id: fmt.Sprintf("seq%d", i+1)}
	}
	return items
}

// echo returns each item's id upper-cased, failing the chunks listed in fail.
func echo(fail map[int]bool) InvokeFunc[item, string] {
	return func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		if fail[c.Index] {
			return nil, fmt.Errorf("device unavailable")
		}
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = strings.ToUpper(it.id)
		}
		return out, nil
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

type recordingObserver struct {
	mu     sync.Mutex
	sizes  []int
	errors int
}

func (o *recordingObserver) ObserveChunk(name string, size int, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sizes = append(o.sizes, size)
	if err != nil {
		o.errors++
	}
}

func TestRunToleratesChunkFailure(t *testing.T) {
	logs := captureLogs(t)
	obs := &recordingObserver{}

	d := New(echo(map[int]bool{1: true}), itemID, Options{
		Name:             "esmfold",
		ChunkSize:        30,
		TolerateFailures: true,
		Observer:         obs,
	})

	results, err := d.Run(context.Background(), makeItems(65))
	require.NoError(t, err)

	assert.Equal(t, 65, results.Total())
	assert.Equal(t, 35, results.Len())
	assert.Len(t, results.Values(), 35)
	assert.Len(t, results.Failures(), 30)
	require.Len(t, results.ChunkErrors(), 1)

	chunkErr := results.ChunkErrors()[0]
	assert.Equal(t, 1, chunkErr.Chunk.Index)
	assert.Equal(t, "seq31", chunkErr.IDs[0])
	assert.Equal(t, "seq60", chunkErr.IDs[29])

	for _, f := range results.Failures() {
		assert.GreaterOrEqual(t, f.Position, 30)
		assert.Less(t, f.Position, 60)
	}

	assert.Equal(t, 1, strings.Count(logs.String(), "Chunk failed"))
	assert.Contains(t, logs.String(), "device unavailable")
	assert.Equal(t, 1, obs.errors)
	assert.ElementsMatch(t, []int{30, 30, 5}, obs.sizes)
}

func TestRunFailFastAbortsBatch(t *testing.T) {
	d := New(echo(map[int]bool{2: true}), itemID, Options{
		Name:      "chai1",
		ChunkSize: 10,
	})

	results, err := d.Run(context.Background(), makeItems(25))
	require.Error(t, err)
	assert.Nil(t, results)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 2, chunkErr.Chunk.Index)
	assert.Equal(t, []string{"seq21", "seq22", "seq23", "seq24", "seq25"}, chunkErr.IDs)
}

func TestRunFailFastCancelsSiblings(t *testing.T) {
	var cancelled atomic.Int32
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		if c.Index == 0 {
			return nil, errors.New("boom")
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return make([]string, len(items)), nil
		}
	}

	d := New(invoke, itemID, Options{ChunkSize: 1})
	_, err := d.Run(context.Background(), makeItems(4))
	require.Error(t, err)
	assert.Equal(t, int32(3), cancelled.Load())
}

func TestRunIssuesChunksConcurrently(t *testing.T) {
	const chunks = 4
	var entered atomic.Int32
	allIn := make(chan struct{})

	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		if entered.Add(1) == chunks {
			close(allIn)
		}
		select {
		case <-allIn:
			return make([]string, len(items)), nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("chunks were not issued concurrently")
		}
	}

	d := New(invoke, itemID, Options{ChunkSize: 2})
	results, err := d.Run(context.Background(), makeItems(chunks*2))
	require.NoError(t, err)
	assert.Equal(t, chunks*2, results.Len())
}

func TestRunTimeoutIsChunkFailure(t *testing.T) {
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		if c.Index == 0 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return make([]string, len(items)), nil
	}

	d := New(invoke, itemID, Options{
		ChunkSize:        1,
		TolerateFailures: true,
		Timeout:          20 * time.Millisecond,
	})

	results, err := d.Run(context.Background(), makeItems(3))
	require.NoError(t, err)
	assert.Equal(t, 2, results.Len())
	require.Len(t, results.ChunkErrors(), 1)
	assert.True(t, errors.Is(results.ChunkErrors()[0], context.DeadlineExceeded))
}

func TestRunRecoversPanic(t *testing.T) {
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		if c.Index == 1 {
			panic("worker crashed")
		}
		return make([]string, len(items)), nil
	}

	d := New(invoke, itemID, Options{ChunkSize: 2, TolerateFailures: true})
	results, err := d.Run(context.Background(), makeItems(4))
	require.NoError(t, err)
	assert.Equal(t, 2, results.Len())
	require.Len(t, results.ChunkErrors(), 1)
	assert.Contains(t, results.ChunkErrors()[0].Error(), "worker crashed")
}

func TestRunCardinalityMismatch(t *testing.T) {
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		return []string{"only-one"}, nil
	}

	d := New(invoke, itemID, Options{ChunkSize: 3, TolerateFailures: true})
	results, err := d.Run(context.Background(), makeItems(3))
	require.NoError(t, err)
	assert.Equal(t, 0, results.Len())
	require.Len(t, results.ChunkErrors(), 1)
	assert.True(t, errors.Is(results.ChunkErrors()[0], ErrCardinality))
}

func TestRunEmptyBatch(t *testing.T) {
	called := false
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		called = true
		return nil, nil
	}

	d := New(invoke, itemID, Options{ChunkSize: 30})
	results, err := d.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 0, results.Total())
	assert.Empty(t, results.Values())
}

func TestRunInvalidChunkSize(t *testing.T) {
	d := New(echo(nil), itemID, Options{ChunkSize: 0})
	_, err := d.Run(context.Background(), makeItems(3))
	assert.True(t, errors.Is(err, ErrInvalidChunkSize))
}

func TestOrderedRestoresSubmissionOrder(t *testing.T) {
	// Later chunks finish first.
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		time.Sleep(time.Duration(3-c.Index) * 15 * time.Millisecond)
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.id
		}
		return out, nil
	}

	d := New(invoke, itemID, Options{ChunkSize: 2})
	results, err := d.Run(context.Background(), makeItems(6))
	require.NoError(t, err)

	ordered := results.Ordered()
	require.Len(t, ordered, 6)
	for i, o := range ordered {
		assert.Equal(t, i, o.Position)
		assert.Equal(t, fmt.Sprintf("seq%d", i+1), o.ID)
		assert.Equal(t, o.ID, o.Value)
	}

	// Intra-chunk order is preserved in completion order too.
	completed := results.Completed()
	for i := 0; i+1 < len(completed); i += 2 {
		assert.Equal(t, completed[i].Chunk, completed[i+1].Chunk)
		assert.Less(t, completed[i].Position, completed[i+1].Position)
	}
}

func TestRemainderFirstSplitOption(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	invoke := func(ctx context.Context, c Chunk, items []item) ([]string, error) {
		mu.Lock()
		sizes = append(sizes, c.Len())
		mu.Unlock()
		return make([]string, len(items)), nil
	}

	d := New(invoke, nil, Options{ChunkSize: 30, Split: SplitRemainderFirst})
	results, err := d.Run(context.Background(), makeItems(65))
	require.NoError(t, err)
	assert.Equal(t, 65, results.Len())
	assert.ElementsMatch(t, []int{5, 30, 30}, sizes)
}
