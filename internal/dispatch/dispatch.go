// Package dispatch fans a batch of inputs out to concurrent remote
// invocations and reassembles the per-item results.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// InvokeFunc runs one chunk remotely. It must return exactly one result per
// item, in item order, or an error for the whole chunk.
type InvokeFunc[I, O any] func(ctx context.Context, chunk Chunk, items []I) ([]O, error)

// IDFunc extracts the identifier used to correlate an item with its outcome.
type IDFunc[I any] func(item I) string

// Observer receives one call per finished chunk.
type Observer interface {
	ObserveChunk(name string, size int, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveChunk(string, int, time.Duration, error) {}

// Options controls how a batch is split and how failures are handled.
type Options struct {
	// Name labels log lines and metrics, usually the model selector.
	Name string
	// ChunkSize is the maximum number of items per invocation.
	ChunkSize int
	// Split defaults to SplitUniform.
	Split SplitFunc
	// TolerateFailures turns chunk failures into failed outcomes instead of
	// aborting the whole batch.
	TolerateFailures bool
	// Timeout bounds each invocation; zero means only ctx applies.
	Timeout  time.Duration
	Observer Observer
}

// Dispatcher runs batches of I through an InvokeFunc producing O.
type Dispatcher[I, O any] struct {
	invoke InvokeFunc[I, O]
	id     IDFunc[I]
	opts   Options
}

// New creates a dispatcher. id may be nil, in which case items are
// identified by their position.
func New[I, O any](invoke InvokeFunc[I, O], id IDFunc[I], opts Options) *Dispatcher[I, O] {
	if opts.Split == nil {
		opts.Split = SplitUniform
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if id == nil {
		id = func(I) string { return "" }
	}
	return &Dispatcher[I, O]{
		invoke: invoke,
		id:     id,
		opts:   opts,
	}
}

type chunkResult[O any] struct {
	chunk  Chunk
	values []O
	err    *ChunkError
}

// Run splits items into chunks, issues every chunk concurrently and blocks
// until all have finished. Without TolerateFailures the first chunk error
// cancels the remaining invocations and is returned.
func (d *Dispatcher[I, O]) Run(ctx context.Context, items []I) (*Results[O], error) {
	chunks, err := d.opts.Split(len(items), d.opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	results := newResults[O](len(items))
	if len(chunks) == 0 {
		return results, nil
	}

	slog.Debug("Dispatching batch",
		"dispatch", d.opts.Name,
		"items", len(items),
		"chunks", len(chunks),
		"tolerate_failures", d.opts.TolerateFailures)

	// Buffered so every goroutine can deliver without a reader; draining
	// after Wait keeps completion order.
	resultChan := make(chan chunkResult[O], len(chunks))
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range chunks {
		c := c
		g.Go(func() error {
			values, cerr := d.call(gctx, c, items[c.Start:c.End])
			resultChan <- chunkResult[O]{chunk: c, values: values, err: cerr}
			if cerr != nil && !d.opts.TolerateFailures {
				return cerr
			}
			return nil
		})
	}

	waitErr := g.Wait()
	close(resultChan)
	if waitErr != nil {
		slog.Error("Batch aborted",
			"dispatch", d.opts.Name,
			"items", len(items),
			"error", waitErr)
		return nil, waitErr
	}

	for r := range resultChan {
		if r.err != nil {
			slog.Warn("Chunk failed",
				"dispatch", d.opts.Name,
				"chunk", r.chunk.Index,
				"ids", r.err.IDs,
				"error", r.err.Err)
			results.failed = append(results.failed, r.err)
			for i := r.chunk.Start; i < r.chunk.End; i++ {
				results.completed = append(results.completed, Outcome[O]{
					Position: i,
					ID:       d.id(items[i]),
					Chunk:    r.chunk.Index,
					Err:      r.err,
				})
			}
			continue
		}
		for j, v := range r.values {
			pos := r.chunk.Start + j
			results.completed = append(results.completed, Outcome[O]{
				Position: pos,
				ID:       d.id(items[pos]),
				Chunk:    r.chunk.Index,
				Value:    v,
			})
		}
	}

	slog.Info("Batch completed",
		"dispatch", d.opts.Name,
		"items", len(items),
		"succeeded", results.Len(),
		"failed_chunks", len(results.failed))

	return results, nil
}

// call runs one chunk with its own deadline and converts panics, errors and
// cardinality mismatches into a ChunkError.
func (d *Dispatcher[I, O]) call(ctx context.Context, c Chunk, items []I) (values []O, cerr *ChunkError) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in chunk invocation: %v", r)
			values = nil
		}
		if err != nil {
			cerr = &ChunkError{Chunk: c, IDs: d.ids(items), Err: err}
		}
		d.opts.Observer.ObserveChunk(d.opts.Name, len(items), time.Since(start), err)
	}()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	values, err = d.invoke(ctx, c, items)
	if err != nil {
		return nil, nil
	}
	if len(values) != len(items) {
		err = fmt.Errorf("%w: got %d, want %d", ErrCardinality, len(values), len(items))
		return nil, nil
	}
	return values, nil
}

func (d *Dispatcher[I, O]) ids(items []I) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = d.id(item)
	}
	return ids
}
