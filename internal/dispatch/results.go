package dispatch

import "sort"

// Outcome is the result for one input item: either Value or Err is set.
// Position is the item's index in the submitted batch.
type Outcome[T any] struct {
	Position int
	ID       string
	Chunk    int
	Value    T
	Err      error
}

// OK reports whether the item produced a value.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Results collects outcomes in the order their chunks completed.
type Results[T any] struct {
	total     int
	completed []Outcome[T]
	failed    []*ChunkError
}

func newResults[T any](total int) *Results[T] {
	return &Results[T]{
		total:     total,
		completed: make([]Outcome[T], 0, total),
	}
}

// Total returns the number of submitted items.
func (r *Results[T]) Total() int {
	return r.total
}

// Len returns the number of items that produced a value.
func (r *Results[T]) Len() int {
	n := 0
	for _, o := range r.completed {
		if o.OK() {
			n++
		}
	}
	return n
}

// Completed returns every outcome in chunk completion order, preserving
// order within a chunk.
func (r *Results[T]) Completed() []Outcome[T] {
	out := make([]Outcome[T], len(r.completed))
	copy(out, r.completed)
	return out
}

// Ordered returns every outcome sorted by submission position.
func (r *Results[T]) Ordered() []Outcome[T] {
	out := r.Completed()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

// Values returns the successful values in completion order.
func (r *Results[T]) Values() []T {
	values := make([]T, 0, len(r.completed))
	for _, o := range r.completed {
		if o.OK() {
			values = append(values, o.Value)
		}
	}
	return values
}

// Failures returns the failed outcomes in completion order.
func (r *Results[T]) Failures() []Outcome[T] {
	var failures []Outcome[T]
	for _, o := range r.completed {
		if !o.OK() {
			failures = append(failures, o)
		}
	}
	return failures
}

// ChunkErrors returns one error per failed chunk.
func (r *Results[T]) ChunkErrors() []*ChunkError {
	return r.failed
}
