package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("dispatch: chunk size must be positive")

	// ErrCardinality is returned when a chunk yields a different number of
	// results than it was given items.
	ErrCardinality = errors.New("dispatch: result count does not match chunk size")
)

// ChunkError records the failure of one chunk invocation together with the
// identifiers of the items it carried.
type ChunkError struct {
	Chunk Chunk
	IDs   []string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d [%d:%d] (%s): %v",
		e.Chunk.Index, e.Chunk.Start, e.Chunk.End, strings.Join(e.IDs, ","), e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
