package dispatch

import "fmt"

// Chunk is a contiguous slice [Start, End) of the input batch, issued as one
// remote invocation.
type Chunk struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of items in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// SplitFunc partitions n items into chunks of at most size items.
type SplitFunc func(n, size int) ([]Chunk, error)

// SplitUniform partitions n items into ceil(n/size) chunks in input order.
// Every chunk holds size items except possibly the last.
func SplitUniform(n, size int) ([]Chunk, error) {
	if err := validateSplit(n, size); err != nil {
		return nil, err
	}

	numChunks := (n + size - 1) / size
	chunks := make([]Chunk, numChunks)

	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		chunks[i/size] = Chunk{Index: i / size, Start: i, End: end}
	}
	return chunks, nil
}

// SplitRemainderFirst issues the n%size leftover items as the first chunk,
// followed by n/size full chunks. An empty remainder chunk is not produced,
// so the chunk count is ceil(n/size) as with SplitUniform.
func SplitRemainderFirst(n, size int) ([]Chunk, error) {
	if err := validateSplit(n, size); err != nil {
		return nil, err
	}

	full := n / size
	remainder := n % size

	chunks := make([]Chunk, 0, full+1)
	start := 0
	if remainder > 0 {
		chunks = append(chunks, Chunk{Index: 0, Start: 0, End: remainder})
		start = remainder
	}
	for i := 0; i < full; i++ {
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: start + size})
		start += size
	}
	return chunks, nil
}

func validateSplit(n, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}
	if n < 0 {
		return fmt.Errorf("dispatch: negative item count %d", n)
	}
	return nil
}
