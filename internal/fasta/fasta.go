// Package fasta reads and writes FASTA sequence files.
package fasta

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aigoflow/helix/internal/models"
)

var (
	// ErrNoHeader is returned when sequence data appears before any '>' line.
	ErrNoHeader = errors.New("fasta: sequence data before first header")
	// ErrEmptyID is returned for a header line without an identifier.
	ErrEmptyID = errors.New("fasta: header without identifier")
)

const maxLineSize = 1 << 20

// Parse reads every record from r. The record id is the first
// whitespace-delimited word of the header; the rest of the header is
// ignored. Sequence lines are concatenated with whitespace removed.
func Parse(r io.Reader) ([]models.Sequence, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		records []models.Sequence
		current *models.Sequence
		body    strings.Builder
		lineNo  int
	)

	flush := func() {
		if current != nil {
			current.Residues = body.String()
			records = append(records, *current)
			body.Reset()
		}
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, ">") {
			flush()
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w (line %d)", ErrEmptyID, lineNo)
			}
			current = &models.Sequence{ID: fields[0]}
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("%w (line %d)", ErrNoHeader, lineNo)
		}
		for _, f := range strings.Fields(line) {
			body.WriteString(f)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FASTA: %w", err)
	}

	flush()
	return records, nil
}

// ParseFile opens path and parses it.
func ParseFile(path string) ([]models.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Write emits one record per sequence, with the sequence on a single line.
func Write(w io.Writer, records []models.Sequence) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if r.ID == "" {
			return ErrEmptyID
		}
		if _, err := fmt.Fprintf(bw, ">%s\n%s\n", r.ID, r.Residues); err != nil {
			return err
		}
	}
	return bw.Flush()
}
