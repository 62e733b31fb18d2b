// Package structure handles predicted structure files: confidence
// extraction, candidate selection and writing one file per sequence.
package structure

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aigoflow/helix/internal/models"
)

var (
	// ErrNoAtoms is returned when a PDB body has no parsable ATOM records.
	ErrNoAtoms = errors.New("structure: no ATOM records")
	// ErrNoCandidates is returned when there is nothing to select from.
	ErrNoCandidates = errors.New("structure: no candidates")
)

// Candidate is one of several predictions for the same sequence.
type Candidate struct {
	Body      string  `json:"body"`
	MeanPLDDT float64 `json:"mean_plddt"`
}

// MeanPLDDT averages the per-residue confidence stored in the B-factor
// column of a PDB body. Alpha-carbons are used when present so every residue
// counts once; otherwise all atoms are averaged.
func MeanPLDDT(pdb string) (float64, error) {
	var caSum, allSum float64
	var caN, allN int

	scanner := bufio.NewScanner(strings.NewReader(pdb))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			continue
		}
		if len(line) < 66 {
			continue
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(line[60:66]), 64)
		if err != nil {
			continue
		}
		allSum += b
		allN++
		if strings.TrimSpace(line[12:16]) == "CA" {
			caSum += b
			caN++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	switch {
	case caN > 0:
		return caSum / float64(caN), nil
	case allN > 0:
		return allSum / float64(allN), nil
	default:
		return 0, ErrNoAtoms
	}
}

// BestCandidate returns the index of the candidate with the highest mean
// pLDDT; the first wins on ties.
func BestCandidate(candidates []Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, ErrNoCandidates
	}
	best := 0
	for i, c := range candidates[1:] {
		if c.MeanPLDDT > candidates[best].MeanPLDDT {
			best = i + 1
		}
	}
	return best, nil
}

// FileName returns the file name for a structure: its id with path
// separators replaced, plus the format extension.
func FileName(s models.Structure) string {
	name := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_").Replace(s.ID)
	if name == "" || name == "." || name == ".." {
		name = "structure"
	}
	return name + s.Format.Extension()
}

// Write stores s under dir and returns the written path.
func Write(dir string, s models.Structure) (string, error) {
	path := filepath.Join(dir, FileName(s))
	if err := os.WriteFile(path, []byte(s.Body), 0644); err != nil {
		return "", fmt.Errorf("failed to write structure %s: %w", s.ID, err)
	}
	return path, nil
}

// WriteAll creates dir and writes every structure into it.
func WriteAll(dir string, structures []models.Structure) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(structures))
	for _, s := range structures {
		path, err := Write(dir, s)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
