// Package variants turns raw directed-evolution output into a deduplicated,
// ranked and annotated variant table.
package variants

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ErrLengthMismatch is returned when a variant and the wild type differ in
// length. Position-wise comparison is only defined for equal lengths.
var ErrLengthMismatch = errors.New("variants: variant length differs from wild type")

// Raw is one (variant, score) pair produced by an evolution chain.
type Raw struct {
	Sequence string  `json:"sequence"`
	Score    float64 `json:"score"`
}

// RunParams are the evolution settings copied onto every row.
type RunParams struct {
	Experts      []string
	Steps        int
	MaxMutations int
	RandomSeed   *int64
}

// Record is one row of the variant table.
type Record struct {
	Variant      string  `json:"variant"`
	Score        float64 `json:"score"`
	NumMutations int     `json:"num_mutations"`
	Experts      string  `json:"experts"`
	Steps        int     `json:"n_steps"`
	MaxMutations int     `json:"max_mutations"`
	RandomSeed   *int64  `json:"random_seed"`
	ID           string  `json:"id"`
	Mutations    string  `json:"mutations"`
}

// Summary counts what Process did with its input.
type Summary struct {
	Input      int `json:"input"`
	Duplicates int `json:"duplicates"`
	Unmutated  int `json:"unmutated"`
	Rejected   int `json:"rejected"`
	Kept       int `json:"kept"`
}

// Digest returns the content-derived identifier of a variant sequence.
func Digest(sequence string) string {
	sum := sha1.Sum([]byte(sequence))
	return hex.EncodeToString(sum[:])
}

// MutationCount returns the number of positions where variant differs from
// wildType.
func MutationCount(wildType, variant string) (int, error) {
	if len(wildType) != len(variant) {
		return 0, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(variant), len(wildType))
	}
	n := 0
	for i := 0; i < len(wildType); i++ {
		if wildType[i] != variant[i] {
			n++
		}
	}
	return n, nil
}

// MutationList formats the differing positions as "<wt><pos><mut>" entries
// (1-based positions, ascending) joined by ", ".
func MutationList(wildType, variant string) (string, error) {
	if len(wildType) != len(variant) {
		return "", fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(variant), len(wildType))
	}
	var entries []string
	for i := 0; i < len(wildType); i++ {
		if wildType[i] != variant[i] {
			entries = append(entries, fmt.Sprintf("%c%d%c", wildType[i], i+1, variant[i]))
		}
	}
	return strings.Join(entries, ", "), nil
}

// Process builds the variant table: ids are computed, duplicates collapse to
// the first occurrence, unmutated and length-mismatched variants are dropped,
// and rows are sorted by descending score (stable on input order).
func Process(wildType string, raws []Raw, params RunParams) ([]Record, Summary) {
	summary := Summary{Input: len(raws)}
	experts := strings.Join(params.Experts, " ")

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		variant := strings.ReplaceAll(raw.Sequence, " ", "")
		count, err := MutationCount(wildType, variant)
		if err != nil {
			slog.Warn("Rejecting variant", "variant", variant, "error", err)
			summary.Rejected++
			continue
		}
		records = append(records, Record{
			Variant:      variant,
			Score:        raw.Score,
			NumMutations: count,
			Experts:      experts,
			Steps:        params.Steps,
			MaxMutations: params.MaxMutations,
			RandomSeed:   params.RandomSeed,
			ID:           Digest(variant),
		})
	}

	deduped := Dedupe(records)
	summary.Duplicates = len(records) - len(deduped)

	table := deduped[:0]
	for _, r := range deduped {
		if r.NumMutations == 0 {
			summary.Unmutated++
			continue
		}
		// Lengths were checked above.
		r.Mutations, _ = MutationList(wildType, r.Variant)
		table = append(table, r)
	}

	SortByScore(table)
	summary.Kept = len(table)
	return table, summary
}

// Dedupe keeps the first record for every id. It is idempotent.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = Digest(r.Variant)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortByScore orders records by descending score, keeping input order for
// ties.
func SortByScore(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
}
