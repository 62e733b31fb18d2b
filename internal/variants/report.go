package variants

import "sort"

// PositionReport counts how often each residue replaced the wild type at one
// position across a set of variants.
type PositionReport struct {
	Position int            `json:"position"`
	WildType string         `json:"wild_type"`
	Mutants  map[string]int `json:"mutants"`
	Total    int            `json:"total"`
}

// MutationReport tallies substitutions per 1-based position, ascending.
// Variants whose length differs from the wild type are skipped.
func MutationReport(wildType string, variants []string) []PositionReport {
	byPos := make(map[int]*PositionReport)
	for _, v := range variants {
		if len(v) != len(wildType) {
			continue
		}
		for i := 0; i < len(v); i++ {
			if v[i] == wildType[i] {
				continue
			}
			p, ok := byPos[i+1]
			if !ok {
				p = &PositionReport{
					Position: i + 1,
					WildType: string(wildType[i]),
					Mutants:  make(map[string]int),
				}
				byPos[i+1] = p
			}
			p.Mutants[string(v[i])]++
			p.Total++
		}
	}

	report := make([]PositionReport, 0, len(byPos))
	for _, p := range byPos {
		report = append(report, *p)
	}
	sort.Slice(report, func(i, j int) bool {
		return report[i].Position < report[j].Position
	})
	return report
}
