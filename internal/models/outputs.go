package models

// StructureFormat names the text format of a predicted structure.
type StructureFormat string

const (
	FormatPDB StructureFormat = "pdb"
	FormatCIF StructureFormat = "cif"
)

// Extension returns the file extension used when writing the structure.
func (f StructureFormat) Extension() string {
	if f == FormatCIF {
		return ".cif"
	}
	return ".pdb"
}

// Structure is a predicted 3-D structure for one sequence
type Structure struct {
	ID        string          `json:"id"`
	Format    StructureFormat `json:"format"`
	Body      string          `json:"body"`
	MeanPLDDT float64         `json:"mean_plddt"`
}

// Embedding holds ESM-2 outputs for one sequence. HiddenStates and
// Attentions are only present when requested.
type Embedding struct {
	ID              string          `json:"id"`
	Pooled          []float32       `json:"pooled,omitempty"`
	LastHiddenState [][]float32     `json:"last_hidden_state"`
	HiddenStates    [][][]float32   `json:"hidden_states,omitempty"`
	Attentions      [][][][]float32 `json:"attentions,omitempty"`
}

// Perplexity is the masked-LM pseudo-perplexity of one sequence.
type Perplexity struct {
	ID         string  `json:"id"`
	Perplexity float64 `json:"perplexity"`
}

// MoleculeRepr holds Uni-Mol representations for one molecule.
type MoleculeRepr struct {
	Smiles      string      `json:"smiles"`
	CLSRepr     []float32   `json:"cls_repr"`
	AtomicReprs [][]float32 `json:"atomic_reprs"`
}
