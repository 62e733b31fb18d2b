package models

// Sequence is one parsed FASTA record.
type Sequence struct {
	ID       string `json:"id"`
	Residues string `json:"residues"`
}

// Molecule is a small molecule given as SMILES.
type Molecule struct {
	Smiles string `json:"smiles"`
}
