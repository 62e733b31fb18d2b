package variants

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/aigoflow/helix/internal/fasta"
	"github.com/aigoflow/helix/internal/models"
)

var csvHeader = []string{
	"variant", "score", "num_mutations", "experts", "n_steps",
	"max_mutations", "random_seed", "id", "mutations",
}

// WriteCSV writes records with a header row. A nil random seed is written as
// an empty cell.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		seed := ""
		if r.RandomSeed != nil {
			seed = strconv.FormatInt(*r.RandomSeed, 10)
		}
		row := []string{
			r.Variant,
			strconv.FormatFloat(r.Score, 'g', -1, 64),
			strconv.Itoa(r.NumMutations),
			r.Experts,
			strconv.Itoa(r.Steps),
			strconv.Itoa(r.MaxMutations),
			seed,
			r.ID,
			r.Mutations,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFASTA writes one record per variant, named by its id.
func WriteFASTA(w io.Writer, records []Record) error {
	seqs := make([]models.Sequence, len(records))
	for i, r := range records {
		seqs[i] = models.Sequence{ID: r.ID, Residues: r.Variant}
	}
	return fasta.Write(w, seqs)
}

// WriteCSVFile writes the table to path.
func WriteCSVFile(path string, records []Record) error {
	return writeFile(path, records, WriteCSV)
}

// WriteFASTAFile writes the variants to path.
func WriteFASTAFile(path string, records []Record) error {
	return writeFile(path, records, WriteFASTA)
}

func writeFile(path string, records []Record, write func(io.Writer, []Record) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
