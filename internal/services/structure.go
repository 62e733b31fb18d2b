package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/structure"
	"github.com/aigoflow/helix/pkg/client"
)

// StructureOptions selects the folding model, esmfold when empty. FailFast
// overrides the model's default failure policy when set.
type StructureOptions struct {
	Model    string
	Params   map[string]interface{}
	FailFast *bool
}

// StructureService predicts 3-D structures with ESMFold or Chai-1.
type StructureService struct {
	*Base
}

func NewStructureService(base *Base) *StructureService {
	return &StructureService{Base: base}
}

// PredictStructures folds every sequence, one sequence per remote call.
// Unknown selectors fail before anything is dispatched.
func (s *StructureService) PredictStructures(ctx context.Context, seqs []models.Sequence, opts StructureOptions) (*dispatch.Results[models.Structure], error) {
	if opts.Model == "" {
		opts.Model = string(capabilities.ModelESMFold)
	}
	spec, err := s.registry.Resolve(opts.Model, capabilities.CapabilityStructurePrediction)
	if err != nil {
		return nil, err
	}

	failFast := spec.FailFast
	if opts.FailFast != nil {
		failFast = *opts.FailFast
	}

	results, err := runSequences(ctx, s.Base, spec, s.options(spec, !failFast), seqs, spec.MergeParams(opts.Params), foldedStructure)
	if err != nil {
		return nil, err
	}

	slog.Info("Structure prediction completed",
		"model", spec.Model,
		"sequences", len(seqs),
		"structures", results.Len())
	return results, nil
}

// WriteStructures writes one <id>.pdb or <id>.cif file per structure into dir.
func (s *StructureService) WriteStructures(dir string, structures []models.Structure) ([]string, error) {
	return structure.WriteAll(dir, structures)
}

// foldedStructure turns a worker output into a Structure. Multiple candidates
// collapse to the one with the highest mean pLDDT.
func foldedStructure(seq models.Sequence, out client.FoldOutput) (models.Structure, error) {
	st := models.Structure{ID: seq.ID, Format: out.Format}
	if st.Format == "" {
		st.Format = models.FormatPDB
	}

	if len(out.Candidates) > 0 {
		candidates := make([]structure.Candidate, len(out.Candidates))
		for i, c := range out.Candidates {
			candidates[i] = structure.Candidate{Body: c.Body, MeanPLDDT: c.MeanPLDDT}
		}
		best, err := structure.BestCandidate(candidates)
		if err != nil {
			return models.Structure{}, err
		}
		slog.Debug("Selected best candidate",
			"id", seq.ID,
			"candidate", best,
			"candidates", len(candidates),
			"mean_plddt", candidates[best].MeanPLDDT)
		st.Body = candidates[best].Body
		st.MeanPLDDT = candidates[best].MeanPLDDT
		return st, nil
	}

	if out.Body == "" {
		return models.Structure{}, fmt.Errorf("empty structure body")
	}
	st.Body = out.Body
	if st.Format == models.FormatPDB {
		plddt, err := structure.MeanPLDDT(out.Body)
		if err != nil {
			return models.Structure{}, err
		}
		st.MeanPLDDT = plddt
	}
	return st, nil
}
