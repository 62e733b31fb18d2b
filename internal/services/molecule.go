package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/pkg/client"
)

type MoleculeService struct {
	*Base
}

func NewMoleculeService(base *Base) *MoleculeService {
	return &MoleculeService{Base: base}
}

// Represent computes Uni-Mol CLS and atomic representations for every
// SMILES string.
func (s *MoleculeService) Represent(ctx context.Context, smiles []string, params map[string]interface{}) (*dispatch.Results[models.MoleculeRepr], error) {
	spec, err := s.registry.Resolve(string(capabilities.ModelUniMol), capabilities.CapabilityMolecularRepr)
	if err != nil {
		return nil, err
	}
	if len(smiles) == 0 {
		return nil, ErrEmptyBatch
	}

	merged := spec.MergeParams(params)
	traceID := client.NewRequestID()

	invoke := func(ctx context.Context, chunk dispatch.Chunk, items []string) ([]models.MoleculeRepr, error) {
		req := &client.ChunkRequest{Smiles: items, Params: merged}
		resp, err := s.invoke(ctx, spec, traceID, req, items)
		if err != nil {
			return nil, err
		}
		reprs, err := client.DecodeOutputs[models.MoleculeRepr](resp)
		if err != nil {
			return nil, err
		}
		for i := range reprs {
			if len(reprs[i].CLSRepr) == 0 {
				return nil, fmt.Errorf("%s: empty representation", items[i])
			}
			reprs[i].Smiles = items[i]
		}
		return reprs, nil
	}
	id := func(smi string) string { return smi }

	results, err := dispatch.New(invoke, id, s.options(spec, !spec.FailFast)).Run(ctx, smiles)
	if err != nil {
		return nil, err
	}

	slog.Info("Molecular representation completed",
		"molecules", len(smiles),
		"represented", results.Len())
	return results, nil
}

// ParseSmiles reads one SMILES string per line, skipping blanks and '#'
// comments.
func ParseSmiles(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.Fields(line)[0])
	}
	return out
}
