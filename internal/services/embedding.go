package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
)

// EmbeddingOptions controls which ESM-2 outputs are returned.
type EmbeddingOptions struct {
	Model            string
	OutputHidden     bool
	OutputAttentions bool
	Params           map[string]interface{}
}

type EmbeddingService struct {
	*Base
}

func NewEmbeddingService(base *Base) *EmbeddingService {
	return &EmbeddingService{Base: base}
}

// Embed computes ESM-2 representations for every sequence.
func (s *EmbeddingService) Embed(ctx context.Context, seqs []models.Sequence, opts EmbeddingOptions) (*dispatch.Results[models.Embedding], error) {
	if opts.Model == "" {
		opts.Model = string(capabilities.ModelESM2)
	}
	spec, err := s.registry.Resolve(opts.Model, capabilities.CapabilityEmbeddings)
	if err != nil {
		return nil, err
	}

	params := spec.MergeParams(opts.Params)
	params["output_hidden_states"] = opts.OutputHidden
	params["output_attentions"] = opts.OutputAttentions

	results, err := runSequences(ctx, s.Base, spec, s.options(spec, !spec.FailFast), seqs, params,
		func(seq models.Sequence, e models.Embedding) (models.Embedding, error) {
			if len(e.LastHiddenState) == 0 && len(e.Pooled) == 0 {
				return models.Embedding{}, fmt.Errorf("empty embedding")
			}
			e.ID = seq.ID
			return e, nil
		})
	if err != nil {
		return nil, err
	}

	slog.Info("Embedding completed",
		"model", spec.Model,
		"sequences", len(seqs),
		"embeddings", results.Len())
	return results, nil
}
