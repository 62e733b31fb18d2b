package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/pkg/client"
)

// DefaultMaskBatchSize is the number of masked copies scored per forward pass.
const DefaultMaskBatchSize = 32

// ErrNoLosses is returned when a worker reports no scored batches.
var ErrNoLosses = errors.New("services: no batch losses to average")

// PerplexityService scores sequences with the ESM-2 masked language model.
type PerplexityService struct {
	*Base
}

func NewPerplexityService(base *Base) *PerplexityService {
	return &PerplexityService{Base: base}
}

// PerplexityFromLosses returns exp of the size-weighted mean of per-batch
// mean losses.
func PerplexityFromLosses(batches []client.BatchLoss) (float64, error) {
	var total float64
	var n int
	for _, b := range batches {
		if b.Size <= 0 {
			continue
		}
		total += b.MeanLoss * float64(b.Size)
		n += b.Size
	}
	if n == 0 {
		return 0, ErrNoLosses
	}
	return math.Exp(total / float64(n)), nil
}

// Perplexity scores one sequence in a single remote call. Errors propagate.
func (s *PerplexityService) Perplexity(ctx context.Context, seq models.Sequence, batchSize int) (models.Perplexity, error) {
	spec, err := s.registry.Resolve(string(capabilities.ModelESM2MLM), capabilities.CapabilityPerplexity)
	if err != nil {
		return models.Perplexity{}, err
	}

	opts := s.options(spec, false)
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := &client.ChunkRequest{
		Sequences: []models.Sequence{seq},
		Params:    s.params(spec, batchSize),
	}
	resp, err := s.invoke(ctx, spec, client.NewRequestID(), req, []string{seq.ID})
	if err != nil {
		return models.Perplexity{}, fmt.Errorf("perplexity of %s: %w", seq.ID, err)
	}
	outputs, err := client.DecodeOutputs[client.PerplexityOutput](resp)
	if err != nil {
		return models.Perplexity{}, err
	}
	return perplexityOf(seq, outputs[0])
}

// PerplexityBatch scores many sequences concurrently, tolerating failed
// chunks.
func (s *PerplexityService) PerplexityBatch(ctx context.Context, seqs []models.Sequence, batchSize int) (*dispatch.Results[models.Perplexity], error) {
	spec, err := s.registry.Resolve(string(capabilities.ModelESM2MLM), capabilities.CapabilityPerplexity)
	if err != nil {
		return nil, err
	}

	results, err := runSequences(ctx, s.Base, spec, s.options(spec, true), seqs, s.params(spec, batchSize), perplexityOf)
	if err != nil {
		return nil, err
	}

	slog.Info("Perplexity scoring completed",
		"sequences", len(seqs),
		"scored", results.Len())
	return results, nil
}

func (s *PerplexityService) params(spec capabilities.Spec, batchSize int) map[string]interface{} {
	params := spec.MergeParams(nil)
	if batchSize > 0 {
		params["batch_size"] = batchSize
	}
	return params
}

func perplexityOf(seq models.Sequence, out client.PerplexityOutput) (models.Perplexity, error) {
	ppl, err := PerplexityFromLosses(out.Batches)
	if err != nil {
		return models.Perplexity{}, err
	}
	return models.Perplexity{ID: seq.ID, Perplexity: ppl}, nil
}
