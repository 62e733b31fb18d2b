package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/variants"
	"github.com/aigoflow/helix/pkg/client"
)

// ErrInvalidChains is returned when fewer than one chain is requested.
var ErrInvalidChains = errors.New("services: parallel chains must be positive")

// EvolveOptions are the directed-evolution run settings.
type EvolveOptions struct {
	Experts          []string
	Steps            int
	ParallelChains   int
	MaxMutations     int
	RandomSeed       *int64
	MaxChainsPerCall int
	Params           map[string]interface{}
}

// DefaultEvolveOptions returns the settings used when none are given.
func DefaultEvolveOptions() EvolveOptions {
	return EvolveOptions{
		Experts:          []string{"esm"},
		Steps:            100,
		ParallelChains:   20,
		MaxMutations:     -1,
		MaxChainsPerCall: 30,
	}
}

// EvolveResult holds the processed variant table.
type EvolveResult struct {
	Records []variants.Record         `json:"records"`
	Summary variants.Summary          `json:"summary"`
	Report  []variants.PositionReport `json:"report"`
	Failed  []*dispatch.ChunkError    `json:"-"`
}

type EvolutionService struct {
	*Base
}

func NewEvolutionService(base *Base) *EvolutionService {
	return &EvolutionService{Base: base}
}

// Evolve runs opts.ParallelChains evolution chains on wildType, split into
// calls of at most MaxChainsPerCall chains, and post-processes the variants.
// Failed calls are logged and skipped.
func (s *EvolutionService) Evolve(ctx context.Context, wildType models.Sequence, opts EvolveOptions) (*EvolveResult, error) {
	spec, err := s.registry.Resolve(string(capabilities.ModelEvoProtGrad), capabilities.CapabilityDirectedEvolution)
	if err != nil {
		return nil, err
	}
	if opts.ParallelChains <= 0 {
		return nil, ErrInvalidChains
	}
	if len(opts.Experts) == 0 {
		opts.Experts = []string{"esm"}
	}

	dopts := s.options(spec, true)
	dopts.Split = dispatch.SplitRemainderFirst
	if opts.MaxChainsPerCall > 0 {
		dopts.ChunkSize = opts.MaxChainsPerCall
	}

	params := spec.MergeParams(opts.Params)
	params["experts"] = opts.Experts
	params["n_steps"] = opts.Steps
	params["max_mutations"] = opts.MaxMutations
	if opts.RandomSeed != nil {
		params["random_seed"] = *opts.RandomSeed
	}

	traceID := client.NewRequestID()
	chains := make([]int, opts.ParallelChains)
	for i := range chains {
		chains[i] = i
	}

	// Each item is one chain; the worker runs len(items) chains on the
	// wild type and returns one best variant per chain.
	invoke := func(ctx context.Context, chunk dispatch.Chunk, items []int) ([]client.EvolvedVariant, error) {
		req := &client.ChunkRequest{
			Sequences: []models.Sequence{wildType},
			Params:    withChains(params, len(items)),
		}
		ids := make([]string, len(items))
		for i, c := range items {
			ids[i] = fmt.Sprintf("%s/chain-%d", wildType.ID, c)
		}
		resp, err := s.invoke(ctx, spec, traceID, req, ids)
		if err != nil {
			return nil, err
		}
		return client.DecodeOutputs[client.EvolvedVariant](resp)
	}
	chainID := func(c int) string { return fmt.Sprintf("chain-%d", c) }

	results, err := dispatch.New(invoke, chainID, dopts).Run(ctx, chains)
	if err != nil {
		return nil, err
	}

	var raws []variants.Raw
	for _, v := range results.Values() {
		raws = append(raws, variants.Raw{Sequence: v.Sequence, Score: v.Score})
	}

	wt := strings.ReplaceAll(wildType.Residues, " ", "")
	records, summary := variants.Process(wt, raws, variants.RunParams{
		Experts:      opts.Experts,
		Steps:        opts.Steps,
		MaxMutations: opts.MaxMutations,
		RandomSeed:   opts.RandomSeed,
	})

	sequences := make([]string, len(records))
	for i, r := range records {
		sequences[i] = r.Variant
	}
	report := variants.MutationReport(wt, sequences)
	for _, p := range report {
		slog.Info("Mutation frequency",
			"position", p.Position,
			"wild_type", p.WildType,
			"mutants", p.Mutants,
			"total", p.Total)
	}

	slog.Info("Directed evolution completed",
		"id", wildType.ID,
		"chains", opts.ParallelChains,
		"variants", summary.Input,
		"kept", summary.Kept,
		"failed_calls", len(results.ChunkErrors()))

	return &EvolveResult{
		Records: records,
		Summary: summary,
		Report:  report,
		Failed:  results.ChunkErrors(),
	}, nil
}

func withChains(params map[string]interface{}, n int) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["parallel_chains"] = n
	return out
}
