package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/internal/dispatch"
	"github.com/aigoflow/helix/internal/fasta"
	"github.com/aigoflow/helix/internal/fleet"
	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/services"
	"github.com/aigoflow/helix/internal/variants"
	"github.com/aigoflow/helix/pkg/server"
)

// ErrNoOutput is returned when evolve is given neither a CSV nor a FASTA
// output path.
var ErrNoOutput = errors.New("at least one of -csv or -fasta is required")

// ErrNoInput is returned when a command is given no input file.
var ErrNoInput = errors.New("-in is required")

// ErrNoRecords is returned when an input FASTA file holds no records.
var ErrNoRecords = errors.New("no FASTA records")

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	envFile := fs.String("env", "", "Optional .env file to load")
	return fs, envFile
}

func readSequences(path string) ([]models.Sequence, error) {
	if path == "" {
		return nil, ErrNoInput
	}
	seqs, err := fasta.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoRecords)
	}
	return seqs, nil
}

func writeJSONFile(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func logFailures[T any](res *dispatch.Results[T]) {
	for _, f := range res.Failures() {
		slog.Warn("No result", "id", f.ID, "error", f.Err)
	}
}

func runFold(ctx context.Context, args []string, model string) error {
	fs, envFile := newFlagSet(model)
	in := fs.String("in", "", "FASTA file of sequences to fold")
	out := fs.String("out", "", "Output directory (default OUTPUT_DIR)")
	failFast := fs.Bool("fail-fast", model == string(capabilities.ModelChai1), "Abort on the first failed sequence")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seqs, err := readSequences(*in)
	if err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.svcs.Structure.PredictStructures(ctx, seqs, services.StructureOptions{
		Model:    model,
		FailFast: failFast,
	})
	if err != nil {
		return err
	}
	logFailures(results)

	dir := *out
	if dir == "" {
		dir = a.cfg.OutputDir
	}
	paths, err := a.svcs.Structure.WriteStructures(dir, results.Values())
	if err != nil {
		return err
	}
	slog.Info("Structures written", "dir", dir, "files", len(paths), "failed", len(results.Failures()))
	return nil
}

func runEmbed(ctx context.Context, args []string) error {
	fs, envFile := newFlagSet("embed")
	in := fs.String("in", "", "FASTA file of sequences")
	out := fs.String("out", "embeddings.json", "Output JSON file")
	hidden := fs.Bool("hidden-states", false, "Return all hidden states")
	attentions := fs.Bool("attentions", false, "Return attention maps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seqs, err := readSequences(*in)
	if err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.svcs.Embedding.Embed(ctx, seqs, services.EmbeddingOptions{
		OutputHidden:     *hidden,
		OutputAttentions: *attentions,
	})
	if err != nil {
		return err
	}
	logFailures(results)
	return writeJSONFile(*out, results.Values())
}

func runPerplexity(ctx context.Context, args []string) error {
	fs, envFile := newFlagSet("perplexity")
	in := fs.String("in", "", "FASTA file of sequences")
	out := fs.String("out", "", "Optional output JSON file")
	batchSize := fs.Int("batch-size", services.DefaultMaskBatchSize, "Masked copies scored per forward pass")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seqs, err := readSequences(*in)
	if err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	var scores []models.Perplexity
	if len(seqs) == 1 {
		ppl, err := a.svcs.Perplexity.Perplexity(ctx, seqs[0], *batchSize)
		if err != nil {
			return err
		}
		scores = append(scores, ppl)
	} else {
		results, err := a.svcs.Perplexity.PerplexityBatch(ctx, seqs, *batchSize)
		if err != nil {
			return err
		}
		logFailures(results)
		for _, o := range results.Ordered() {
			if o.OK() {
				scores = append(scores, o.Value)
			}
		}
	}

	for _, s := range scores {
		fmt.Printf("%s\t%.4f\n", s.ID, s.Perplexity)
	}
	if *out != "" {
		return writeJSONFile(*out, scores)
	}
	return nil
}

// evolveFlags are the parsed evolve command flags.
type evolveFlags struct {
	envFile  string
	in       string
	sequence string
	csvPath  string
	fasta    string
	opts     services.EvolveOptions
}

func parseEvolveFlags(args []string) (*evolveFlags, error) {
	fs, envFile := newFlagSet("evolve")
	f := &evolveFlags{opts: services.DefaultEvolveOptions()}
	fs.StringVar(&f.in, "in", "", "FASTA file whose first record is the wild type")
	fs.StringVar(&f.sequence, "seq", "", "Wild-type sequence (instead of -in)")
	fs.StringVar(&f.csvPath, "csv", "", "Write variants as CSV")
	fs.StringVar(&f.fasta, "fasta", "", "Write variants as FASTA")
	experts := fs.String("experts", "esm", "Comma-separated expert names")
	fs.IntVar(&f.opts.Steps, "steps", f.opts.Steps, "Sampler steps per chain")
	fs.IntVar(&f.opts.ParallelChains, "chains", f.opts.ParallelChains, "Number of parallel chains")
	fs.IntVar(&f.opts.MaxMutations, "max-mutations", f.opts.MaxMutations, "Maximum mutations per variant (-1 for no limit)")
	fs.IntVar(&f.opts.MaxChainsPerCall, "max-chains-per-call", f.opts.MaxChainsPerCall, "Chains per remote call")
	seed := fs.Int64("seed", -1, "Random seed (-1 for none)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.envFile = *envFile
	if f.csvPath == "" && f.fasta == "" {
		return nil, ErrNoOutput
	}
	if f.in == "" && f.sequence == "" {
		return nil, errors.New("one of -in or -seq is required")
	}
	f.opts.Experts = nil
	for _, e := range strings.Split(*experts, ",") {
		if e = strings.TrimSpace(e); e != "" {
			f.opts.Experts = append(f.opts.Experts, e)
		}
	}
	if *seed >= 0 {
		f.opts.RandomSeed = seed
	}
	return f, nil
}

func runEvolve(ctx context.Context, args []string) error {
	f, err := parseEvolveFlags(args)
	if err != nil {
		return err
	}

	wildType := models.Sequence{ID: "wild_type", Residues: f.sequence}
	if f.in != "" {
		seqs, err := readSequences(f.in)
		if err != nil {
			return err
		}
		wildType = seqs[0]
	}

	a, err := newApp(f.envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.svcs.Evolution.Evolve(ctx, wildType, f.opts)
	if err != nil {
		return err
	}

	if f.csvPath != "" {
		if err := variants.WriteCSVFile(f.csvPath, result.Records); err != nil {
			return err
		}
		slog.Info("Variants written", "format", "csv", "path", f.csvPath, "rows", len(result.Records))
	}
	if f.fasta != "" {
		if err := variants.WriteFASTAFile(f.fasta, result.Records); err != nil {
			return err
		}
		slog.Info("Variants written", "format", "fasta", "path", f.fasta, "rows", len(result.Records))
	}
	return nil
}

func runUniMol(ctx context.Context, args []string) error {
	fs, envFile := newFlagSet("unimol")
	in := fs.String("in", "", "File with one SMILES string per line")
	out := fs.String("out", "unimol.json", "Output JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return ErrNoInput
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.svcs.Molecule.Represent(ctx, services.ParseSmiles(string(data)), nil)
	if err != nil {
		return err
	}
	logFailures(results)
	return writeJSONFile(*out, results.Values())
}

func runHealth(ctx context.Context, args []string) error {
	fs, envFile := newFlagSet("health")
	model := fs.String("model", "", "Model to query (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	targets := a.svcs.Base.Registry().Models()
	if *model != "" {
		if _, ok := a.svcs.Base.Registry().Lookup(capabilities.Model(*model)); !ok {
			return fmt.Errorf("unknown model %q; known models are: %v", *model, targets)
		}
		targets = []capabilities.Model{capabilities.Model(*model)}
	}

	enc := json.NewEncoder(os.Stdout)
	for _, m := range targets {
		status, err := a.nc.CheckHealth(ctx, string(m))
		if err != nil {
			slog.Warn("Worker unreachable", "model", m, "error", err)
			continue
		}
		_ = enc.Encode(status)
	}
	return nil
}

func printWorkers(workers []fleet.Worker) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tWORKER\tSTATUS\tPENDING\tACTIVE\tUPTIME\tLAST SEEN")
	for _, w := range workers {
		var pending, active int64
		if w.Backpressure != nil {
			pending = w.Backpressure.PendingMessages
			active = w.Backpressure.ActiveProcessing
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			w.Model, w.WorkerID, w.Status, pending, active,
			w.Uptime.Truncate(time.Second), w.LastSeen.Format(time.RFC3339))
	}
	tw.Flush()
}

func runMonitor(ctx context.Context, args []string) error {
	fs, envFile := newFlagSet("monitor")
	once := fs.Bool("once", false, "Discover workers once, print them and exit")
	interval := fs.Duration("interval", 10*time.Second, "Refresh interval")
	staleAfter := fs.Duration("stale-after", 2*time.Minute, "Mark workers offline after this much silence")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	f := fleet.New(a.nc.Conn(), a.cfg.MonitoringTopic, *staleAfter)
	targets := a.svcs.Base.Registry().Models()
	if *once {
		f.Discover(ctx, targets)
		printWorkers(f.Workers())
		return nil
	}

	if err := f.Start(ctx); err != nil {
		return err
	}
	f.Discover(ctx, targets)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		printWorkers(f.Workers())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runServe(ctx context.Context, args []string) error {
	fs, envFile := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(*envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	f := fleet.New(a.nc.Conn(), a.cfg.MonitoringTopic, 4*a.cfg.HeartbeatInterval)
	if err := f.Start(ctx); err != nil {
		return err
	}
	go f.Discover(ctx, a.svcs.Base.Registry().Models())

	a.db.LogEvent("info", "server.ready", "HTTP API ready", map[string]interface{}{
		"http_addr": a.cfg.HTTPAddr,
		"nats_url":  a.cfg.NatsURL,
		"catalog":   a.cfg.ModelCatalog,
	})

	return server.NewServer(a.cfg.HTTPAddr, a.svcs, a.collector.Handler()).WithFleet(f).Start(ctx)
}
