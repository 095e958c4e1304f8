package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/analyzer/factory"
	"github.com/clauselens/clauselens/internal/audit"
	"github.com/clauselens/clauselens/internal/cache"
	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/embedding"
	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/retrieval"
	"github.com/clauselens/clauselens/internal/risk"
	"github.com/clauselens/clauselens/internal/synth"
	"github.com/clauselens/clauselens/internal/types"
	"github.com/clauselens/clauselens/internal/verify"
)

// Re-export selected internal types as a stable public API surface.
type (
	Finding = types.Finding
	Ref     = pipeline.Ref
	Options = pipeline.Options
	Status  = pipeline.Status
	Results = pipeline.Results
)

// Settings are the choices made above the configuration file.
type Settings struct {
	Config config.FileConfig
	// Root locates the default audit trail; empty means the working directory.
	Root    string
	NoCache bool
	Logger  *zap.Logger
}

// Engine is a running pipeline with its evidence store. It embeds the
// orchestrator, so Status, Results, Events, Subscribe, Cancel, Wait and
// Runs are available directly.
type Engine struct {
	*pipeline.Orchestrator

	Store    *evidence.Store
	Registry *analyzer.Registry

	analyzers []string
	cache     *cache.Store
}

// Open builds every component from s.Config and starts the worker pool.
func Open(ctx context.Context, s Settings) (*Engine, error) {
	fc := s.Config
	log := logging.OrNop(s.Logger)

	ec := fc.GetEmbedding()
	emb, err := embedding.New(ctx, embedding.Config{
		Provider:   ec.GetProvider(),
		Model:      ec.GetModel(),
		APIKey:     ec.GetAPIKey(),
		Dimensions: ec.GetDimensions(),
	})
	if err != nil {
		return nil, err
	}

	evc := fc.GetEvidence()
	storeOpts := []evidence.Option{
		evidence.WithLogger(log),
		evidence.WithChunking(evidence.ChunkOptions{Lines: evc.GetChunkLines(), Overlap: evc.GetChunkOverlap()}),
	}
	var store *evidence.Store
	if path := evc.GetDBPath(); path != "" {
		if store, err = evidence.Open(ctx, path, emb, storeOpts...); err != nil {
			return nil, err
		}
	} else {
		store = evidence.New(emb, storeOpts...)
	}

	e, err := assemble(ctx, fc, s, store, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return e, nil
}

func assemble(ctx context.Context, fc config.FileConfig, s Settings, store *evidence.Store, log *zap.Logger) (*Engine, error) {
	vc := fc.GetVerifier()
	vopts := []verify.Option{verify.WithMaxHops(vc.GetMaxProxyHops()), verify.WithLogger(log)}
	if xc := vc.GetExplorer(); xc.GetAPIKey() != "" {
		ex := verify.NewEtherscan(xc.GetAPIKey(), verify.WithBaseURL(xc.GetURL()), verify.WithRateLimit(xc.GetRateLimit()))
		vopts = append(vopts, verify.WithExplorer(ex))
	}
	verifier := verify.New(store, vopts...)

	reg, adapterCache, err := factory.New(factory.Config{Analyzers: fc.GetAnalyzers(), NoCache: s.NoCache, Logger: log})
	if err != nil {
		return nil, err
	}

	ret, err := retrieval.New(store, RetrievalConfig(fc.GetRetrieval()), log)
	if err != nil {
		return nil, err
	}
	sc := fc.GetSynth()
	backend, err := Backend(ctx, sc)
	if err != nil {
		return nil, err
	}
	base, _ := fc.GetPipeline().GetBackoff()
	explainer := synth.New(ret, store, backend,
		synth.WithLogger(log),
		synth.WithRetries(sc.GetMaxRetries(), base),
		synth.WithSupportThreshold(sc.GetSupportThreshold()),
		synth.WithConcurrency(sc.GetConcurrency()),
	)

	table, err := RiskTable(fc.GetRisk())
	if err != nil {
		return nil, err
	}

	var trail *audit.Log
	if ac := fc.GetAudit(); ac.IsEnabled() {
		path := ac.GetPath()
		if path == "" {
			root := s.Root
			if root == "" {
				root, _ = os.Getwd()
			}
			path = audit.DefaultPath(root)
		}
		trail = audit.New(path)
	}

	orch, err := pipeline.New(pipeline.ConfigFrom(fc), pipeline.Deps{
		Store:      store,
		Verifier:   verifier,
		Registry:   reg,
		Explainer:  explainer,
		Aggregator: risk.New(table),
		Audit:      trail,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	log.Debug("engine ready",
		zap.String("synth", backend.Name()),
		zap.String("embedder", store.Embedder().Name()),
		zap.Strings("adapters", reg.Names()))
	return &Engine{
		Orchestrator: orch,
		Store:        store,
		Registry:     reg,
		analyzers:    fc.GetAnalyzers().Enabled,
		cache:        adapterCache,
	}, nil
}

// Submit starts a run. Without an explicit adapter list the configured
// analyzers.enabled selection is used.
func (e *Engine) Submit(ctx context.Context, ref Ref, opts Options) (string, error) {
	if len(opts.Analyzers) == 0 {
		opts.Analyzers = e.analyzers
	}
	return e.Orchestrator.Submit(ctx, ref, opts)
}

// Analyze submits a run and waits for it to finish. A FAILED run is not an
// error here; its Results carry the RunError and any partial output.
func (e *Engine) Analyze(ctx context.Context, ref Ref, opts Options) (Results, error) {
	id, err := e.Submit(ctx, ref, opts)
	if err != nil {
		return Results{}, err
	}
	if _, err := e.Wait(ctx, id); err != nil {
		return Results{}, err
	}
	return e.Results(id)
}

// Close stops the pipeline, flushes the adapter cache and closes the store.
func (e *Engine) Close() error {
	var errs []error
	if err := e.Orchestrator.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush adapter cache: %w", err))
		}
	}
	if err := e.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RetrievalConfig applies configured overrides to retrieval.DefaultConfig.
func RetrievalConfig(c config.RetrievalConfig) retrieval.Config {
	out := retrieval.DefaultConfig()
	if c.LexicalWeight != nil {
		out.LexicalWeight = *c.LexicalWeight
	}
	if c.VectorWeight != nil {
		out.VectorWeight = *c.VectorWeight
	}
	if c.MinScore != nil {
		out.MinScore = *c.MinScore
	}
	if c.Limit != nil {
		out.Limit = *c.Limit
	}
	return out
}

// RiskTable applies configured overrides to risk.DefaultTable.
func RiskTable(c config.RiskConfig) (risk.Table, error) {
	over := make(map[string]risk.Weights, len(c.Severity))
	for name, w := range c.Severity {
		over[name] = risk.Weights{Probability: w.Probability, Impact: w.Impact}
	}
	return risk.DefaultTable().Override(over)
}

// Backend builds the configured synthesis backend.
func Backend(ctx context.Context, c config.SynthConfig) (synth.Backend, error) {
	switch c.GetBackend() {
	case "extractive":
		return synth.Extractive{}, nil
	case "llm":
		return synth.NewLLM(ctx, synth.LLMConfig{BaseURL: c.GetBaseURL(), APIKey: c.GetAPIKey(), Model: c.GetModel()})
	default:
		return nil, fmt.Errorf("unsupported synth backend: %s (use 'extractive' or 'llm')", c.GetBackend())
	}
}
