// Package pipeline is the analysis orchestrator: a per-run state machine
// driven by a worker pool, with an identity lease table enforcing at most
// one active run per contract and an append-only event log per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/audit"
	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/risk"
	"github.com/clauselens/clauselens/internal/synth"
	"github.com/clauselens/clauselens/internal/types"
	"github.com/clauselens/clauselens/internal/verify"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("orchestrator closed")

// Verifier is the verification capability.
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) (*types.Snapshot, error)
}

// Explainer is the synthesis capability.
type Explainer interface {
	Explain(ctx context.Context, req synth.Request) []types.Claim
}

// Deps are the components a run is driven through.
type Deps struct {
	Store      *evidence.Store
	Verifier   Verifier
	Registry   *analyzer.Registry
	Explainer  Explainer
	Aggregator *risk.Aggregator
	// Audit, when set, receives one record per finished run.
	Audit  *audit.Log
	Logger *zap.Logger
}

// Config is the scheduling policy.
type Config struct {
	Workers    int
	QueueSize  int
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// StageTimeout applies to stages without an entry in StageTimeouts,
	// which is keyed by verify, analyze, explain and diff.
	StageTimeout    time.Duration
	StageTimeouts   map[string]time.Duration
	AnalyzerRetries int
	AnalyzerOptions map[string]map[string]string
}

// ConfigFrom reads the pipeline and analyzer sections of a config file.
func ConfigFrom(fc config.FileConfig) Config {
	pc := fc.GetPipeline()
	ac := fc.GetAnalyzers()
	base, ceiling := pc.GetBackoff()
	cfg := Config{
		Workers:         pc.GetWorkers(),
		Retries:         pc.GetRetries(),
		Backoff:         base,
		MaxBackoff:      ceiling,
		StageTimeout:    pc.GetStageTimeout(""),
		StageTimeouts:   map[string]time.Duration{},
		AnalyzerRetries: ac.GetRetries(),
		AnalyzerOptions: ac.Options(),
	}
	for _, s := range []string{stageVerify, stageAnalyze, stageExplain, stageDiff} {
		cfg.StageTimeouts[s] = pc.GetStageTimeout(s)
	}
	return cfg
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = config.DefaultBackoffBase
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = config.DefaultBackoffMax
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = config.DefaultStageTimeout
	}
	return c
}

func (c Config) timeout(stage string) time.Duration {
	if d, ok := c.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return c.StageTimeout
}

// Orchestrator schedules runs. All methods are safe for concurrent use.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	mu     sync.RWMutex
	runs   map[string]*run
	leases *leases
	closed bool

	// sendMu lets Close wait out submissions that are mid-enqueue.
	sendMu sync.RWMutex

	queue  chan *run
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New starts the worker pool. Store, Verifier, Registry and Explainer are
// required; a nil Aggregator uses the default severity table.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: evidence store is required")
	case deps.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case deps.Registry == nil:
		return nil, errors.New("pipeline: analyzer registry is required")
	case deps.Explainer == nil:
		return nil, errors.New("pipeline: explainer is required")
	}
	if deps.Aggregator == nil {
		deps.Aggregator = risk.New(nil)
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		log:    logging.OrNop(deps.Logger).Named("pipeline"),
		now:    time.Now,
		runs:   map[string]*run{},
		leases: newLeases(),
		queue:  make(chan *run, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o, nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case r := <-o.queue:
			o.execute(r)
		}
	}
}

// Submit starts a run, or returns the id of the run already active for
// the same identity.
func (o *Orchestrator) Submit(ctx context.Context, ref Ref, opts Options) (string, error) {
	identity := ref.Identity()
	if identity == "" {
		return "", &types.FatalIngestionError{Reason: "reference names neither an address nor artifacts"}
	}
	for _, m := range opts.ExplainModes {
		if !m.Valid() {
			return "", fmt.Errorf("unknown explain mode %q", m)
		}
	}
	if _, err := o.deps.Registry.Select(opts.Analyzers); err != nil {
		return "", err
	}
	if base := opts.IncludeDiffAgainst; base != "" {
		b, err := o.lookup(base)
		if err != nil {
			return "", fmt.Errorf("diff base %s: %w", base, err)
		}
		if prev := b.snapshotResults(); prev.State.Terminal() && prev.Snapshot != nil && prev.Snapshot.Identity != identity {
			return "", fmt.Errorf("diff base %s analyzed %s, not %s", base, prev.Snapshot.Identity, identity)
		}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	r := newRun(uuid.NewString(), identity, ref, opts, o.now())
	if holder, err := o.leases.acquire(identity, r.id); errors.Is(err, types.ErrConcurrencyConflict) {
		o.mu.Unlock()
		o.log.Info("attached to active run", zap.String("identity", identity), zap.String("run_id", holder))
		return holder, nil
	}
	o.runs[r.id] = r
	o.mu.Unlock()

	r.events.append(Event{RunID: r.id, Type: EventStageCompleted, Stage: StateIngested, Timestamp: r.created})
	o.log.Info("run submitted", zap.String("run_id", r.id), zap.String("identity", identity))

	o.sendMu.RLock()
	defer o.sendMu.RUnlock()
	if o.ctx.Err() != nil {
		o.fail(r, StateIngested, types.ErrCancelled, 0)
		o.finish(r)
		return r.id, ErrClosed
	}
	select {
	case o.queue <- r:
		return r.id, nil
	case <-o.ctx.Done():
		o.fail(r, StateIngested, types.ErrCancelled, 0)
		o.finish(r)
		return r.id, ErrClosed
	case <-ctx.Done():
		o.fail(r, StateIngested, ctx.Err(), 0)
		o.finish(r)
		return r.id, ctx.Err()
	}
}

// Import registers a finished run loaded from elsewhere so later runs can
// diff against it.
func (o *Orchestrator) Import(res Results) error {
	if !res.State.Terminal() {
		return fmt.Errorf("import %s: run is %s, not terminal", res.RunID, res.State)
	}
	if res.RunID == "" {
		return errors.New("import: run id is required")
	}
	now := o.now()
	r := newRun(res.RunID, res.Identity, Ref{}, Options{}, now)
	r.state = res.State
	r.stages[res.State] = now
	r.results = res
	r.err = res.Error
	r.finished.Store(true)
	r.events.close()
	close(r.done)

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.runs[res.RunID]; dup {
		return fmt.Errorf("import %s: run already known", res.RunID)
	}
	o.runs[res.RunID] = r
	return nil
}

func (o *Orchestrator) lookup(runID string) (*run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrRunNotFound, runID)
	}
	return r, nil
}

// Status returns the run's state, per-state entry times and error.
func (o *Orchestrator) Status(runID string) (Status, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return Status{}, err
	}
	return r.status(), nil
}

// Results returns the run's output so far.
func (o *Orchestrator) Results(runID string) (Results, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return Results{}, err
	}
	return r.snapshotResults(), nil
}

// Events returns the logged events after cursor and whether the run has
// finished.
func (o *Orchestrator) Events(runID string, cursor int) ([]Event, bool, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return nil, false, err
	}
	evs, closed, _ := r.events.since(cursor)
	return evs, closed, nil
}

// Subscribe streams the run's events after cursor, in order, replaying
// any already logged. The channel closes after the terminal event or when
// ctx ends.
func (o *Orchestrator) Subscribe(ctx context.Context, runID string, cursor int) (<-chan Event, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return nil, err
	}
	return r.events.stream(ctx, cursor), nil
}

// Cancel asks the run to stop before its next stage. A stage already in
// flight finishes or times out first.
func (o *Orchestrator) Cancel(runID string) error {
	r, err := o.lookup(runID)
	if err != nil {
		return err
	}
	if !r.currentState().Terminal() {
		r.cancelled.Store(true)
		o.log.Info("run cancellation requested", zap.String("run_id", runID))
	}
	return nil
}

// Wait blocks until the run is terminal or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (Status, error) {
	r, err := o.lookup(runID)
	if err != nil {
		return Status{}, err
	}
	select {
	case <-r.done:
		return r.status(), nil
	case <-ctx.Done():
		return r.status(), ctx.Err()
	}
}

// Runs lists every known run's status, oldest first.
func (o *Orchestrator) Runs() []Status {
	o.mu.RLock()
	rs := make([]*run, 0, len(o.runs))
	for _, r := range o.runs {
		rs = append(rs, r)
	}
	o.mu.RUnlock()
	out := make([]Status, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.status())
	}
	sortStatuses(out)
	return out
}

// Close stops accepting runs, cancels stages in flight and fails anything
// still queued. It waits for the workers to exit.
func (o *Orchestrator) Close() error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		o.cancel()
		o.sendMu.Lock()
		o.sendMu.Unlock() //nolint:staticcheck // barrier
		o.wg.Wait()
		for {
			select {
			case r := <-o.queue:
				o.fail(r, r.currentState(), types.ErrCancelled, 0)
				o.finish(r)
			default:
				return
			}
		}
	})
	return nil
}
