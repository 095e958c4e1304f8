package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/types"
)

// Registry holds adapters keyed by name. It is read-mostly and safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{adapters: map[string]Adapter{}, log: logging.OrNop(logger).Named("analyzer")}
}

// Register adds an adapter. Names must be unique.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[a.Name()]; dup {
		return fmt.Errorf("adapter %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Select resolves names to adapters in sorted order. No names selects all.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	uniq := map[string]bool{}
	var out []Adapter
	for _, n := range names {
		if uniq[n] {
			continue
		}
		uniq[n] = true
		a, ok := r.adapters[n]
		if !ok {
			return nil, fmt.Errorf("unknown analyzer %q", n)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// RunOptions controls per-adapter retries.
type RunOptions struct {
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Run fans in to every applicable adapter concurrently and waits for all of
// them. An adapter that errors, times out or exhausts its retries
// contributes one synthetic informational finding instead of its results;
// it never affects another adapter. Output is deduplicated, ordered by
// adapter name, and numbered in discovery order.
func (r *Registry) Run(ctx context.Context, adapters []Adapter, in Input, opts RunOptions) []types.Finding {
	results := make([][]types.Finding, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		if !a.Applicable(in) {
			r.log.Debug("adapter not applicable", zap.String("adapter", a.Name()))
			continue
		}
		g.Go(func() error {
			results[i] = r.runOne(ctx, a, in, opts)
			return nil
		})
	}
	_ = g.Wait()

	var all []types.Finding
	for _, rs := range results {
		all = append(all, rs...)
	}
	all = Dedup(all)
	for i := range all {
		all[i].Discovered = i + 1
	}
	return all
}

func (r *Registry) runOne(ctx context.Context, a Adapter, in Input, opts RunOptions) []types.Finding {
	log := r.log.With(zap.String("adapter", a.Name()))
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return []types.Finding{Unavailable(a.Name(), ctx.Err())}
			case <-time.After(backoff):
			}
			backoff *= 2
			if opts.MaxBackoff > 0 && backoff > opts.MaxBackoff {
				backoff = opts.MaxBackoff
			}
		}
		start := time.Now()
		findings, err := attemptRun(ctx, a, in)
		if err == nil {
			log.Info("adapter finished", zap.Int("findings", len(findings)), zap.Duration("took", time.Since(start)), zap.Int("attempt", attempt+1))
			return normalize(a.Name(), findings)
		}
		lastErr = err
		if !types.IsTransient(err) {
			log.Warn("adapter failed", zap.Error(err))
			break
		}
		log.Warn("adapter transient failure", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return []types.Finding{Unavailable(a.Name(), lastErr)}
}

// attemptRun bounds one attempt by the adapter's declared timeout. A
// deadline hit counts as a transient failure. An adapter that ignores its
// context is abandoned when the deadline passes.
func attemptRun(ctx context.Context, a Adapter, in Input) ([]types.Finding, error) {
	timeout := a.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		findings []types.Finding
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("adapter %s panicked: %v", a.Name(), p)}
			}
		}()
		f, err := a.Run(actx, in)
		ch <- result{findings: f, err: err}
	}()

	timedOut := &types.TransientToolError{Tool: a.Name(), Err: fmt.Errorf("timed out after %s", timeout)}
	select {
	case res := <-ch:
		if res.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timedOut
		}
		return res.findings, res.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timedOut
	}
}

func normalize(tool string, findings []types.Finding) []types.Finding {
	out := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		f.Tool = tool
		if !f.Category.Valid() {
			f.Category = types.CatTechnical
		}
		if f.Severity == "" {
			f.Severity = types.SevInfo
		}
		if f.Confidence < 0 {
			f.Confidence = 0
		}
		if f.Confidence > 1 {
			f.Confidence = 1
		}
		f.ID = FindingID(f)
		out = append(out, f)
	}
	return out
}
