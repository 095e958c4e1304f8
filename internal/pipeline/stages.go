package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/audit"
	"github.com/clauselens/clauselens/internal/diff"
	"github.com/clauselens/clauselens/internal/risk"
	"github.com/clauselens/clauselens/internal/synth"
	"github.com/clauselens/clauselens/internal/types"
)

const (
	stageVerify  = "verify"
	stageAnalyze = "analyze"
	stageExplain = "explain"
	stageDiff    = "diff"
)

// stage moves a run from active to done. work commits its output to the
// run only on success, so a retried attempt never sees a partial write.
type stage struct {
	name   string
	active State
	done   State
	work   func(ctx context.Context, r *run) (map[string]any, error)
}

func (o *Orchestrator) plan(r *run) []stage {
	st := []stage{
		{stageVerify, StateVerifying, StateVerified, o.verify},
		{stageAnalyze, StateAnalyzing, StateAnalyzed, o.analyze},
		{stageExplain, StateExplaining, StateExplained, o.explain},
	}
	if r.opts.IncludeDiffAgainst != "" {
		st = append(st, stage{stageDiff, StateDiffing, StateReported, o.diff})
	}
	return st
}

func (o *Orchestrator) execute(r *run) {
	if !r.advancing.CompareAndSwap(false, true) {
		return
	}
	defer r.advancing.Store(false)

	ok := true
	for _, st := range o.plan(r) {
		if r.cancelled.Load() || o.ctx.Err() != nil {
			o.fail(r, r.currentState(), types.ErrCancelled, 0)
			ok = false
			break
		}
		if err := o.runStage(r, st); err != nil {
			ok = false
			break
		}
	}
	if ok && r.currentState() != StateReported {
		o.transition(r, StateReported, EventStageCompleted, nil)
	}
	o.finish(r)
}

// runStage enters the stage, retries transient failures with exponential
// backoff under a per-attempt timeout, and records the outcome.
func (o *Orchestrator) runStage(r *run, st stage) error {
	if err := o.transition(r, st.active, EventStageEntered, nil); err != nil {
		o.fail(r, r.currentState(), err, 0)
		return err
	}
	log := o.log.With(zap.String("run_id", r.id), zap.String("stage", st.name))
	timeout := o.cfg.timeout(st.name)
	backoff := o.cfg.Backoff

	var err error
	attempts := 0
	for attempt := 0; attempt <= o.cfg.Retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-o.ctx.Done():
				t.Stop()
				o.fail(r, st.active, types.ErrCancelled, attempts)
				return types.ErrCancelled
			case <-t.C:
			}
			backoff = min(backoff*2, o.cfg.MaxBackoff)
		}
		attempts++
		sctx, cancel := context.WithTimeout(o.ctx, timeout)
		var payload map[string]any
		payload, err = st.work(sctx, r)
		timedOut := errors.Is(sctx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			if payload == nil {
				payload = map[string]any{}
			}
			payload["attempts"] = attempts
			if terr := o.transition(r, st.done, EventStageCompleted, payload); terr != nil {
				o.fail(r, st.active, terr, attempts)
				return terr
			}
			return nil
		}
		if timedOut && !types.IsFatal(err) {
			err = &types.TransientToolError{Tool: st.name, Err: fmt.Errorf("stage timed out after %s", timeout)}
		}
		if o.ctx.Err() != nil {
			err = types.ErrCancelled
			break
		}
		if types.IsFatal(err) || !types.IsTransient(err) {
			break
		}
		if attempt < o.cfg.Retries {
			log.Warn("stage failed, retrying", zap.Error(err), zap.Int("attempt", attempts), zap.Duration("backoff", backoff))
		}
	}
	o.fail(r, st.active, err, attempts)
	return err
}

func (o *Orchestrator) transition(r *run, to State, typ EventType, payload map[string]any) error {
	r.mu.Lock()
	from := r.state
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	now := o.now()
	r.state = to
	r.stages[to] = now
	r.updated = now
	r.events.append(Event{RunID: r.id, Type: typ, Stage: to, Timestamp: now, Payload: payload})
	r.mu.Unlock()

	o.log.Info("run transition", zap.String("run_id", r.id), zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// fail moves the run to FAILED, keeping every result already committed.
func (o *Orchestrator) fail(r *run, at State, err error, attempts int) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	now := o.now()
	r.err = &RunError{Stage: at, Message: err.Error(), Attempts: attempts}
	r.state = StateFailed
	r.stages[StateFailed] = now
	r.updated = now
	r.events.append(Event{RunID: r.id, Type: EventStageFailed, Stage: at, Timestamp: now, Payload: map[string]any{
		"error":    err.Error(),
		"attempts": attempts,
	}})
	r.mu.Unlock()

	var inc *types.AggregationInconsistencyError
	if errors.As(err, &inc) {
		o.log.Error("aggregation inconsistency", zap.String("run_id", r.id), zap.String("risk_id", inc.RiskID), zap.Error(err))
	}
	o.log.Error("run failed", zap.String("run_id", r.id), zap.String("stage", string(at)), zap.Int("attempts", attempts), zap.Error(err))
}

// finish releases the identity lease, writes the audit record, closes the
// event log and wakes waiters, in that order.
func (o *Orchestrator) finish(r *run) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}
	o.leases.release(r.identity, r.id)
	defer close(r.done)
	defer r.events.close()

	st := r.status()
	res := r.snapshotResults()
	o.log.Info("run finished", zap.String("run_id", r.id), zap.String("state", string(st.State)),
		zap.Int("findings", len(res.Findings)), zap.Int("claims", len(res.Claims)), zap.Int("risks", len(res.Risks)))
	if o.deps.Audit == nil {
		return
	}
	out := audit.Outcome{
		RunID:    r.id,
		Identity: r.identity,
		State:    string(st.State),
		Findings: res.Findings,
		Claims:   res.Claims,
		Risks:    res.Risks,
		Duration: st.UpdatedAt.Sub(st.CreatedAt),
		Stages:   r.stageDurations(),
	}
	if st.Error != nil {
		out.FailedStage = string(st.Error.Stage)
		out.Error = st.Error.Message
	}
	if res.Snapshot != nil {
		out.Verification = string(res.Snapshot.VerificationStatus)
	}
	if res.Summary != nil {
		out.OverallScore = res.Summary.OverallScore
	}
	if err := o.deps.Audit.LogRun(audit.CreateRunRecord(out)); err != nil {
		o.log.Warn("audit write failed", zap.Error(err))
	}
}

func (o *Orchestrator) verify(ctx context.Context, r *run) (map[string]any, error) {
	snap, err := o.deps.Verifier.Verify(ctx, r.ref.request())
	if err != nil {
		return nil, err
	}
	r.update(func(res *Results) { res.Snapshot = snap })
	return map[string]any{
		"identity":            snap.Identity,
		"verification_status": string(snap.VerificationStatus),
		"symbols":             len(snap.Symbols),
	}, nil
}

func (o *Orchestrator) analyze(ctx context.Context, r *run) (map[string]any, error) {
	snap := r.snapshotResults().Snapshot
	adapters, err := o.deps.Registry.Select(r.opts.Analyzers)
	if err != nil {
		return nil, &types.FatalIngestionError{Reason: "analyzer selection", Err: err}
	}
	in := analyzer.Input{Snapshot: snap, Options: mergeOptions(o.cfg.AnalyzerOptions, r.opts.AnalyzerOptions)}
	for _, id := range snap.ArtifactIDs {
		art, ok := o.deps.Store.Artifact(id)
		if !ok || art.Kind != types.KindSource {
			continue
		}
		content, _ := o.deps.Store.Content(id)
		in.Sources = append(in.Sources, analyzer.Source{ArtifactID: id, Path: art.Name, Content: content})
	}

	findings := o.deps.Registry.Run(ctx, adapters, in, analyzer.RunOptions{
		Retries:    o.cfg.AnalyzerRetries,
		Backoff:    o.cfg.Backoff,
		MaxBackoff: o.cfg.MaxBackoff,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// preliminary risks from findings alone, replaced once claims exist
	agg := o.deps.Aggregator.Aggregate(findings, nil)
	privileges := risk.Privileges(snap)
	r.update(func(res *Results) {
		res.Findings = findings
		res.Risks = agg.Risks
		res.Summary = &agg.Summary
		res.Privileges = privileges
	})
	unavailable := 0
	for _, f := range findings {
		if f.Synthetic {
			unavailable++
		}
	}
	return map[string]any{
		"adapters":    len(adapters),
		"findings":    len(findings) - unavailable,
		"unavailable": unavailable,
	}, nil
}

// explain publishes claim_produced events only for the attempt that
// succeeds, right before the stage completes.
func (o *Orchestrator) explain(ctx context.Context, r *run) (map[string]any, error) {
	cur := r.snapshotResults()
	var (
		mu      sync.Mutex
		pending []Event
	)
	req := synth.Request{
		Topics:      topics(cur.Snapshot, cur.Findings, r.opts.Questions),
		Modes:       r.opts.ExplainModes,
		ArtifactIDs: o.evidenceScope(cur.Snapshot),
		Caveats:     caveats(cur.Snapshot),
		OnClaim: func(c types.Claim) {
			ev := Event{RunID: r.id, Type: EventClaimProduced, Stage: StateExplaining, Timestamp: o.now(), Payload: map[string]any{
				"claim_id": c.ID,
				"topic":    c.Topic,
				"mode":     string(c.Mode),
				"refused":  c.Refused(),
			}}
			mu.Lock()
			pending = append(pending, ev)
			mu.Unlock()
		},
	}
	claims := o.deps.Explainer.Explain(ctx, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agg := o.deps.Aggregator.Aggregate(cur.Findings, claims)
	if err := risk.Validate(agg.Risks, cur.Findings, claims); err != nil {
		return nil, err
	}
	r.update(func(res *Results) {
		res.Claims = claims
		res.Risks = agg.Risks
		res.Summary = &agg.Summary
	})
	mu.Lock()
	for _, ev := range pending {
		r.events.append(ev)
	}
	pending = nil
	mu.Unlock()
	return map[string]any{
		"claims":   len(claims),
		"refusals": agg.Summary.Refusals,
		"risks":    len(agg.Risks),
	}, nil
}

// evidenceScope is the snapshot's own artifacts plus every standards
// document in the store, which any run may cite.
func (o *Orchestrator) evidenceScope(snap *types.Snapshot) []string {
	ids := append([]string(nil), snap.ArtifactIDs...)
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, art := range o.deps.Store.ArtifactsOfKind(types.KindStandard) {
		if !seen[art.ID] {
			seen[art.ID] = true
			ids = append(ids, art.ID)
		}
	}
	return ids
}

func (o *Orchestrator) diff(_ context.Context, r *run) (map[string]any, error) {
	base, err := o.lookup(r.opts.IncludeDiffAgainst)
	if err != nil {
		return nil, &types.FatalIngestionError{Reason: "diff base", Err: err}
	}
	b := base.snapshotResults()
	if b.State != StateReported {
		return nil, &types.FatalIngestionError{Reason: fmt.Sprintf("diff base %s is %s, not %s", b.RunID, b.State, StateReported)}
	}
	head := r.snapshotResults()
	d, err := diff.Compute(
		diff.Input{RunID: b.RunID, Snapshot: b.Snapshot, Risks: b.Risks},
		diff.Input{RunID: head.RunID, Snapshot: head.Snapshot, Risks: head.Risks},
	)
	if err != nil {
		return nil, &types.FatalIngestionError{Reason: "diff", Err: err}
	}
	r.update(func(res *Results) { res.Diff = d })
	return map[string]any{
		"added_symbols":   len(d.AddedSymbols),
		"removed_symbols": len(d.RemovedSymbols),
		"new_risks":       len(d.NewRisks),
		"resolved_risks":  len(d.ResolvedRisks),
		"incompatible":    d.Incompatible,
	}, nil
}

// topics are the externally callable functions, then findings with no
// symbol, then free-text questions.
func topics(snap *types.Snapshot, findings []types.Finding, questions []string) []synth.Topic {
	var out []synth.Topic
	seen := map[string]bool{}
	for _, fn := range snap.Functions() {
		if fn.Visibility != "public" && fn.Visibility != "external" {
			continue
		}
		switch fn.Name {
		case "", "constructor", "receive", "fallback":
			continue
		}
		if seen[fn.Name] {
			continue
		}
		seen[fn.Name] = true
		sym := fn
		out = append(out, synth.Topic{Name: fn.Name, Symbol: &sym})
	}
	for _, f := range findings {
		if f.Synthetic || f.Symbol != "" {
			continue
		}
		name := "finding:" + f.RuleID
		if seen[name] {
			continue
		}
		seen[name] = true
		finding := f
		out = append(out, synth.Topic{Name: name, Finding: &finding})
	}
	for i, q := range questions {
		out = append(out, synth.Topic{Name: fmt.Sprintf("question:%d", i+1), Question: q})
	}
	return out
}

func caveats(snap *types.Snapshot) []string {
	switch snap.VerificationStatus {
	case types.StatusMismatched:
		c := "source does not match deployed bytecode"
		if snap.VerificationNote != "" {
			c += ": " + snap.VerificationNote
		}
		return []string{c}
	case types.StatusUnverified:
		return []string{"source could not be verified against deployed code"}
	}
	return nil
}

func mergeOptions(base, over map[string]map[string]string) map[string]map[string]string {
	out := map[string]map[string]string{}
	for _, m := range []map[string]map[string]string{base, over} {
		for adapter, kv := range m {
			if out[adapter] == nil {
				out[adapter] = map[string]string{}
			}
			for k, v := range kv {
				out[adapter][k] = v
			}
		}
	}
	return out
}

func sortStatuses(s []Status) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.Before(s[j].CreatedAt)
		}
		return s[i].RunID < s[j].RunID
	})
}
