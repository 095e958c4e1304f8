package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clauselens/clauselens/internal/types"
	"github.com/clauselens/clauselens/internal/verify"
)

// Ref names the contract a run analyzes: an address on a chain, or
// artifacts already in the evidence store.
type Ref struct {
	ChainID     string   `json:"chain_id,omitempty"`
	Address     string   `json:"address,omitempty"`
	ArtifactIDs []string `json:"artifact_ids,omitempty"`
	Name        string   `json:"name,omitempty"`
	Version     string   `json:"version,omitempty"`
}

func (r Ref) request() verify.Request {
	return verify.Request{ChainID: r.ChainID, Address: r.Address, ArtifactIDs: r.ArtifactIDs, Name: r.Name, Version: r.Version}
}

// Identity is the key of the at-most-one-active-run lease. It equals the
// identity the verified snapshot carries.
func (r Ref) Identity() string { return r.request().Identity() }

// Options are the per-run choices a caller makes at submission.
type Options struct {
	Analyzers          []string                     `json:"analyzers,omitempty"`
	ExplainModes       []types.ExplainMode          `json:"explain_modes,omitempty"`
	IncludeDiffAgainst string                       `json:"include_diff_against,omitempty"`
	AnalyzerOptions    map[string]map[string]string `json:"analyzer_options,omitempty"`
	// Questions become free-text synthesis topics next to the symbols.
	Questions []string `json:"questions,omitempty"`
}

// RunError records why a run failed and where.
type RunError struct {
	Stage    State  `json:"stage"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Stage, e.Attempts, e.Message)
}

// Status is the queryable lifecycle view of a run.
type Status struct {
	RunID     string              `json:"run_id"`
	Identity  string              `json:"identity"`
	State     State               `json:"state"`
	Stages    map[State]time.Time `json:"stages"`
	Error     *RunError           `json:"error,omitempty"`
	Cancelled bool                `json:"cancelled,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Results is whatever the run has produced so far. Stages that completed
// before a failure keep their output.
type Results struct {
	RunID      string             `json:"run_id"`
	Identity   string             `json:"identity"`
	State      State              `json:"state"`
	Snapshot   *types.Snapshot    `json:"snapshot,omitempty"`
	Findings   []types.Finding    `json:"findings"`
	Claims     []types.Claim      `json:"claims"`
	Risks      []types.Risk       `json:"risks"`
	Summary    *types.RiskSummary `json:"summary,omitempty"`
	Privileges []types.Privilege  `json:"privileges,omitempty"`
	Diff       *types.Diff        `json:"diff,omitempty"`
	Error      *RunError          `json:"error,omitempty"`
}

// run is owned by one worker at a time; mu guards everything readers see.
type run struct {
	id       string
	identity string
	ref      Ref
	opts     Options

	advancing atomic.Bool
	cancelled atomic.Bool
	finished  atomic.Bool

	mu      sync.Mutex
	state   State
	stages  map[State]time.Time
	created time.Time
	updated time.Time
	err     *RunError
	results Results

	events *eventLog
	done   chan struct{}
}

func newRun(id, identity string, ref Ref, opts Options, now time.Time) *run {
	return &run{
		id:       id,
		identity: identity,
		ref:      ref,
		opts:     opts,
		state:    StateIngested,
		stages:   map[State]time.Time{StateIngested: now},
		created:  now,
		updated:  now,
		results:  Results{RunID: id, Identity: identity},
		events:   newEventLog(),
		done:     make(chan struct{}),
	}
}

func (r *run) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := make(map[State]time.Time, len(r.stages))
	for k, v := range r.stages {
		stages[k] = v
	}
	var rerr *RunError
	if r.err != nil {
		e := *r.err
		rerr = &e
	}
	return Status{
		RunID:     r.id,
		Identity:  r.identity,
		State:     r.state,
		Stages:    stages,
		Error:     rerr,
		Cancelled: r.cancelled.Load(),
		CreatedAt: r.created,
		UpdatedAt: r.updated,
	}
}

func (r *run) snapshotResults() Results {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.results
	res.State = r.state
	res.Findings = append([]types.Finding{}, r.results.Findings...)
	res.Claims = append([]types.Claim{}, r.results.Claims...)
	res.Risks = append([]types.Risk{}, r.results.Risks...)
	if r.err != nil {
		e := *r.err
		res.Error = &e
	}
	return res
}

// update applies fn to the results under the run lock.
func (r *run) update(fn func(*Results)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.results)
}

func (r *run) currentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// stageDurations measures each working state from entry to the next state.
func (r *run) stageDurations() map[string]time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	order := []State{StateVerifying, StateAnalyzing, StateExplaining, StateDiffing}
	out := map[string]time.Duration{}
	for _, s := range order {
		start, ok := r.stages[s]
		if !ok {
			continue
		}
		end := r.updated
		for _, next := range []State{nextOf(s), StateFailed} {
			if t, ok := r.stages[next]; ok {
				end = t
				break
			}
		}
		out[string(s)] = end.Sub(start)
	}
	return out
}

func nextOf(s State) State {
	if s == StateDiffing {
		return StateReported
	}
	return transitions[s][0]
}
