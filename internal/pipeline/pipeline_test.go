package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/analyzer/builtin"
	"github.com/clauselens/clauselens/internal/audit"
	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/retrieval"
	"github.com/clauselens/clauselens/internal/synth"
	"github.com/clauselens/clauselens/internal/types"
	"github.com/clauselens/clauselens/internal/verify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const tokenSrc = `pragma solidity ^0.8.20;
contract Token {
    address public owner;
    bool public paused;
    mapping(address => uint256) public balanceOf;
    modifier onlyOwner() { require(msg.sender == owner, "not owner"); _; }
    function transfer(address to, uint256 amount) external returns (bool) {
        require(!paused);
        balanceOf[msg.sender] -= amount;
        balanceOf[to] += amount;
        return true;
    }
    function pause() external onlyOwner {
        paused = true;
    }
}
`

const tokenV2Src = `pragma solidity ^0.8.20;
contract Token {
    address public owner;
    bool public paused;
    mapping(address => uint256) public balanceOf;
    modifier onlyOwner() { require(msg.sender == owner, "not owner"); _; }
    function transfer(address to, uint256 amount) external returns (bool) {
        require(!paused);
        balanceOf[msg.sender] -= amount;
        balanceOf[to] += amount;
        return true;
    }
    function pause() external onlyOwner {
        paused = true;
    }
    function mint(address to, uint256 amount) external onlyOwner {
        balanceOf[to] += amount;
    }
}
`

type verifierFunc func(ctx context.Context, req verify.Request) (*types.Snapshot, error)

func (f verifierFunc) Verify(ctx context.Context, req verify.Request) (*types.Snapshot, error) {
	return f(ctx, req)
}

type explainerFunc func(ctx context.Context, req synth.Request) []types.Claim

func (f explainerFunc) Explain(ctx context.Context, req synth.Request) []types.Claim {
	return f(ctx, req)
}

// withoutSymbol hides every span when the query is about one symbol.
type withoutSymbol struct {
	inner *retrieval.Retriever
	name  string
}

func (w withoutSymbol) Retrieve(ctx context.Context, q retrieval.Query) ([]types.EvidenceSpan, error) {
	if q.Symbol != nil && q.Symbol.Name == w.name {
		return []types.EvidenceSpan{}, nil
	}
	return w.inner.Retrieve(ctx, q)
}

type stubAdapter struct {
	findings []types.Finding
}

func (s stubAdapter) Name() string                   { return "stub" }
func (s stubAdapter) Timeout() time.Duration         { return time.Second }
func (s stubAdapter) Applicable(analyzer.Input) bool { return true }
func (s stubAdapter) Run(context.Context, analyzer.Input) ([]types.Finding, error) {
	return s.findings, nil
}

func testConfig() Config {
	return Config{
		Workers:      2,
		Retries:      2,
		Backoff:      time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		StageTimeout: 5 * time.Second,
	}
}

func simpleSnapshot() *types.Snapshot {
	return &types.Snapshot{
		Identity:           "local:T",
		Name:               "T",
		VerificationStatus: types.StatusVerified,
		Symbols: []types.Symbol{
			{Kind: types.SymFunction, Name: "transfer", Signature: "transfer(address,uint256)", Visibility: "external"},
		},
	}
}

func okVerifier() Verifier {
	return verifierFunc(func(context.Context, verify.Request) (*types.Snapshot, error) {
		return simpleSnapshot(), nil
	})
}

func noClaims() Explainer {
	return explainerFunc(func(context.Context, synth.Request) []types.Claim { return nil })
}

func stubRegistry(t *testing.T, findings ...types.Finding) *analyzer.Registry {
	t.Helper()
	reg := analyzer.NewRegistry(nil)
	require.NoError(t, reg.Register(stubAdapter{findings: findings}))
	return reg
}

func start(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Store == nil {
		deps.Store = evidence.New(nil)
	}
	if deps.Verifier == nil {
		deps.Verifier = okVerifier()
	}
	if deps.Registry == nil {
		deps.Registry = stubRegistry(t)
	}
	if deps.Explainer == nil {
		deps.Explainer = noClaims()
	}
	o, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func wait(t *testing.T, o *Orchestrator, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := o.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

func collect(t *testing.T, o *Orchestrator, id string, cursor int) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch, err := o.Subscribe(ctx, id, cursor)
	require.NoError(t, err)
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func realDeps(t *testing.T, store *evidence.Store, hide string) Deps {
	t.Helper()
	reg := analyzer.NewRegistry(nil)
	require.NoError(t, reg.Register(builtin.New()))
	ret, err := retrieval.New(store, retrieval.DefaultConfig(), nil)
	require.NoError(t, err)
	var r synth.Retriever = ret
	if hide != "" {
		r = withoutSymbol{inner: ret, name: hide}
	}
	return Deps{
		Store:     store,
		Verifier:  verify.New(store),
		Registry:  reg,
		Explainer: synth.New(r, store, synth.Extractive{}),
	}
}

func put(t *testing.T, store *evidence.Store, src string) types.Artifact {
	t.Helper()
	a, err := store.PutArtifact(context.Background(), []byte(src), types.KindSource, types.OriginUploaded, "Token.sol")
	require.NoError(t, err)
	return a
}

func TestOwnerGatedPauseScenario(t *testing.T) {
	store := evidence.New(nil)
	art := put(t, store, tokenSrc)
	o := start(t, testConfig(), realDeps(t, store, "pause"))

	id, err := o.Submit(context.Background(), Ref{ArtifactIDs: []string{art.ID}}, Options{})
	require.NoError(t, err)
	st := wait(t, o, id)
	require.Equal(t, StateReported, st.State, "%+v", st.Error)

	res, err := o.Results(id)
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, types.StatusVerified, res.Snapshot.VerificationStatus)

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, types.CatAccessControl, f.Category)
	assert.Equal(t, builtin.Name, f.Tool)

	require.Len(t, res.Risks, 1)
	assert.Equal(t, types.CatAccessControl, res.Risks[0].Category)
	assert.Greater(t, res.Risks[0].Score, 0.0)
	assert.Equal(t, []types.RiskSource{{Kind: types.SourceFinding, ID: f.ID}}, res.Risks[0].Sources)

	var transferSpan string
	for _, sp := range store.Spans(art.ID) {
		if sp.Symbol == "transfer" {
			transferSpan = sp.ID
		}
	}
	require.NotEmpty(t, transferSpan)

	claims := map[string]types.Claim{}
	for _, c := range res.Claims {
		claims[c.Topic] = c
	}
	require.Contains(t, claims, "transfer")
	require.Contains(t, claims, "pause")
	assert.False(t, claims["transfer"].Refused())
	assert.Contains(t, claims["transfer"].Citations, transferSpan)
	require.True(t, claims["pause"].Refused())
	assert.Equal(t, types.RefusalInsufficientEvidence, claims["pause"].Refusal.Reason)

	require.NotNil(t, res.Summary)
	assert.Equal(t, "1 finding. 1 risk. 1 refusal.", res.Summary.Text)
	require.Len(t, res.Privileges, 1)
	assert.Equal(t, []string{"pause"}, res.Privileges[0].Symbols)
}

func TestEventsFollowStageOrder(t *testing.T) {
	store := evidence.New(nil)
	art := put(t, store, tokenSrc)
	o := start(t, testConfig(), realDeps(t, store, ""))

	id, err := o.Submit(context.Background(), Ref{ArtifactIDs: []string{art.ID}, Name: "Token"}, Options{})
	require.NoError(t, err)
	wait(t, o, id)

	events := collect(t, o, id, 0)
	var stages []string
	claims := 0
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, id, e.RunID)
		if e.Type == EventClaimProduced {
			claims++
			assert.Equal(t, StateExplaining, e.Stage)
			continue
		}
		stages = append(stages, string(e.Type)+":"+string(e.Stage))
	}
	assert.Equal(t, []string{
		"stage_completed:INGESTED",
		"stage_entered:VERIFYING",
		"stage_completed:VERIFIED",
		"stage_entered:ANALYZING",
		"stage_completed:ANALYZED",
		"stage_entered:EXPLAINING",
		"stage_completed:EXPLAINED",
		"stage_completed:REPORTED",
	}, stages)
	assert.Equal(t, 2, claims)

	tail := collect(t, o, id, 3)
	require.NotEmpty(t, tail)
	assert.Equal(t, 4, tail[0].Seq)

	st, err := o.Status(id)
	require.NoError(t, err)
	for _, s := range []State{StateIngested, StateVerifying, StateVerified, StateAnalyzing, StateAnalyzed, StateExplaining, StateExplained, StateReported} {
		assert.Contains(t, st.Stages, s)
	}
}

func TestAtMostOneActiveRunPerIdentity(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	v := verifierFunc(func(ctx context.Context, _ verify.Request) (*types.Snapshot, error) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return simpleSnapshot(), nil
	})
	o := start(t, testConfig(), Deps{Verifier: v})

	ref := Ref{ArtifactIDs: []string{"sha256:t"}, Name: "T"}
	first, err := o.Submit(context.Background(), ref, Options{})
	require.NoError(t, err)
	second, err := o.Submit(context.Background(), ref, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := o.Submit(context.Background(), Ref{ArtifactIDs: []string{"sha256:u"}, Name: "U"}, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	close(release)
	assert.Equal(t, StateReported, wait(t, o, first).State)
	assert.Equal(t, StateReported, wait(t, o, other).State)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, o.Runs(), 2)

	third, err := o.Submit(context.Background(), ref, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	wait(t, o, third)
}

func TestTransientStageFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	v := verifierFunc(func(context.Context, verify.Request) (*types.Snapshot, error) {
		if calls.Add(1) < 3 {
			return nil, &types.TransientToolError{Tool: "explorer", Err: errors.New("503")}
		}
		return simpleSnapshot(), nil
	})
	o := start(t, testConfig(), Deps{Verifier: v})

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateReported, wait(t, o, id).State)
	assert.Equal(t, int32(3), calls.Load())

	for _, e := range collect(t, o, id, 0) {
		if e.Type == EventStageCompleted && e.Stage == StateVerified {
			assert.Equal(t, 3, e.Payload["attempts"])
		}
	}
}

func TestExhaustedRetriesFailTheRun(t *testing.T) {
	var calls atomic.Int32
	v := verifierFunc(func(context.Context, verify.Request) (*types.Snapshot, error) {
		calls.Add(1)
		return nil, &types.TransientToolError{Tool: "explorer", Err: errors.New("503")}
	})
	o := start(t, testConfig(), Deps{Verifier: v})

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	st := wait(t, o, id)
	assert.Equal(t, StateFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, StateVerifying, st.Error.Stage)
	assert.Equal(t, 3, st.Error.Attempts)
	assert.Contains(t, st.Error.Message, "503")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFatalErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	v := verifierFunc(func(context.Context, verify.Request) (*types.Snapshot, error) {
		calls.Add(1)
		return nil, &types.FatalIngestionError{Reason: "proxy cycle"}
	})
	o := start(t, testConfig(), Deps{Verifier: v})

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	st := wait(t, o, id)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, 1, st.Error.Attempts)
	assert.Equal(t, int32(1), calls.Load())

	events := collect(t, o, id, 0)
	last := events[len(events)-1]
	assert.Equal(t, EventStageFailed, last.Type)
	assert.Equal(t, StateVerifying, last.Stage)
}

func TestPartialResultsSurviveLaterFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Retries = 0
	cfg.StageTimeouts = map[string]time.Duration{stageExplain: 50 * time.Millisecond}
	stuck := explainerFunc(func(ctx context.Context, _ synth.Request) []types.Claim {
		<-ctx.Done()
		return nil
	})
	finding := types.Finding{ID: "f1", RuleID: "r", Title: "r", Symbol: "transfer", Severity: types.SevHigh, Category: types.CatFinancial, Confidence: 0.9}
	o := start(t, cfg, Deps{Explainer: stuck, Registry: stubRegistry(t, finding)})

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	st := wait(t, o, id)
	assert.Equal(t, StateFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, StateExplaining, st.Error.Stage)
	assert.Contains(t, st.Error.Message, "timed out")

	res, err := o.Results(id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	require.NotNil(t, res.Snapshot)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "r", res.Findings[0].RuleID)
	require.Len(t, res.Risks, 1)
	assert.Empty(t, res.Claims)
	require.NotNil(t, res.Error)
}

func TestCancelTakesEffectBetweenStages(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	v := verifierFunc(func(ctx context.Context, _ verify.Request) (*types.Snapshot, error) {
		close(entered)
		<-release
		return simpleSnapshot(), nil
	})
	o := start(t, testConfig(), Deps{Verifier: v})

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	<-entered
	require.NoError(t, o.Cancel(id))
	close(release)

	st := wait(t, o, id)
	assert.Equal(t, StateFailed, st.State)
	assert.True(t, st.Cancelled)
	require.NotNil(t, st.Error)
	assert.Equal(t, StateVerified, st.Error.Stage)
	assert.Equal(t, "cancelled", st.Error.Message)

	res, err := o.Results(id)
	require.NoError(t, err)
	assert.NotNil(t, res.Snapshot)
	assert.Empty(t, res.Findings)

	require.NoError(t, o.Cancel(id))
	require.ErrorIs(t, o.Cancel("nope"), types.ErrRunNotFound)
}

func TestDiffAgainstPriorRun(t *testing.T) {
	store := evidence.New(nil)
	v1 := put(t, store, tokenSrc)
	v2 := put(t, store, tokenV2Src)
	o := start(t, testConfig(), realDeps(t, store, ""))

	base, err := o.Submit(context.Background(), Ref{ArtifactIDs: []string{v1.ID}, Name: "Token"}, Options{})
	require.NoError(t, err)
	require.Equal(t, StateReported, wait(t, o, base).State)

	head, err := o.Submit(context.Background(), Ref{ArtifactIDs: []string{v2.ID}, Name: "Token"}, Options{IncludeDiffAgainst: base})
	require.NoError(t, err)
	st := wait(t, o, head)
	require.Equal(t, StateReported, st.State, "%+v", st.Error)
	assert.Contains(t, st.Stages, StateDiffing)
	assert.NotContains(t, st.Stages, StateFailed)

	res, err := o.Results(head)
	require.NoError(t, err)
	require.NotNil(t, res.Diff)
	assert.Equal(t, base, res.Diff.BaseRunID)
	assert.Equal(t, head, res.Diff.HeadRunID)
	require.Len(t, res.Diff.AddedSymbols, 1)
	assert.Equal(t, "mint", res.Diff.AddedSymbols[0].Name)
	assert.Empty(t, res.Diff.RemovedSymbols)
	require.Len(t, res.Diff.NewRisks, 1)
	assert.Equal(t, "mint", res.Diff.NewRisks[0].Symbol)
	assert.Empty(t, res.Diff.ResolvedRisks)
}

func TestSubmitValidation(t *testing.T) {
	o := start(t, testConfig(), Deps{})
	ctx := context.Background()
	ref := Ref{Name: "T", ArtifactIDs: []string{"x"}}

	_, err := o.Submit(ctx, Ref{}, Options{})
	assert.True(t, types.IsFatal(err))
	_, err = o.Submit(ctx, ref, Options{Analyzers: []string{"nope"}})
	assert.Error(t, err)
	_, err = o.Submit(ctx, ref, Options{ExplainModes: []types.ExplainMode{"poet"}})
	assert.Error(t, err)
	_, err = o.Submit(ctx, ref, Options{IncludeDiffAgainst: "missing"})
	assert.ErrorIs(t, err, types.ErrRunNotFound)

	_, err = o.Status("missing")
	assert.ErrorIs(t, err, types.ErrRunNotFound)
	_, err = o.Results("missing")
	assert.ErrorIs(t, err, types.ErrRunNotFound)
	_, err = o.Subscribe(ctx, "missing", 0)
	assert.ErrorIs(t, err, types.ErrRunNotFound)
}

func TestCloseFailsRunsInFlight(t *testing.T) {
	entered := make(chan struct{}, 1)
	v := verifierFunc(func(ctx context.Context, _ verify.Request) (*types.Snapshot, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig()
	cfg.Workers = 1
	o, err := New(cfg, Deps{Store: evidence.New(nil), Verifier: v, Registry: stubRegistry(t), Explainer: noClaims()})
	require.NoError(t, err)

	busy, err := o.Submit(context.Background(), Ref{Name: "A", ArtifactIDs: []string{"a"}}, Options{})
	require.NoError(t, err)
	<-entered
	queued, err := o.Submit(context.Background(), Ref{Name: "B", ArtifactIDs: []string{"b"}}, Options{})
	require.NoError(t, err)

	require.NoError(t, o.Close())
	for _, id := range []string{busy, queued} {
		st := wait(t, o, id)
		assert.Equal(t, StateFailed, st.State, id)
		assert.Equal(t, "cancelled", st.Error.Message)
	}
	_, err = o.Submit(context.Background(), Ref{Name: "C", ArtifactIDs: []string{"c"}}, Options{})
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, o.Close())
}

func TestImportedRunIsDiffBase(t *testing.T) {
	o := start(t, testConfig(), Deps{})
	prior := Results{RunID: "prior", Identity: "local:T", State: StateReported, Snapshot: &types.Snapshot{Identity: "local:T"}}
	require.NoError(t, o.Import(prior))
	require.Error(t, o.Import(prior))
	require.Error(t, o.Import(Results{RunID: "x", State: StateAnalyzing}))

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{IncludeDiffAgainst: "prior"})
	require.NoError(t, err)
	require.Equal(t, StateReported, wait(t, o, id).State)
	res, err := o.Results(id)
	require.NoError(t, err)
	require.NotNil(t, res.Diff)
	require.Len(t, res.Diff.AddedSymbols, 1)
	assert.Equal(t, "transfer", res.Diff.AddedSymbols[0].Name)
}

func TestSubmitRejectsDiffBaseOfAnotherContract(t *testing.T) {
	o := start(t, testConfig(), Deps{})
	prior := Results{RunID: "prior", Identity: "local:T", State: StateReported, Snapshot: &types.Snapshot{Identity: "local:T"}}
	require.NoError(t, o.Import(prior))

	_, err := o.Submit(context.Background(), Ref{Name: "U", ArtifactIDs: []string{"x"}}, Options{IncludeDiffAgainst: "prior"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local:T")
	assert.Len(t, o.Runs(), 1)
}

func TestRetriedExplainPublishesOnlyKeptClaims(t *testing.T) {
	cfg := testConfig()
	cfg.StageTimeouts = map[string]time.Duration{stageExplain: 50 * time.Millisecond}
	var attempts atomic.Int32
	flaky := explainerFunc(func(ctx context.Context, req synth.Request) []types.Claim {
		n := attempts.Add(1)
		c := types.Claim{ID: fmt.Sprintf("c%d", n), Topic: "transfer", Mode: types.ModeEngineer}
		req.OnClaim(c)
		if n == 1 {
			<-ctx.Done()
			return nil
		}
		return []types.Claim{c}
	})
	o := start(t, cfg, Deps{Explainer: flaky})

	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	require.Equal(t, StateReported, wait(t, o, id).State)
	assert.Equal(t, int32(2), attempts.Load())

	var produced []string
	explained := -1
	for i, e := range collect(t, o, id, 0) {
		switch {
		case e.Type == EventClaimProduced:
			assert.Equal(t, -1, explained, "claim after stage completed")
			produced = append(produced, e.Payload["claim_id"].(string))
		case e.Type == EventStageCompleted && e.Stage == StateExplained:
			explained = i
		}
	}
	assert.Equal(t, []string{"c2"}, produced)
	assert.NotEqual(t, -1, explained)

	res, err := o.Results(id)
	require.NoError(t, err)
	require.Len(t, res.Claims, 1)
	assert.Equal(t, "c2", res.Claims[0].ID)
}

func TestOnChainRunCitesStandardsDocuments(t *testing.T) {
	store := evidence.New(nil)
	ctx := context.Background()
	src, err := store.PutArtifact(ctx, []byte(tokenSrc), types.KindSource, types.OriginFetched, "Token.sol")
	require.NoError(t, err)
	std, err := store.PutArtifact(ctx, []byte("EIP-20 rule: transferFrom must throw unless the allowance covers the amount.\n"), types.KindStandard, types.OriginUploaded, "eip-20.md")
	require.NoError(t, err)

	const addr = "0x00000000000000000000000000000000000000aa"
	deps := realDeps(t, store, "")
	deps.Verifier = verifierFunc(func(context.Context, verify.Request) (*types.Snapshot, error) {
		return &types.Snapshot{
			Identity:           "chain:1:" + addr,
			Name:               "Token",
			Address:            addr,
			ChainID:            "1",
			VerificationStatus: types.StatusVerified,
			ArtifactIDs:        []string{src.ID},
		}, nil
	})
	o := start(t, testConfig(), deps)

	id, err := o.Submit(ctx, Ref{ChainID: "1", Address: addr}, Options{Questions: []string{"transferFrom allowance rule"}})
	require.NoError(t, err)
	require.Equal(t, StateReported, wait(t, o, id).State)

	res, err := o.Results(id)
	require.NoError(t, err)
	var cited bool
	for _, c := range res.Claims {
		if c.Topic != "question:1" {
			continue
		}
		require.False(t, c.Refused(), "question claim was refused")
		for _, sid := range c.Citations {
			sp, ok := store.Span(sid)
			require.True(t, ok)
			if sp.DocumentID == std.ID {
				cited = true
			}
		}
	}
	assert.True(t, cited, "no claim cites the standards document")
}

func TestAuditRecordPerRun(t *testing.T) {
	log := audit.New(filepath.Join(t.TempDir(), "audit.jsonl"))
	o := start(t, testConfig(), Deps{Audit: log})
	id, err := o.Submit(context.Background(), Ref{Name: "T", ArtifactIDs: []string{"x"}}, Options{})
	require.NoError(t, err)
	wait(t, o, id)

	recs, err := log.LoadHistory()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, id, recs[0].RunID)
	assert.Equal(t, "REPORTED", recs[0].State)
	assert.Equal(t, "verified", recs[0].Verification)
}
