package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/solidity"
	"github.com/clauselens/clauselens/internal/types"
)

func finding(id, rule, symbol string, cat types.Category, sev types.Severity, n int) types.Finding {
	return types.Finding{ID: id, Tool: "patterns", RuleID: rule, Title: rule, Symbol: symbol, Category: cat, Severity: sev, Confidence: 0.9, Discovered: n}
}

func TestAggregateOwnerGatedPause(t *testing.T) {
	findings := []types.Finding{
		finding("f1", "privileged-function", "pause", types.CatAccessControl, types.SevMed, 1),
		{ID: "f2", Tool: "slither", RuleID: "tool-unavailable", Severity: types.SevInfo, Category: types.CatInformational, Synthetic: true, Discovered: 2},
	}
	claims := []types.Claim{
		{ID: "c1", Topic: "transfer", Sentences: []types.Sentence{{Text: "moves tokens", Citations: []string{"s1"}}}, Confidence: 0.8, Discovered: 1},
		{ID: "c2", Topic: "pause", Refusal: &types.Refusal{Reason: types.RefusalInsufficientEvidence}, Discovered: 2},
	}

	res := New(nil).Aggregate(findings, claims)
	require.Len(t, res.Risks, 1)
	r := res.Risks[0]
	assert.Equal(t, types.CatAccessControl, r.Category)
	assert.Equal(t, "pause", r.Symbol)
	assert.Equal(t, []types.RiskSource{{Kind: types.SourceFinding, ID: "f1"}}, r.Sources)
	assert.Equal(t, 0.25, r.Score)
	assert.Greater(t, r.Score, 0.0)

	assert.Equal(t, 1, res.Summary.Findings)
	assert.Equal(t, 1, res.Summary.Refusals)
	assert.Equal(t, "1 finding. 1 risk. 1 refusal.", res.Summary.Text)
	assert.Equal(t, 0.25, res.Summary.OverallScore)
	require.NoError(t, Validate(res.Risks, findings, claims))
}

func TestAggregateIsIdempotent(t *testing.T) {
	findings := []types.Finding{
		finding("f3", "reentrancy-no-guard", "withdraw", types.CatFinancial, types.SevHigh, 3),
		finding("f1", "privileged-function", "pause", types.CatAccessControl, types.SevMed, 1),
		finding("f2", "SWC-107", "withdraw", types.CatFinancial, types.SevCritical, 2),
		finding("f4", "outdated-compiler", "", types.CatTechnical, types.SevLow, 4),
	}
	claims := []types.Claim{{
		ID: "c1", Topic: "withdraw", Confidence: 0.6, Discovered: 1,
		Sentences: []types.Sentence{{Text: "sends ether before updating balances", Citations: []string{"s1"}}},
		Risk:      &types.ClaimRisk{Category: types.CatFinancial, Severity: types.SevHigh, Title: "reentrancy"},
	}}

	a := New(nil)
	first := a.Aggregate(findings, claims)
	reversed := []types.Finding{findings[3], findings[2], findings[1], findings[0]}
	second := a.Aggregate(reversed, claims)
	assert.Equal(t, first, second)

	require.Len(t, first.Risks, 3)
	withdraw := first.Risks[0]
	assert.Equal(t, types.SevCritical, withdraw.Severity)
	assert.Equal(t, "SWC-107", withdraw.Title)
	assert.Len(t, withdraw.Sources, 3)
	// 1 - (1-0.9)(1-0.7)(1-0.6)
	assert.Equal(t, 0.988, withdraw.Probability)
	assert.Equal(t, 1.0, withdraw.Impact)
	assert.Equal(t, types.CatAccessControl, first.Risks[1].Category)
	assert.Equal(t, types.CatTechnical, first.Risks[2].Category)
}

func TestSortTieBreaks(t *testing.T) {
	risks := []types.Risk{
		{ID: "b", Severity: types.SevHigh, Category: types.CatFinancial, Discovered: 1},
		{ID: "a", Severity: types.SevHigh, Category: types.CatAccessControl, Discovered: 5},
		{ID: "d", Severity: types.SevHigh, Category: types.CatFinancial, Discovered: 1},
		{ID: "c", Severity: types.SevHigh, Category: types.CatFinancial, Discovered: 0},
		{ID: "e", Severity: types.SevCritical, Category: types.CatInformational, Discovered: 9},
	}
	Sort(risks)
	var ids []string
	for _, r := range risks {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"e", "a", "c", "b", "d"}, ids)
}

func TestValidateDetectsOrphans(t *testing.T) {
	findings := []types.Finding{finding("f1", "tx-origin-auth", "auth", types.CatAccessControl, types.SevHigh, 1)}
	res := New(nil).Aggregate(findings, nil)
	require.NoError(t, Validate(res.Risks, findings, nil))

	err := Validate(res.Risks, nil, nil)
	var inc *types.AggregationInconsistencyError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, "f1", inc.Source.ID)
	assert.True(t, types.IsFatal(err))

	err = Validate([]types.Risk{{ID: "empty"}}, findings, nil)
	require.Error(t, err)
}

func TestTableOverride(t *testing.T) {
	tbl, err := DefaultTable().Override(map[string]Weights{"high": {Probability: 0.5, Impact: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, Weights{0.5, 0.5}, tbl[types.SevHigh])
	assert.Equal(t, Weights{0.9, 1.0}, tbl[types.SevCritical])
	assert.Equal(t, Weights{0.7, 0.8}, DefaultTable()[types.SevHigh])

	_, err = DefaultTable().Override(map[string]Weights{"low": {Probability: 2}})
	require.Error(t, err)
}

func TestScoresStayInRange(t *testing.T) {
	var findings []types.Finding
	for i, sev := range []types.Severity{types.SevCritical, types.SevCritical, types.SevHigh, types.SevCritical} {
		findings = append(findings, finding(string(rune('a'+i)), "r", "x", types.CatFinancial, sev, i))
	}
	res := New(nil).Aggregate(findings, nil)
	for _, r := range res.Risks {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.LessOrEqual(t, res.Summary.OverallScore, 1.0)
}

func TestPrivileges(t *testing.T) {
	u, err := solidity.Parse("T.sol", []byte(`contract T {
    address owner;
    modifier onlyOwner() { require(msg.sender == owner); _; }
    function pause() external onlyOwner {}
    function mint(address to) external onlyOwner {}
    function transfer(address to, uint256 amount) external {}
    function sweep() external { require(msg.sender == owner); }
}`))
	require.NoError(t, err)
	snap := &types.Snapshot{Symbols: u.Contracts[0].Symbols}
	assert.Equal(t, []types.Privilege{
		{Role: solidity.InlineSenderCheck, Symbols: []string{"sweep"}},
		{Role: "onlyOwner", Symbols: []string{"mint", "pause"}},
	}, Privileges(snap))
	assert.Nil(t, Privileges(nil))
}
