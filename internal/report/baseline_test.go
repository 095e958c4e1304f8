package report

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/types"
)

func TestBaseline_RoundTripFiltersAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	accepted := types.Finding{Tool: "patterns", RuleID: "owner-privilege", Symbol: "pause", Location: types.Location{Path: "Token.sol", StartLine: 20}}
	require.NoError(t, SaveBaseline(path, []types.Finding{accepted}))

	base, err := LoadBaseline(path)
	require.NoError(t, err)

	moved := accepted
	moved.Location.StartLine = 42
	fresh := types.Finding{Tool: "patterns", RuleID: "owner-privilege", Symbol: "mint", Location: types.Location{Path: "Token.sol"}}

	got := FilterNewFindings([]types.Finding{moved, fresh}, base)
	require.Len(t, got, 1)
	assert.Equal(t, "mint", got[0].Symbol)
}

func TestLoadBaseline_Missing(t *testing.T) {
	b, err := LoadBaseline(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
	assert.NotNil(t, b.Items)
}

func TestShouldFail(t *testing.T) {
	fs := []types.Finding{
		{Severity: types.SevMed},
		{Severity: types.SevCritical, Synthetic: true},
	}
	tests := []struct {
		failOn string
		want   bool
	}{
		{"", false},
		{"high", false},
		{"medium", true},
		{"low", true},
		{"bogus", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ShouldFail(fs, tc.failOn), tc.failOn)
	}
}
