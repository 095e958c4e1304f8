package slither

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/types"
)

const sample = `{
  "success": true,
  "error": null,
  "results": {
    "detectors": [
      {
        "check": "reentrancy-eth",
        "impact": "High",
        "confidence": "Medium",
        "description": "Reentrancy in Vault.withdraw()\n",
        "elements": [
          {"type": "function", "name": "withdraw",
           "source_mapping": {"filename_relative": "src/Vault.sol", "lines": [12, 13, 14]}}
        ]
      },
      {
        "check": "solc-version",
        "impact": "Informational",
        "confidence": "High",
        "description": "Pragma version too loose",
        "elements": [
          {"type": "pragma", "name": "^0.8.0",
           "source_mapping": {"filename_relative": "src/Vault.sol", "lines": [1]}}
        ]
      }
    ]
  }
}`

func input() analyzer.Input {
	return analyzer.Input{
		Sources: []analyzer.Source{{ArtifactID: "sha256:v", Path: "src/Vault.sol", Content: []byte("pragma solidity ^0.8.0;")}},
		Snapshot: &types.Snapshot{Name: "Vault", Symbols: []types.Symbol{
			{Kind: types.SymFunction, Name: "withdraw", ArtifactID: "sha256:v", StartLine: 11, EndLine: 16},
		}},
	}
}

func TestParse(t *testing.T) {
	fs, err := parse([]byte(sample), input())
	require.NoError(t, err)
	require.Len(t, fs, 2)

	assert.Equal(t, "reentrancy-eth", fs[0].RuleID)
	assert.Equal(t, types.SevHigh, fs[0].Severity)
	assert.Equal(t, types.CatFinancial, fs[0].Category)
	assert.Equal(t, 0.7, fs[0].Confidence)
	assert.Equal(t, "withdraw", fs[0].Symbol)
	assert.Equal(t, types.Location{ArtifactID: "sha256:v", Path: "src/Vault.sol", StartLine: 12, EndLine: 14}, fs[0].Location)

	assert.Equal(t, types.SevInfo, fs[1].Severity)
	assert.Equal(t, types.CatInformational, fs[1].Category)
	assert.Empty(t, fs[1].Symbol)
}

func TestParseFailure(t *testing.T) {
	_, err := parse([]byte(`{"success": false, "error": "Invalid compilation"}`), input())
	assert.ErrorContains(t, err, "Invalid compilation")
	_, err = parse([]byte(`not json`), input())
	assert.ErrorContains(t, err, "failed to parse")
}

func TestRunWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	bin := filepath.Join(t.TempDir(), "slither")
	script := "#!/bin/sh\ntest -f src/Vault.sol || exit 3\ncat <<'EOF'\n" + sample + "\nEOF\nexit 255\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	a := New(bin, 0)
	assert.Equal(t, DefaultTimeout, a.Timeout())
	require.True(t, a.Applicable(input()))
	fs, err := a.Run(context.Background(), input())
	require.NoError(t, err)
	assert.Len(t, fs, 2)
}

func TestNotApplicableWithoutSolidity(t *testing.T) {
	a := New("", 0)
	assert.False(t, a.Applicable(analyzer.Input{Sources: []analyzer.Source{{Path: "abi.json"}}}))
}
