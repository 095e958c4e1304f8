package mythril

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

const sample = `{"error": null, "success": true, "issues": [
  {"swc-id": "107", "title": "External Call To User-Supplied Address", "severity": "Low",
   "description": "A call to a user-supplied address is executed.", "function": "withdraw(uint256)",
   "filename": "contracts/Vault.sol", "lineno": 13, "contract": "Vault"},
  {"swc-id": "106", "title": "Unprotected Selfdestruct", "severity": "High",
   "description": "Any sender can cause the contract to self-destruct.", "function": "kill()",
   "filename": "contracts/Vault.sol", "lineno": 30, "contract": "Vault"}
]}`

func input() analyzer.Input {
	return analyzer.Input{
		Sources: []analyzer.Source{{ArtifactID: "sha256:v", Path: "contracts/Vault.sol"}},
		Snapshot: &types.Snapshot{Name: "Vault", Symbols: []types.Symbol{
			{Kind: types.SymFunction, Contract: "Vault", Name: "withdraw", ArtifactID: "sha256:v", StartLine: 10, EndLine: 20},
		}},
	}
}

func TestParse(t *testing.T) {
	fs, err := parse([]byte(sample), input())
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, "SWC-107", fs[0].RuleID)
	assert.Equal(t, types.CatFinancial, fs[0].Category)
	assert.Equal(t, types.SevLow, fs[0].Severity)
	assert.Equal(t, "withdraw", fs[0].Symbol)
	assert.Equal(t, "sha256:v", fs[0].Location.ArtifactID)

	assert.Equal(t, types.CatAccessControl, fs[1].Category)
	assert.Equal(t, types.SevHigh, fs[1].Severity)
	assert.Equal(t, "kill", fs[1].Symbol)
}

func TestParseFailure(t *testing.T) {
	_, err := parse([]byte(`{"success": false, "error": "Solc experienced a fatal error"}`), input())
	assert.ErrorContains(t, err, "fatal error")
}

func TestRunTargetsPrimaryContract(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	bin := filepath.Join(t.TempDir(), "myth")
	script := "#!/bin/sh\n[ \"$2\" = \"contracts/Vault.sol:Vault\" ] || { echo \"bad target $2\" >&2; exit 2; }\ncat <<'EOF'\n" + sample + "\nEOF\nexit 1\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	fs, err := New(bin, 0).Run(context.Background(), input())
	require.NoError(t, err)
	assert.Len(t, fs, 2)
}
