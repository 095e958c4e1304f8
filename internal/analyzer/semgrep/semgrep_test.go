package semgrep

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

const sample = `{"results": [
  {"check_id": "solidity.security.basic-oracle-manipulation", "path": "Pool.sol",
   "start": {"line": 40}, "end": {"line": 44},
   "extra": {"message": "Price read from spot reserves", "severity": "ERROR",
             "metadata": {"category": "security", "confidence": "LOW"}}},
  {"check_id": "solidity.performance.array-length-outside-loop", "path": "Pool.sol",
   "start": {"line": 7}, "end": {"line": 7},
   "extra": {"message": "Cache array length", "severity": "INFO",
             "metadata": {"category": "performance"}}}
], "errors": []}`

func input() analyzer.Input {
	return analyzer.Input{Sources: []analyzer.Source{{ArtifactID: "sha256:p", Path: "Pool.sol"}}}
}

func TestParse(t *testing.T) {
	fs, err := parse([]byte(sample), input())
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, "basic-oracle-manipulation", fs[0].RuleID)
	assert.Equal(t, types.SevHigh, fs[0].Severity)
	assert.Equal(t, types.CatFinancial, fs[0].Category)
	assert.Equal(t, 0.5, fs[0].Confidence)
	assert.Equal(t, types.Location{ArtifactID: "sha256:p", Path: "Pool.sol", StartLine: 40, EndLine: 44}, fs[0].Location)

	assert.Equal(t, types.SevLow, fs[1].Severity)
	assert.Equal(t, types.CatInformational, fs[1].Category)
	assert.Equal(t, 0.7, fs[1].Confidence)
}

func TestParseErrorsOnlyWhenNoResults(t *testing.T) {
	_, err := parse([]byte(`{"results": [], "errors": [{"message": "invalid rule", "level": "error"}]}`), input())
	assert.ErrorContains(t, err, "invalid rule")
}

func TestRunUsesConfiguredRules(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	bin := filepath.Join(t.TempDir(), "semgrep")
	script := "#!/bin/sh\n[ \"$3\" = \"rules.yml\" ] || exit 7\ncat <<'EOF'\n" + sample + "\nEOF\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	in := input()
	in.Options = map[string]map[string]string{Name: {"config": "rules.yml"}}
	fs, err := New(bin, "", 0).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, fs, 2)

	_, err = New(bin, "", 0).Run(context.Background(), input())
	assert.ErrorContains(t, err, "exit code 7")
}
