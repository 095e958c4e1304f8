package exectool

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/types"
)

func fakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	p := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+script), 0o755))
	return p
}

func TestFindCustomPath(t *testing.T) {
	p := fakeBinary(t, "exit 0\n")
	got, err := NewBinary("tool", p).Find()
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = NewBinary("tool", "/nonexistent/tool").Find()
	assert.ErrorContains(t, err, "not found")
}

func TestFindMissing(t *testing.T) {
	_, err := NewBinary("clauselens-no-such-tool", "").Find()
	assert.ErrorContains(t, err, "not found in PATH")
}

func TestVersion(t *testing.T) {
	p := fakeBinary(t, "echo 'v0.10.4'\necho extra\n")
	v, err := NewBinary("tool", p).Version(context.Background(), p, "--version")
	require.NoError(t, err)
	assert.Equal(t, "0.10.4", v)
}

func TestWorkspaceKeepsRelativePaths(t *testing.T) {
	dir, cleanup, err := Workspace([]analyzer.Source{
		{Path: "src/Token.sol", Content: []byte("contract T {}")},
		{Path: "../escape.sol", Content: []byte("x")},
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "src", "Token.sol"))
	require.NoError(t, err)
	assert.Equal(t, "contract T {}", string(b))
	_, err = os.Stat(filepath.Join(dir, "00001_escape.sol"))
	require.NoError(t, err)

	st, err := os.Stat(dir)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())
	}

	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestRunExitCodes(t *testing.T) {
	p := fakeBinary(t, "echo out\necho 'solc not found' >&2\nexit $1\n")
	dir := t.TempDir()

	out, err := Run(context.Background(), "tool", p, dir, []string{"0"})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))

	out, err = Run(context.Background(), "tool", p, dir, []string{"1"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))

	_, err = Run(context.Background(), "tool", p, dir, []string{"2"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 2")
	assert.Contains(t, err.Error(), "Compilation failed")
	assert.False(t, types.IsTransient(err))
}

func TestRunDeadlineIsTransient(t *testing.T) {
	p := fakeBinary(t, "exec sleep 5\n")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Run(ctx, "tool", p, t.TempDir(), nil)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestSolidityFilter(t *testing.T) {
	in := analyzer.Input{Sources: []analyzer.Source{{Path: "A.sol"}, {Path: "abi.json"}, {Path: "B.SOL"}}}
	got := Solidity(in)
	require.Len(t, got, 2)
	assert.Equal(t, "B.SOL", got[1].Path)
}

func TestSolidityInclude(t *testing.T) {
	in := analyzer.Input{
		Sources: []analyzer.Source{{Path: "src/A.sol"}, {Path: "test/A.t.sol"}, {Path: "lib/x/B.sol"}},
		Options: map[string]map[string]string{"semgrep": {"include": "src/**"}},
	}
	assert.Len(t, Solidity(in), 3)
	got := Solidity(in, "semgrep")
	require.Len(t, got, 1)
	assert.Equal(t, "src/A.sol", got[0].Path)
	assert.Len(t, Solidity(in, "slither"), 3)
}
