package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/types"
)

const tokenSrc = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.20;

contract Token {
    address public owner;

    function mint(address to, uint256 amount) external {
        require(msg.sender == owner, "not owner");
    }
}
`

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func names(res *Result) []string {
	out := make([]string, len(res.Artifacts))
	for i, a := range res.Artifacts {
		out[i] = a.Name
	}
	return out
}

func TestDir_SelectsSources(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"src/Token.sol":               tokenSrc,
		"src/Token.abi.json":          `[{"type":"function","name":"mint"}]`,
		"test/Token.t.sol":            "contract TokenTest {}",
		"node_modules/oz/Ownable.sol": "contract Ownable {}",
		"src/mocks/Mock.sol":          "contract Mock {}",
		"README.md":                   "# token",
		IgnoreFile:                    "mocks/\n",
	})
	store := evidence.New(nil)

	res, err := Dir(context.Background(), store, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Token.abi.json", "src/Token.sol"}, names(res))
	assert.Equal(t, types.KindABI, res.Artifacts[0].Kind)
	assert.Equal(t, types.KindSource, res.Artifacts[1].Kind)
	assert.Equal(t, types.OriginUploaded, res.Artifacts[1].Origin)

	content, ok := store.Content(res.Artifacts[1].ID)
	require.True(t, ok)
	assert.Equal(t, tokenSrc, string(content))
	assert.Len(t, res.IDs(), 2)
}

func TestDir_CustomGlobsAndSkips(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"docs/EIP-20.md": "A standard interface for tokens.",
		"src/Empty.sol":  "",
		"src/Bin.sol":    "contract\x00Bin {}",
		"src/Big.sol":    tokenSrc,
	})
	res, err := Dir(context.Background(), evidence.New(nil), dir, Options{
		Include:  []string{"**/*.sol", "docs/*.md"},
		MaxBytes: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/EIP-20.md"}, names(res))
	assert.Equal(t, types.KindStandard, res.Artifacts[0].Kind)

	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[s.Path] = s.Reason
	}
	assert.Equal(t, map[string]string{
		"src/Big.sol":   "too large",
		"src/Bin.sol":   "binary",
		"src/Empty.sol": "empty",
	}, reasons)
}

func TestDir_NotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "Token.sol")
	require.NoError(t, os.WriteFile(f, []byte(tokenSrc), 0o644))
	_, err := Dir(context.Background(), evidence.New(nil), f, Options{})
	assert.Error(t, err)
}

func TestDir_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"Token.sol": tokenSrc})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dir(ctx, evidence.New(nil), dir, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFiles_UsesBaseNames(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a/Token.sol": tokenSrc})
	store := evidence.New(nil)

	res, err := Files(context.Background(), store, []string{filepath.Join(dir, "a", "Token.sol")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Token.sol"}, names(res))

	again, err := Files(context.Background(), store, []string{filepath.Join(dir, "a", "Token.sol")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, res.Artifacts[0].ID, again.Artifacts[0].ID)

	_, err = Files(context.Background(), store, []string{filepath.Join(dir, "missing.sol")}, Options{})
	assert.Error(t, err)
}

func TestKindFor(t *testing.T) {
	cases := map[string]types.ArtifactKind{
		"Token.sol":          types.KindSource,
		"Token.abi":          types.KindABI,
		"out/Token.ABI.json": types.KindABI,
		"Token.bin":          types.KindBytecode,
		"EIP-1967.md":        types.KindStandard,
	}
	for p, want := range cases {
		got, ok := KindFor(p)
		assert.True(t, ok, p)
		assert.Equal(t, want, got, p)
	}
	_, ok := KindFor("go.mod")
	assert.False(t, ok)
}
