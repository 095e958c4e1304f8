package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreMatch(t *testing.T) {
	dir := t.TempDir()
	ig := filepath.Join(dir, IgnoreFile)
	content := "node_modules/\n*.pem\n# comment\n\nsecret.env\n/mocks/*.sol\n!mocks/Keep.sol\n"
	require.NoError(t, os.WriteFile(ig, []byte(content), 0o644))

	m, err := LoadIgnore(ig)
	require.NoError(t, err)
	cases := map[string]bool{
		"node_modules/pkg/index.js": true,
		"certs/key.pem":             true,
		"secret.env":                true,
		"mocks/Mock.sol":            true,
		"mocks/Keep.sol":            false,
		"src/mocks/Mock.sol":        false,
		"src/Token.sol":             false,
	}
	for p, want := range cases {
		assert.Equal(t, want, m.Match(p), p)
	}
}

func TestIgnoreDirRuleSkipsFilesOfSameName(t *testing.T) {
	m, err := ParseIgnore(strings.NewReader("build/\n"))
	require.NoError(t, err)
	assert.True(t, m.Match("build/Out.sol"))
	assert.False(t, m.Match("build"))
}

func TestLoadIgnore_Missing(t *testing.T) {
	m, err := LoadIgnore(filepath.Join(t.TempDir(), IgnoreFile))
	require.NoError(t, err)
	assert.False(t, m.Match("anything.sol"))
}
