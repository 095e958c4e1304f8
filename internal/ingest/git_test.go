package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/evidence"
)

func commitFiles(t *testing.T, r *git.Repository, dir string, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	writeTree(t, dir, files)
	wt, err := r.Worktree()
	require.NoError(t, err)
	for name := range files {
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	h, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	return h
}

func TestGit_ReadsRevisionNotWorktree(t *testing.T) {
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	first := commitFiles(t, r, dir, map[string]string{
		"src/Token.sol":    tokenSrc,
		"test/Token.t.sol": "contract TokenTest {}",
	}, "initial")
	v2 := tokenSrc + "\n// v2\n"
	second := commitFiles(t, r, dir, map[string]string{
		"src/Token.sol":      v2,
		"src/mocks/Mock.sol": "contract Mock {}",
		IgnoreFile:           "mocks/\n",
	}, "second")

	// Uncommitted edits are invisible.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "Token.sol"), []byte("dirty"), 0o644))

	store := evidence.New(nil)
	old, err := Git(context.Background(), store, dir, first.String(), Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"src/Token.sol"}, names(old))
	assert.Equal(t, first.String(), old.Commit)
	assert.Empty(t, old.Branch)
	content, _ := store.Content(old.Artifacts[0].ID)
	assert.Equal(t, tokenSrc, string(content))

	head, err := Git(context.Background(), store, filepath.Join(dir, "src"), "", Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"src/Token.sol"}, names(head))
	assert.Equal(t, second.String(), head.Commit)
	assert.Equal(t, "master", head.Branch)
	content, _ = store.Content(head.Artifacts[0].ID)
	assert.Equal(t, v2, string(content))
	assert.NotEqual(t, old.Artifacts[0].ID, head.Artifacts[0].ID)
}

func TestGit_Errors(t *testing.T) {
	_, err := Git(context.Background(), evidence.New(nil), t.TempDir(), "", Options{})
	assert.ErrorContains(t, err, "not inside a git repository")

	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFiles(t, r, dir, map[string]string{"Token.sol": tokenSrc}, "initial")
	_, err = Git(context.Background(), evidence.New(nil), dir, "no-such-branch", Options{})
	assert.ErrorContains(t, err, "resolve")
}

func TestRepoMetadata(t *testing.T) {
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	h := commitFiles(t, r, dir, map[string]string{"Token.sol": tokenSrc}, "initial")
	_, err = r.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{"git@github.com:acme/vault.git"}})
	require.NoError(t, err)

	repo, commit, branch := RepoMetadata(dir)
	assert.Equal(t, "acme/vault", repo)
	assert.Equal(t, h.String(), commit)
	assert.Equal(t, "master", branch)

	repo, commit, branch = RepoMetadata(t.TempDir())
	assert.Empty(t, repo + commit + branch)
}
