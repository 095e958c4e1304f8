package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RepoMetadata returns (repo, commit, branch) best-effort for the
// repository containing root. Empty strings are returned on failure.
// repo is the origin remote shortened to owner/name when possible.
func RepoMetadata(root string) (string, string, string) {
	validRoot, err := validateRoot(root)
	if err != nil {
		return "", "", ""
	}
	r, err := git.PlainOpenWithOptions(validRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", "", ""
	}
	repo := originName(r)
	commit, branch := "", ""
	if head, err := r.Head(); err == nil {
		commit = head.Hash().String()
		branch = "HEAD"
		if head.Name().IsBranch() {
			branch = head.Name().Short()
		}
	}
	return repo, commit, branch
}

func originName(r *git.Repository) string {
	rem, err := r.Remote("origin")
	if err != nil || len(rem.Config().URLs) == 0 {
		return ""
	}
	s := strings.TrimSuffix(strings.TrimSpace(rem.Config().URLs[0]), ".git")
	if i := strings.Index(s, "github.com/"); i >= 0 {
		return s[i+len("github.com/"):]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 && !strings.Contains(s, "://") {
		s = s[i+1:]
	}
	return s
}

// Git stores the selected files of the tree at rev (default HEAD) in the
// repository containing dir. The working tree is never read; IgnoreFile
// rules are taken from the same revision.
func Git(ctx context.Context, dst Putter, dir, rev string, opts Options) (*Result, error) {
	o := opts.withDefaults()
	abs, err := validateRoot(dir)
	if err != nil {
		return nil, err
	}
	r, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s is not inside a git repository", dir)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := r.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", rev, err)
	}
	commit, err := r.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", hash, err)
	}

	ign := Matcher{}
	if f, err := tree.File(IgnoreFile); err == nil {
		if body, err := f.Contents(); err == nil {
			if ign, err = ParseIgnore(strings.NewReader(body)); err != nil {
				return nil, fmt.Errorf("parse %s: %w", IgnoreFile, err)
			}
		}
	}

	var files []*object.File
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !o.KeepDefaultDirs && inSkippedDir(f.Name) {
			return nil
		}
		if allowed(f.Name, o) && !ign.Match(f.Name) {
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	res := &Result{Commit: hash.String(), Repo: originName(r)}
	if head, err := r.Head(); err == nil && head.Hash() == *hash && head.Name().IsBranch() {
		res.Branch = head.Name().Short()
	}
	for _, f := range files {
		if f.Size > o.MaxBytes {
			res.Skipped = append(res.Skipped, Skipped{Path: f.Name, Reason: "too large"})
			continue
		}
		body, err := f.Contents()
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Path: f.Name, Reason: err.Error()})
			continue
		}
		if err := store(ctx, dst, res, f.Name, []byte(body), o); err != nil {
			return res, err
		}
	}
	return res, nil
}

func inSkippedDir(name string) bool {
	parts := strings.Split(name, "/")
	for _, p := range parts[:len(parts)-1] {
		if skipDirs[p] {
			return true
		}
	}
	return false
}
