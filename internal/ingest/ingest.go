// Package ingest puts contract sources from a directory or a git revision
// into the evidence store.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/types"
)

// Putter is the part of the evidence store ingestion writes to.
type Putter interface {
	PutArtifact(ctx context.Context, data []byte, kind types.ArtifactKind, origin types.Origin, name string) (types.Artifact, error)
}

// DefaultInclude selects Solidity sources and standalone ABIs.
var DefaultInclude = []string{"**/*.sol", "**/*.abi", "**/*.abi.json"}

// DefaultExclude skips Foundry tests and scripts.
var DefaultExclude = []string{"**/*.t.sol", "**/*.s.sol"}

var skipDirs = map[string]bool{
	"node_modules":    true,
	"out":             true,
	"cache":           true,
	"artifacts":       true,
	"coverage":        true,
	"broadcast":       true,
	"typechain":       true,
	"typechain-types": true,
}

type Options struct {
	Include []string
	Exclude []string
	// MaxBytes skips larger files. Zero means evidence.MaxArtifactBytes.
	MaxBytes int64
	// KeepDefaultDirs walks build and dependency directories too.
	KeepDefaultDirs bool
}

func (o Options) withDefaults() Options {
	if len(o.Include) == 0 {
		o.Include = DefaultInclude
	}
	if o.Exclude == nil {
		o.Exclude = DefaultExclude
	}
	if o.MaxBytes <= 0 || o.MaxBytes > evidence.MaxArtifactBytes {
		o.MaxBytes = evidence.MaxArtifactBytes
	}
	return o
}

// Skipped records a file that matched but was not stored.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type Result struct {
	Artifacts []types.Artifact `json:"artifacts"`
	Skipped   []Skipped        `json:"skipped,omitempty"`
	Repo      string           `json:"repo,omitempty"`
	Commit    string           `json:"commit,omitempty"`
	Branch    string           `json:"branch,omitempty"`
}

// IDs returns the artifact ids in ingestion order.
func (r *Result) IDs() []string {
	out := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		out[i] = a.ID
	}
	return out
}

// KindFor maps a path to an artifact kind. ok is false for paths with no
// known kind.
func KindFor(path string) (types.ArtifactKind, bool) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".sol"):
		return types.KindSource, true
	case strings.HasSuffix(lower, ".abi"), strings.HasSuffix(lower, ".abi.json"):
		return types.KindABI, true
	case strings.HasSuffix(lower, ".bin"), strings.HasSuffix(lower, ".hex"):
		return types.KindBytecode, true
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".txt"):
		return types.KindStandard, true
	}
	return "", false
}

func allowed(rel string, o Options) bool {
	if !matchAnyGlob(rel, o.Include) {
		return false
	}
	return !matchAnyGlob(rel, o.Exclude)
}

func matchAnyGlob(p string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, filepath.Base(p)); ok {
			return true
		}
	}
	return false
}

func looksBinary(b []byte) bool {
	n := min(len(b), 800)
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}

// store puts one candidate file, recording a skip instead of failing for
// per-file problems. Only context cancellation is returned.
func store(ctx context.Context, dst Putter, res *Result, rel string, data []byte, o Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind, ok := KindFor(rel)
	switch {
	case !ok:
		res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: "unknown kind"})
		return nil
	case len(data) == 0:
		res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: "empty"})
		return nil
	case int64(len(data)) > o.MaxBytes:
		res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: "too large"})
		return nil
	case kind != types.KindBytecode && looksBinary(data):
		res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: "binary"})
		return nil
	}
	art, err := dst.PutArtifact(ctx, data, kind, types.OriginUploaded, rel)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: err.Error()})
		return nil
	}
	res.Artifacts = append(res.Artifacts, art)
	return nil
}

// Dir walks root and stores every selected file, keyed by its
// slash-separated path relative to root. Rules in root's IgnoreFile apply.
func Dir(ctx context.Context, dst Putter, root string, opts Options) (*Result, error) {
	o := opts.withDefaults()
	abs, err := validateRoot(root)
	if err != nil {
		return nil, err
	}
	ign, err := LoadIgnore(filepath.Join(abs, IgnoreFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", IgnoreFile, err)
	}

	var paths []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if p != abs && (strings.HasPrefix(name, ".git") || (!o.KeepDefaultDirs && skipDirs[name])) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(abs, p)
		rel = filepath.ToSlash(rel)
		if !allowed(rel, o) || ign.Match(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	res := &Result{}
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(abs, filepath.FromSlash(rel)))
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Path: rel, Reason: err.Error()})
			continue
		}
		if err := store(ctx, dst, res, rel, data, o); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Files stores explicitly named files under their base names. Include
// and exclude globs do not apply.
func Files(ctx context.Context, dst Putter, paths []string, opts Options) (*Result, error) {
	o := opts.withDefaults()
	res := &Result{}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return res, err
		}
		if err := store(ctx, dst, res, filepath.Base(p), data, o); err != nil {
			return res, err
		}
	}
	return res, nil
}

// validateRoot cleans root to an absolute directory path.
func validateRoot(root string) (string, error) {
	if strings.ContainsRune(root, 0) {
		return "", fmt.Errorf("invalid path: contains null byte")
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot access path %q: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", root)
	}
	return abs, nil
}
