package clauselens

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clauselens/clauselens/internal/ingest"
)

// inputFlags select the sources a command ingests.
type inputFlags struct {
	repo     string
	rev      string
	include  string
	exclude  string
	maxBytes int64
	allDirs  bool
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repo, "repo", "", "read sources from this git repository instead of the working tree")
	cmd.Flags().StringVar(&f.rev, "rev", "", "git revision to read with --repo (default HEAD)")
	cmd.Flags().StringVar(&f.include, "include", "", "comma-separated include globs (default **/*.sol,**/*.abi,**/*.abi.json)")
	cmd.Flags().StringVar(&f.exclude, "exclude", "", "comma-separated exclude globs (default Foundry tests and scripts)")
	cmd.Flags().Int64Var(&f.maxBytes, "max-bytes", 0, "skip files larger than this (0 = store limit)")
	cmd.Flags().BoolVar(&f.allDirs, "all-dirs", false, "also walk node_modules, out, cache and other build directories")
}

func (f *inputFlags) options() ingest.Options {
	o := ingest.Options{
		Include:         splitList(f.include),
		MaxBytes:        f.maxBytes,
		KeepDefaultDirs: f.allDirs,
	}
	if f.exclude != "" {
		o.Exclude = splitList(f.exclude)
	}
	return o
}

// collect ingests --repo, or each path argument (files and directories),
// or the working directory when there are none.
func collect(ctx context.Context, dst ingest.Putter, f *inputFlags, args []string) (*ingest.Result, error) {
	opts := f.options()
	if f.repo != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--repo reads the repository tree; drop the path arguments")
		}
		return ingest.Git(ctx, dst, f.repo, f.rev, opts)
	}
	if f.rev != "" {
		return nil, fmt.Errorf("--rev requires --repo")
	}
	if len(args) == 0 {
		args = []string{"."}
	}
	out := &ingest.Result{}
	var files []string
	for _, p := range args {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		res, err := ingest.Dir(ctx, dst, p, opts)
		if err != nil {
			return nil, err
		}
		merge(out, res)
		if out.Commit == "" {
			out.Repo, out.Commit, out.Branch = ingest.RepoMetadata(p)
		}
	}
	if len(files) > 0 {
		res, err := ingest.Files(ctx, dst, files, opts)
		if err != nil {
			return nil, err
		}
		merge(out, res)
	}
	return out, nil
}

func merge(into, from *ingest.Result) {
	into.Artifacts = append(into.Artifacts, from.Artifacts...)
	into.Skipped = append(into.Skipped, from.Skipped...)
}

// defaultName picks a contract name for an upload: the single file's
// stem, the repository name, or the directory's base name.
func defaultName(f *inputFlags, args []string, res *ingest.Result) string {
	if len(res.Artifacts) == 1 {
		base := filepath.Base(res.Artifacts[0].Name)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	if res.Repo != "" {
		return filepath.Base(res.Repo)
	}
	dir := f.repo
	if dir == "" && len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return filepath.Base(abs)
	}
	return "contract"
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
