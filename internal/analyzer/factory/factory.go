// Package factory builds the analyzer registry from configuration.
package factory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/analyzer/builtin"
	"github.com/clauselens/clauselens/internal/analyzer/exectool"
	"github.com/clauselens/clauselens/internal/analyzer/mythril"
	"github.com/clauselens/clauselens/internal/analyzer/semgrep"
	"github.com/clauselens/clauselens/internal/analyzer/slither"
	"github.com/clauselens/clauselens/internal/cache"
	"github.com/clauselens/clauselens/internal/config"
)

// Config is the subset of configuration needed to create the registry.
type Config struct {
	Analyzers config.AnalyzersConfig
	// NoCache disables the adapter result cache regardless of Analyzers.
	NoCache bool
	Logger  *zap.Logger
}

// Tool describes one external adapter and where its binary was found.
type Tool struct {
	Name    string
	Binary  string
	Version string
	Found   bool
	Err     error
}

type external struct {
	name       string
	binary     string
	versionArg string
	build      func(tc config.ToolConfig) analyzer.Adapter
}

var externals = []external{
	{slither.Name, "slither", "--version", func(tc config.ToolConfig) analyzer.Adapter {
		return slither.New(tc.GetBinary(), tc.GetTimeout(slither.DefaultTimeout))
	}},
	{mythril.Name, "myth", "version", func(tc config.ToolConfig) analyzer.Adapter {
		return mythril.New(tc.GetBinary(), tc.GetTimeout(mythril.DefaultTimeout))
	}},
	{semgrep.Name, "semgrep", "--version", func(tc config.ToolConfig) analyzer.Adapter {
		return semgrep.New(tc.GetBinary(), tc.GetRules(), tc.GetTimeout(semgrep.DefaultTimeout))
	}},
}

// New registers the builtin adapter and every external one. External
// adapters are registered even when their binary is missing so the run
// reports them as unavailable instead of silently skipping them. The
// returned store is nil when caching is off; callers flush it.
func New(cfg Config) (*analyzer.Registry, *cache.Store, error) {
	reg := analyzer.NewRegistry(cfg.Logger)
	if err := reg.Register(builtin.New()); err != nil {
		return nil, nil, err
	}

	var store *cache.Store
	if !cfg.NoCache && cfg.Analyzers.IsCacheEnabled() {
		path := cfg.Analyzers.GetCachePath()
		if path == "" {
			path = cache.DefaultPath()
		}
		s, err := cache.Open(path, cfg.Analyzers.GetCacheTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open adapter cache: %w", err)
		}
		store = s
	}

	for _, t := range Tools(context.Background(), cfg.Analyzers) {
		ext := lookup(t.Name)
		a := ext.build(cfg.Analyzers.GetTool(t.Name))
		if t.Found {
			a = analyzer.WithCache(a, store, t.Version)
		}
		if err := reg.Register(a); err != nil {
			return nil, nil, err
		}
	}
	return reg, store, nil
}

// Tools reports the external adapters and whether their binaries resolve.
func Tools(ctx context.Context, cfg config.AnalyzersConfig) []Tool {
	out := make([]Tool, 0, len(externals))
	for _, ext := range externals {
		tc := cfg.GetTool(ext.name)
		bin := exectool.NewBinary(ext.binary, tc.GetBinary())
		t := Tool{Name: ext.name}
		path, err := bin.Find()
		if err != nil {
			t.Err = err
			out = append(out, t)
			continue
		}
		t.Binary, t.Found = path, true
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		v, err := bin.Version(vctx, path, ext.versionArg)
		cancel()
		if err != nil {
			v = "unknown"
		}
		t.Version = v
		out = append(out, t)
	}
	return out
}

func lookup(name string) external {
	for _, e := range externals {
		if e.name == name {
			return e
		}
	}
	panic("unknown external adapter " + name)
}

// DefaultAdapters lists every adapter name the factory can register.
func DefaultAdapters() []string {
	names := []string{builtin.Name}
	for _, e := range externals {
		names = append(names, e.name)
	}
	return names
}
