// Package analyzer defines the capability every analysis tool adapter
// implements and the registry that fans a snapshot out to them.
package analyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/clauselens/clauselens/internal/types"
)

// Source is one source file handed to adapters.
type Source struct {
	ArtifactID string
	Path       string
	Content    []byte
}

// Input is what an adapter analyzes.
type Input struct {
	Snapshot *types.Snapshot
	Sources  []Source
	// Options carries adapter-specific settings keyed by adapter name.
	Options map[string]map[string]string
}

// Option returns an adapter option or "".
func (in Input) Option(adapter, key string) string {
	return in.Options[adapter][key]
}

// Locate maps a tool-reported path and line onto an artifact and the
// innermost enclosing symbol.
func (in Input) Locate(path string, line int) (types.Location, string) {
	loc := types.Location{Path: path, StartLine: line, EndLine: line}
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, s := range in.Sources {
		sp := filepath.ToSlash(s.Path)
		if sp == clean || strings.HasSuffix(clean, "/"+sp) || strings.HasSuffix(sp, "/"+clean) {
			loc.ArtifactID = s.ArtifactID
			loc.Path = s.Path
			break
		}
	}
	if in.Snapshot == nil || line <= 0 {
		return loc, ""
	}
	best := ""
	bestSpan := 0
	for _, sym := range in.Snapshot.Symbols {
		if loc.ArtifactID != "" && sym.ArtifactID != loc.ArtifactID {
			continue
		}
		if sym.Kind != types.SymFunction && sym.Kind != types.SymModifier {
			continue
		}
		if line < sym.StartLine || line > sym.EndLine {
			continue
		}
		if span := sym.EndLine - sym.StartLine; best == "" || span < bestSpan {
			best, bestSpan = sym.Name, span
		}
	}
	return loc, best
}

// Adapter is the uniform capability over analysis tools.
type Adapter interface {
	Name() string
	// Timeout bounds a single Run attempt.
	Timeout() time.Duration
	Applicable(in Input) bool
	Run(ctx context.Context, in Input) ([]types.Finding, error)
}

// DedupKey identifies exact duplicates: same tool, rule, symbol and location.
func DedupKey(f types.Finding) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d", f.Tool, f.RuleID, f.Symbol,
		f.Location.ArtifactID, f.Location.Path, f.Location.StartLine, f.Location.EndLine)
}

// FindingID derives a stable id from the dedup key.
func FindingID(f types.Finding) string {
	return fmt.Sprintf("f:%016x", xxhash.Sum64String(DedupKey(f)))
}

// Dedup drops exact duplicates, keeping the first occurrence. Near
// duplicates that differ only in location are kept.
func Dedup(findings []types.Finding) []types.Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		k := DedupKey(f)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

// Unavailable is the synthetic finding that stands in for a failed adapter.
func Unavailable(tool string, err error) types.Finding {
	f := types.Finding{
		Tool:        tool,
		RuleID:      "tool-unavailable",
		Title:       fmt.Sprintf("tool %s unavailable", tool),
		Description: err.Error(),
		Severity:    types.SevInfo,
		Category:    types.CatInformational,
		Confidence:  1,
		Synthetic:   true,
	}
	f.ID = FindingID(f)
	return f
}
