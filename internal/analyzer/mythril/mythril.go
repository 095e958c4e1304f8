// Package mythril adapts the Mythril symbolic executor.
package mythril

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/analyzer/exectool"
	"github.com/clauselens/clauselens/internal/types"
)

const Name = "mythril"

// DefaultTimeout is long; symbolic execution is slow.
const DefaultTimeout = 10 * time.Minute

type Adapter struct {
	bin     *exectool.Binary
	timeout time.Duration
}

func New(binaryPath string, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{bin: exectool.NewBinary("myth", binaryPath), timeout: timeout}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Timeout() time.Duration { return a.timeout }

// Applicable requires a primary source file to point mythril at.
func (a *Adapter) Applicable(in analyzer.Input) bool {
	return in.Snapshot != nil && len(exectool.Solidity(in)) > 0
}

func (a *Adapter) Run(ctx context.Context, in analyzer.Input) ([]types.Finding, error) {
	bin, err := a.bin.Find()
	if err != nil {
		return nil, err
	}
	sources := exectool.Solidity(in)
	dir, cleanup, err := exectool.Workspace(sources)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	target := primary(in, sources)
	if in.Snapshot.Name != "" {
		target += ":" + in.Snapshot.Name
	}
	args := []string{"analyze", target, "-o", "json"}
	if d := in.Option(Name, "max_depth"); d != "" {
		args = append(args, "--max-depth", d)
	}
	if tt := in.Option(Name, "execution_timeout"); tt != "" {
		args = append(args, "--execution-timeout", tt)
	}
	out, err := exectool.Run(ctx, Name, bin, dir, args, 1)
	if err != nil {
		return nil, err
	}
	return parse(out, in)
}

// primary picks the file declaring the snapshot's contract, else the first.
func primary(in analyzer.Input, sources []analyzer.Source) string {
	for _, sym := range in.Snapshot.Symbols {
		if sym.Contract != in.Snapshot.Name {
			continue
		}
		for _, s := range sources {
			if s.ArtifactID == sym.ArtifactID {
				return filepath.FromSlash(s.Path)
			}
		}
	}
	return filepath.FromSlash(sources[0].Path)
}

type report struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Issues  []issue `json:"issues"`
}

type issue struct {
	SWCID       string `json:"swc-id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Function    string `json:"function"`
	Filename    string `json:"filename"`
	LineNo      int    `json:"lineno"`
	Contract    string `json:"contract"`
}

func parse(out []byte, in analyzer.Input) ([]types.Finding, error) {
	var r report
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("failed to parse mythril JSON output: %w", err)
	}
	if !r.Success {
		msg := "unknown error"
		if r.Error != nil {
			msg = *r.Error
		}
		return nil, fmt.Errorf("mythril reported failure: %s", msg)
	}
	var findings []types.Finding
	for _, is := range r.Issues {
		f := types.Finding{
			RuleID:      "SWC-" + is.SWCID,
			Title:       is.Title,
			Description: strings.TrimSpace(is.Description),
			Severity:    severity(is.Severity),
			Category:    category(is.SWCID),
			Confidence:  0.8,
			Metadata:    map[string]string{"swc": is.SWCID, "contract": is.Contract},
		}
		f.Location, f.Symbol = in.Locate(is.Filename, is.LineNo)
		if fn, _, ok := strings.Cut(is.Function, "("); ok && fn != "" {
			f.Symbol = fn
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func severity(s string) types.Severity {
	switch strings.ToLower(s) {
	case "high":
		return types.SevHigh
	case "medium":
		return types.SevMed
	case "low":
		return types.SevLow
	default:
		return types.SevInfo
	}
}

func category(swc string) types.Category {
	switch swc {
	case "107", "113", "114", "116", "120", "132":
		return types.CatFinancial
	case "104", "105", "106", "112", "115", "124":
		return types.CatAccessControl
	default:
		return types.CatTechnical
	}
}
