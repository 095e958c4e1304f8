// Package semgrep adapts Semgrep with Solidity rule packs.
package semgrep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/analyzer/exectool"
	"github.com/clauselens/clauselens/internal/types"
)

const Name = "semgrep"

const DefaultTimeout = 2 * time.Minute

// DefaultRules is the registry rule pack used when no config is given.
const DefaultRules = "p/smart-contracts"

type Adapter struct {
	bin     *exectool.Binary
	rules   string
	timeout time.Duration
}

func New(binaryPath, rules string, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rules == "" {
		rules = DefaultRules
	}
	return &Adapter{bin: exectool.NewBinary("semgrep", binaryPath), rules: rules, timeout: timeout}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Timeout() time.Duration { return a.timeout }

func (a *Adapter) Applicable(in analyzer.Input) bool { return len(exectool.Solidity(in, Name)) > 0 }

func (a *Adapter) Run(ctx context.Context, in analyzer.Input) ([]types.Finding, error) {
	bin, err := a.bin.Find()
	if err != nil {
		return nil, err
	}
	dir, cleanup, err := exectool.Workspace(exectool.Solidity(in, Name))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	rules := a.rules
	if r := in.Option(Name, "config"); r != "" {
		rules = r
	}
	out, err := exectool.Run(ctx, Name, bin, dir, []string{"scan", "--config", rules, "--json", "--quiet", "--metrics", "off", "."}, 1)
	if err != nil {
		return nil, err
	}
	return parse(out, in)
}

type report struct {
	Results []result `json:"results"`
	Errors  []struct {
		Message string `json:"message"`
		Level   string `json:"level"`
	} `json:"errors"`
}

type result struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
	} `json:"start"`
	End struct {
		Line int `json:"line"`
	} `json:"end"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Metadata struct {
			Category   string   `json:"category"`
			Confidence string   `json:"confidence"`
			CWE        []string `json:"cwe"`
		} `json:"metadata"`
	} `json:"extra"`
}

func parse(out []byte, in analyzer.Input) ([]types.Finding, error) {
	var r report
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("failed to parse semgrep JSON output: %w", err)
	}
	if len(r.Results) == 0 {
		for _, e := range r.Errors {
			if strings.EqualFold(e.Level, "error") {
				return nil, fmt.Errorf("semgrep: %s", e.Message)
			}
		}
	}
	var findings []types.Finding
	for _, res := range r.Results {
		rule := res.CheckID
		if i := strings.LastIndexByte(rule, '.'); i >= 0 {
			rule = rule[i+1:]
		}
		f := types.Finding{
			RuleID:      rule,
			Title:       strings.ReplaceAll(rule, "-", " "),
			Description: strings.TrimSpace(res.Extra.Message),
			Severity:    severity(res.Extra.Severity),
			Category:    category(rule, res.Extra.Metadata.Category),
			Confidence:  confidence(res.Extra.Metadata.Confidence),
			Metadata:    map[string]string{"check_id": res.CheckID},
		}
		f.Location, f.Symbol = in.Locate(res.Path, res.Start.Line)
		if res.End.Line > f.Location.StartLine {
			f.Location.EndLine = res.End.Line
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func severity(s string) types.Severity {
	switch strings.ToUpper(s) {
	case "ERROR":
		return types.SevHigh
	case "WARNING":
		return types.SevMed
	case "INFO":
		return types.SevLow
	default:
		return types.SevInfo
	}
}

func confidence(s string) float64 {
	switch strings.ToUpper(s) {
	case "HIGH":
		return 0.9
	case "LOW":
		return 0.5
	default:
		return 0.7
	}
}

func category(rule, meta string) types.Category {
	r := strings.ToLower(rule)
	switch {
	case strings.Contains(r, "reentran"), strings.Contains(r, "oracle"), strings.Contains(r, "price"), strings.Contains(r, "transfer"):
		return types.CatFinancial
	case strings.Contains(r, "owner"), strings.Contains(r, "access"), strings.Contains(r, "auth"), strings.Contains(r, "tx-origin"), strings.Contains(r, "delegatecall"):
		return types.CatAccessControl
	case strings.EqualFold(meta, "best-practice"), strings.EqualFold(meta, "performance"):
		return types.CatInformational
	default:
		return types.CatTechnical
	}
}
