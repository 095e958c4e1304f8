// Package slither adapts the Slither static analyzer.
package slither

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

const Name = "slither"

// DefaultTimeout bounds one slither invocation.
const DefaultTimeout = 5 * time.Minute

type Adapter struct {
	bin     *exectool.Binary
	timeout time.Duration
}

// New returns a slither adapter. binaryPath may be empty to search PATH.
func New(binaryPath string, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{bin: exectool.NewBinary("slither", binaryPath), timeout: timeout}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Timeout() time.Duration { return a.timeout }

func (a *Adapter) Applicable(in analyzer.Input) bool { return len(exectool.Solidity(in)) > 0 }

func (a *Adapter) Run(ctx context.Context, in analyzer.Input) ([]types.Finding, error) {
	bin, err := a.bin.Find()
	if err != nil {
		return nil, err
	}
	dir, cleanup, err := exectool.Workspace(exectool.Solidity(in))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{".", "--json", "-", "--disable-color"}
	if ex := in.Option(Name, "exclude"); ex != "" {
		args = append(args, "--exclude", ex)
	}
	if solc := in.Option(Name, "solc"); solc != "" {
		args = append(args, "--solc", solc)
	}
	// slither exits non-zero when detectors fire
	out, err := exectool.Run(ctx, Name, bin, dir, args, 1, 255)
	if err != nil {
		return nil, err
	}
	return parse(out, in)
}

type report struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Results struct {
		Detectors []detector `json:"detectors"`
	} `json:"results"`
}

type detector struct {
	Check       string    `json:"check"`
	Impact      string    `json:"impact"`
	Confidence  string    `json:"confidence"`
	Description string    `json:"description"`
	Elements    []element `json:"elements"`
}

type element struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	SourceMapping struct {
		Filename string `json:"filename_relative"`
		Lines    []int  `json:"lines"`
	} `json:"source_mapping"`
}

func parse(out []byte, in analyzer.Input) ([]types.Finding, error) {
	var r report
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("failed to parse slither JSON output: %w", err)
	}
	if !r.Success {
		return nil, fmt.Errorf("slither reported failure: %s", strings.TrimSpace(r.Error))
	}
	var findings []types.Finding
	for _, d := range r.Results.Detectors {
		f := types.Finding{
			RuleID:      d.Check,
			Title:       title(d.Check),
			Description: strings.TrimSpace(d.Description),
			Severity:    severity(d.Impact),
			Category:    category(d.Check, d.Impact),
			Confidence:  confidence(d.Confidence),
			Metadata:    map[string]string{"impact": d.Impact, "confidence": d.Confidence},
		}
		if len(d.Elements) > 0 {
			el := d.Elements[0]
			lines := el.SourceMapping.Lines
			if len(lines) > 0 {
				f.Location, f.Symbol = in.Locate(filepath.ToSlash(el.SourceMapping.Filename), lines[0])
				f.Location.EndLine = lines[len(lines)-1]
			} else {
				f.Location.Path = el.SourceMapping.Filename
			}
			if el.Type == "function" || el.Type == "modifier" {
				f.Symbol = el.Name
			}
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func title(check string) string {
	return strings.ReplaceAll(check, "-", " ")
}

func severity(impact string) types.Severity {
	switch strings.ToLower(impact) {
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

func confidence(c string) float64 {
	switch strings.ToLower(c) {
	case "high":
		return 0.9
	case "medium":
		return 0.7
	default:
		return 0.5
	}
}

var accessChecks = map[string]bool{
	"arbitrary-send-eth":      true,
	"arbitrary-send-erc20":    true,
	"suicidal":                true,
	"unprotected-upgrade":     true,
	"tx-origin":               true,
	"controlled-delegatecall": true,
	"protected-vars":          true,
}

var financialChecks = map[string]bool{
	"reentrancy-eth":         true,
	"reentrancy-no-eth":      true,
	"reentrancy-benign":      true,
	"unchecked-transfer":     true,
	"divide-before-multiply": true,
	"incorrect-equality":     true,
	"locked-ether":           true,
	"msg-value-loop":         true,
}

func category(check, impact string) types.Category {
	switch {
	case accessChecks[check]:
		return types.CatAccessControl
	case financialChecks[check]:
		return types.CatFinancial
	case strings.EqualFold(impact, "informational"), strings.EqualFold(impact, "optimization"):
		return types.CatInformational
	default:
		return types.CatTechnical
	}
}
