package report

import (
	"encoding/json"
	"os"

	"github.com/clauselens/clauselens/internal/types"
)

// Baseline is a set of accepted findings. Keys leave out line numbers so
// unrelated edits do not resurface accepted findings.
type Baseline struct {
	Items map[string]bool `json:"items"`
}

func LoadBaseline(path string) (Baseline, error) {
	b := Baseline{Items: map[string]bool{}}
	f, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(f, &b); err != nil {
		return b, err
	}
	if b.Items == nil {
		b.Items = map[string]bool{}
	}
	return b, nil
}

func SaveBaseline(path string, findings []types.Finding) error {
	b := Baseline{Items: map[string]bool{}}
	for _, f := range findings {
		if f.Synthetic {
			continue
		}
		b.Items[key(f)] = true
	}
	buf, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// FilterNewFindings drops findings already in the baseline.
func FilterNewFindings(findings []types.Finding, base Baseline) []types.Finding {
	var out []types.Finding
	for _, f := range findings {
		if !base.Items[key(f)] {
			out = append(out, f)
		}
	}
	return out
}

func key(f types.Finding) string {
	return f.Tool + "|" + f.RuleID + "|" + f.Symbol + "|" + f.Location.Path
}

// ShouldFail reports whether any real finding is at or above failOn.
// Unknown thresholds default to high.
func ShouldFail(findings []types.Finding, failOn string) bool {
	th := types.ParseSeverity(failOn).Rank()
	if failOn == "" || (th == 0 && failOn != string(types.SevInfo)) {
		th = types.SevHigh.Rank()
	}
	for _, f := range findings {
		if !f.Synthetic && f.Severity.Rank() >= th {
			return true
		}
	}
	return false
}
