// Package report assembles the structured report for a run and renders it
// for terminals and SARIF consumers. File typesetting (PDF, Markdown) is
// left to whoever consumes the structured Report.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/types"
)

// Section names one selectable part of a report.
type Section string

const (
	SectionSummary    Section = "summary"
	SectionFindings   Section = "findings"
	SectionClaims     Section = "claims"
	SectionRisks      Section = "risks"
	SectionPrivileges Section = "privileges"
	SectionDiff       Section = "diff"
	SectionDiagrams   Section = "diagrams"
)

// AllSections is the canonical section order.
var AllSections = []Section{
	SectionSummary, SectionFindings, SectionClaims, SectionRisks,
	SectionPrivileges, SectionDiff, SectionDiagrams,
}

// ParseSections validates names and returns them in canonical order
// without duplicates. No names selects every section.
func ParseSections(names []string) ([]Section, error) {
	if len(names) == 0 {
		return append([]Section(nil), AllSections...), nil
	}
	want := map[Section]bool{}
	for _, n := range names {
		s := Section(strings.ToLower(strings.TrimSpace(n)))
		if !s.valid() {
			return nil, fmt.Errorf("unknown report section %q", n)
		}
		want[s] = true
	}
	var out []Section
	for _, s := range AllSections {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (s Section) valid() bool {
	for _, a := range AllSections {
		if a == s {
			return true
		}
	}
	return false
}

// SpanSource resolves citation ids to stored evidence spans.
type SpanSource interface {
	Span(id string) (types.EvidenceSpan, bool)
}

// Options tune Compose.
type Options struct {
	// Spans, when set, attaches the cited evidence excerpts to the report.
	Spans SpanSource
	Now   func() time.Time
}

// Contract is the report's view of the analyzed snapshot.
type Contract struct {
	Identity           string `json:"identity"`
	Name               string `json:"name"`
	Version            string `json:"version,omitempty"`
	ChainID            string `json:"chain_id,omitempty"`
	Address            string `json:"address,omitempty"`
	Implementation     string `json:"implementation,omitempty"`
	ProxyKind          string `json:"proxy_kind,omitempty"`
	Compiler           string `json:"compiler,omitempty"`
	VerificationStatus string `json:"verification_status"`
	VerificationNote   string `json:"verification_note,omitempty"`
	Symbols            int    `json:"symbols"`
}

// Diagram is diagram source text for an external renderer.
type Diagram struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Source string `json:"source"`
}

// Report is the structured output of compose. Sections that were not
// requested stay empty.
type Report struct {
	RunID       string               `json:"run_id"`
	Identity    string               `json:"identity"`
	State       string               `json:"state"`
	GeneratedAt time.Time            `json:"generated_at"`
	Sections    []Section            `json:"sections"`
	Contract    *Contract            `json:"contract,omitempty"`
	Summary     *types.RiskSummary   `json:"summary,omitempty"`
	Findings    []types.Finding      `json:"findings,omitempty"`
	Claims      []types.Claim        `json:"claims,omitempty"`
	Evidence    []types.EvidenceSpan `json:"evidence,omitempty"`
	Risks       []types.Risk         `json:"risks,omitempty"`
	Privileges  []types.Privilege    `json:"privileges,omitempty"`
	Diff        *types.Diff          `json:"diff,omitempty"`
	Diagrams    []Diagram            `json:"diagrams,omitempty"`
	Failure     *pipeline.RunError   `json:"failure,omitempty"`
}

// Has reports whether s was requested.
func (r *Report) Has(s Section) bool {
	for _, x := range r.Sections {
		if x == s {
			return true
		}
	}
	return false
}

// Compose builds a report from whatever the run has produced. It works on
// failed and in-flight runs too; the failure is carried on the report.
func Compose(res pipeline.Results, sections []Section, opts Options) (*Report, error) {
	if res.RunID == "" {
		return nil, errors.New("compose: results have no run id")
	}
	for _, s := range sections {
		if !s.valid() {
			return nil, fmt.Errorf("compose: unknown section %q", s)
		}
	}
	if len(sections) == 0 {
		sections = AllSections
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	r := &Report{
		RunID:       res.RunID,
		Identity:    res.Identity,
		State:       string(res.State),
		GeneratedAt: now().UTC(),
		Failure:     res.Error,
	}
	r.Sections, _ = ParseSections(sectionNames(sections))
	if res.Snapshot != nil {
		r.Contract = contractOf(res.Snapshot)
	}

	for _, s := range r.Sections {
		switch s {
		case SectionSummary:
			r.Summary = res.Summary
		case SectionFindings:
			r.Findings = sortedFindings(res.Findings)
		case SectionClaims:
			r.Claims = append([]types.Claim(nil), res.Claims...)
			if opts.Spans != nil {
				r.Evidence = citedSpans(res.Claims, opts.Spans)
			}
		case SectionRisks:
			r.Risks = append([]types.Risk(nil), res.Risks...)
		case SectionPrivileges:
			r.Privileges = append([]types.Privilege(nil), res.Privileges...)
		case SectionDiff:
			r.Diff = res.Diff
		case SectionDiagrams:
			if len(res.Privileges) > 0 {
				r.Diagrams = append(r.Diagrams, Diagram{
					Name:   "privileges",
					Format: "mermaid",
					Source: PrivilegeFlowchart(contractName(res.Snapshot), res.Privileges),
				})
			}
		}
	}
	return r, nil
}

func sectionNames(ss []Section) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func contractOf(s *types.Snapshot) *Contract {
	return &Contract{
		Identity:           s.Identity,
		Name:               s.Name,
		Version:            s.Version,
		ChainID:            s.ChainID,
		Address:            s.Address,
		Implementation:     s.Implementation,
		ProxyKind:          string(s.ProxyKind),
		Compiler:           s.CompilerVersion,
		VerificationStatus: string(s.VerificationStatus),
		VerificationNote:   s.VerificationNote,
		Symbols:            len(s.Symbols),
	}
}

func contractName(s *types.Snapshot) string {
	if s == nil || s.Name == "" {
		return "contract"
	}
	return s.Name
}

// sortedFindings orders by severity, then location.
func sortedFindings(in []types.Finding) []types.Finding {
	out := append([]types.Finding(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Location.Path != b.Location.Path {
			return a.Location.Path < b.Location.Path
		}
		if a.Location.StartLine != b.Location.StartLine {
			return a.Location.StartLine < b.Location.StartLine
		}
		return a.ID < b.ID
	})
	return out
}

func citedSpans(claims []types.Claim, spans SpanSource) []types.EvidenceSpan {
	seen := map[string]bool{}
	var out []types.EvidenceSpan
	for _, c := range claims {
		for _, id := range c.Citations {
			if seen[id] {
				continue
			}
			seen[id] = true
			if sp, ok := spans.Span(id); ok {
				out = append(out, sp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PrivilegeFlowchart renders the privilege map as a mermaid flowchart.
func PrivilegeFlowchart(contract string, privs []types.Privilege) string {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	fmt.Fprintf(&b, "    c[%s]\n", mermaidLabel(contract))
	for i, p := range privs {
		fmt.Fprintf(&b, "    r%d([%s])\n", i, mermaidLabel(p.Role))
		for j, sym := range p.Symbols {
			fmt.Fprintf(&b, "    r%d --> s%d_%d[%s]\n", i, i, j, mermaidLabel(sym+"()"))
			fmt.Fprintf(&b, "    s%d_%d --- c\n", i, j)
		}
	}
	return b.String()
}

func mermaidLabel(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "#quot;") + `"`
}
