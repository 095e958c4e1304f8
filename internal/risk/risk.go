// Package risk merges findings and grounded claims into scored risks.
//
// Scoring is a pure function of the input set: sources are grouped by
// (category, symbol), processed in ID order, and every score is rounded,
// so re-aggregating the same findings and claims reproduces the same risks
// bit for bit.
package risk

import (
	"fmt"
	"math"
	"sort"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/clauselens/clauselens/internal/types"
)

// Weights are the probability and impact assigned to a severity.
type Weights struct {
	Probability float64
	Impact      float64
}

// Table maps tool-reported severity to weights.
type Table map[types.Severity]Weights

// DefaultTable is the documented severity policy.
func DefaultTable() Table {
	return Table{
		types.SevCritical: {Probability: 0.9, Impact: 1.0},
		types.SevHigh:     {Probability: 0.7, Impact: 0.8},
		types.SevMed:      {Probability: 0.5, Impact: 0.5},
		types.SevLow:      {Probability: 0.3, Impact: 0.25},
		types.SevInfo:     {Probability: 0.1, Impact: 0.05},
	}
}

// Override returns a copy of t with the given severities replaced. Values
// outside [0,1] are rejected.
func (t Table) Override(over map[string]Weights) (Table, error) {
	out := Table{}
	for k, v := range t {
		out[k] = v
	}
	for name, w := range over {
		sev := types.ParseSeverity(name)
		if w.Probability < 0 || w.Probability > 1 || w.Impact < 0 || w.Impact > 1 {
			return nil, fmt.Errorf("risk weights for %s must be within [0,1]", name)
		}
		out[sev] = w
	}
	return out, nil
}

// Aggregator scores risks. It holds no state between calls.
type Aggregator struct {
	table Table
}

// New returns an aggregator using table, or DefaultTable when nil.
func New(table Table) *Aggregator {
	if table == nil {
		table = DefaultTable()
	}
	return &Aggregator{table: table}
}

// Result is the output of one aggregation.
type Result struct {
	Risks   []types.Risk      `json:"risks"`
	Summary types.RiskSummary `json:"summary"`
}

type source struct {
	ref         types.RiskSource
	category    types.Category
	symbol      string
	group       string
	severity    types.Severity
	title       string
	probability float64
	impact      float64
	discovered  int
}

// Aggregate derives risks from findings and claims. Synthetic findings and
// refusals never produce risks; claims contribute only when they assert one.
func (a *Aggregator) Aggregate(findings []types.Finding, claims []types.Claim) Result {
	var sources []source
	for _, f := range findings {
		if f.Synthetic {
			continue
		}
		w := a.weights(f.Severity)
		group := f.Symbol
		if group == "" {
			group = "rule:" + f.RuleID
		}
		sources = append(sources, source{
			ref:         types.RiskSource{Kind: types.SourceFinding, ID: f.ID},
			category:    f.Category,
			symbol:      f.Symbol,
			group:       group,
			severity:    f.Severity,
			title:       f.Title,
			probability: w.Probability,
			impact:      w.Impact,
			discovered:  f.Discovered,
		})
	}
	for _, c := range claims {
		if c.Refused() || c.Risk == nil {
			continue
		}
		w := a.weights(c.Risk.Severity)
		sources = append(sources, source{
			ref:         types.RiskSource{Kind: types.SourceClaim, ID: c.ID},
			category:    c.Risk.Category,
			symbol:      c.Topic,
			group:       c.Topic,
			severity:    c.Risk.Severity,
			title:       c.Risk.Title,
			probability: clamp(c.Confidence),
			impact:      w.Impact,
			// claims are produced after every finding
			discovered: len(findings) + c.Discovered,
		})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].ref.Kind != sources[j].ref.Kind {
			return sources[i].ref.Kind < sources[j].ref.Kind
		}
		return sources[i].ref.ID < sources[j].ref.ID
	})

	groups := map[string][]source{}
	var keys []string
	for _, s := range sources {
		k := string(s.category) + "|" + s.group
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}

	risks := make([]types.Risk, 0, len(keys))
	for _, k := range keys {
		risks = append(risks, build(k, groups[k]))
	}
	Sort(risks)

	return Result{Risks: risks, Summary: summarize(risks, findings, claims)}
}

func (a *Aggregator) weights(s types.Severity) Weights {
	if w, ok := a.table[s]; ok {
		return w
	}
	return a.table[types.SevInfo]
}

// build combines a group's sources: probability is the chance any source
// is real (noisy-or), impact and severity are the worst reported.
func build(key string, srcs []source) types.Risk {
	r := types.Risk{
		ID:       fmt.Sprintf("risk:%016x", xxhash.Sum64String(key)),
		Category: srcs[0].category,
		Symbol:   srcs[0].symbol,
		Severity: srcs[0].severity,
		Title:    srcs[0].title,
	}
	miss := 1.0
	r.Discovered = srcs[0].discovered
	for _, s := range srcs {
		miss *= 1 - s.probability
		if s.impact > r.Impact {
			r.Impact = s.impact
		}
		if s.severity.Rank() > r.Severity.Rank() {
			r.Severity, r.Title = s.severity, s.title
		}
		if s.discovered < r.Discovered {
			r.Discovered = s.discovered
		}
		r.Sources = append(r.Sources, s.ref)
	}
	r.Probability = round(1 - miss)
	r.Impact = round(r.Impact)
	r.Score = round(r.Probability * r.Impact)
	return r
}

// Sort orders risks by severity, then category priority, then earliest
// discovery, then ID.
func Sort(risks []types.Risk) {
	sort.SliceStable(risks, func(i, j int) bool {
		a, b := risks[i], risks[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Category.Priority() != b.Category.Priority() {
			return a.Category.Priority() < b.Category.Priority()
		}
		if a.Discovered != b.Discovered {
			return a.Discovered < b.Discovered
		}
		return a.ID < b.ID
	})
}

func summarize(risks []types.Risk, findings []types.Finding, claims []types.Claim) types.RiskSummary {
	s := types.RiskSummary{BySeverity: map[string]int{}, ByCategory: map[string]int{}}
	miss := 1.0
	for _, r := range risks {
		s.BySeverity[string(r.Severity)]++
		s.ByCategory[string(r.Category)]++
		miss *= 1 - r.Score
	}
	s.OverallScore = math.Min(1, round(1-miss))
	for _, f := range findings {
		if !f.Synthetic {
			s.Findings++
		}
	}
	for _, c := range claims {
		if c.Refused() {
			s.Refusals++
		}
	}
	s.Text = fmt.Sprintf("%d %s. %d %s. %d %s.",
		s.Findings, plural(s.Findings, "finding"),
		len(risks), plural(len(risks), "risk"),
		s.Refusals, plural(s.Refusals, "refusal"))
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Validate checks that every risk source still resolves to a finding or a
// grounded claim.
func Validate(risks []types.Risk, findings []types.Finding, claims []types.Claim) error {
	have := map[types.RiskSource]bool{}
	for _, f := range findings {
		if !f.Synthetic {
			have[types.RiskSource{Kind: types.SourceFinding, ID: f.ID}] = true
		}
	}
	for _, c := range claims {
		if !c.Refused() {
			have[types.RiskSource{Kind: types.SourceClaim, ID: c.ID}] = true
		}
	}
	for _, r := range risks {
		if len(r.Sources) == 0 {
			return &types.AggregationInconsistencyError{RiskID: r.ID}
		}
		for _, s := range r.Sources {
			if !have[s] {
				return &types.AggregationInconsistencyError{RiskID: r.ID, Source: s}
			}
		}
	}
	return nil
}
