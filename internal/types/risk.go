package types

// SourceKind distinguishes the origins a risk can be derived from.
type SourceKind string

const (
	SourceFinding SourceKind = "finding"
	SourceClaim   SourceKind = "claim"
)

// RiskSource references a finding or claim a risk was derived from.
type RiskSource struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

// Risk is a scored assessment. Score is in [0,1] and Sources is never empty.
type Risk struct {
	ID          string       `json:"id"`
	Category    Category     `json:"category"`
	Severity    Severity     `json:"severity"`
	Title       string       `json:"title"`
	Symbol      string       `json:"symbol,omitempty"`
	Probability float64      `json:"probability"`
	Impact      float64      `json:"impact"`
	Score       float64      `json:"score"`
	Sources     []RiskSource `json:"sources"`
	Discovered  int          `json:"discovered"`
}

// Privilege maps a gate (modifier or role check) to the symbols it protects.
type Privilege struct {
	Role    string   `json:"role"`
	Symbols []string `json:"symbols"`
}

// RiskSummary aggregates a run's risk set.
type RiskSummary struct {
	OverallScore float64        `json:"overall_score"`
	BySeverity   map[string]int `json:"by_severity"`
	ByCategory   map[string]int `json:"by_category"`
	Findings     int            `json:"findings"`
	Refusals     int            `json:"refusals"`
	Text         string         `json:"text"`
}
