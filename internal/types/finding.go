package types

// Location points at a source range inside an artifact.
type Location struct {
	ArtifactID string `json:"artifact_id,omitempty"`
	Path       string `json:"path,omitempty"`
	StartLine  int    `json:"start_line,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
}

// Finding is a discrete output of an analysis tool. Confidence is in [0,1].
type Finding struct {
	ID          string            `json:"id"`
	Tool        string            `json:"tool"`
	RuleID      string            `json:"rule_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Severity    Severity          `json:"severity"`
	Category    Category          `json:"category"`
	Confidence  float64           `json:"confidence"`
	Symbol      string            `json:"symbol,omitempty"`
	Location    Location          `json:"location"`
	Discovered  int               `json:"discovered"`
	Synthetic   bool              `json:"synthetic,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
