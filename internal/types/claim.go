package types

// RefusalInsufficientEvidence is the reason recorded when a claim cannot be
// grounded in retrieved spans.
const RefusalInsufficientEvidence = "insufficient evidence"

// Refusal replaces a claim that could not be grounded.
type Refusal struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Sentence is one asserted statement and the spans backing it.
type Sentence struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}

// Claim is a synthesized explanation unit. Either Sentences carry at least
// one citation each, or Refusal is set and Sentences is empty.
type Claim struct {
	ID         string      `json:"id"`
	Topic      string      `json:"topic"`
	Mode       ExplainMode `json:"mode"`
	Sentences  []Sentence  `json:"sentences,omitempty"`
	Citations  []string    `json:"citations,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Caveats    []string    `json:"caveats,omitempty"`
	Risk       *ClaimRisk  `json:"risk,omitempty"`
	Refusal    *Refusal    `json:"refusal,omitempty"`
	Discovered int         `json:"discovered"`
}

// ClaimRisk is a risk assertion carried by a grounded claim.
type ClaimRisk struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
}

// Refused reports whether the claim was replaced by a refusal.
func (c Claim) Refused() bool { return c.Refusal != nil }

// Text joins the claim's sentences.
func (c Claim) Text() string {
	out := ""
	for i, s := range c.Sentences {
		if i > 0 {
			out += " "
		}
		out += s.Text
	}
	return out
}
