package synth

import (
	"context"

	"github.com/clauselens/clauselens/internal/types"
)

// Prompt is what a backend is asked to explain, and the only material it
// may draw on.
type Prompt struct {
	Topic string
	Mode  types.ExplainMode
	Spans []types.EvidenceSpan
}

// Draft is a backend's proposed claim before grounding is checked.
type Draft struct {
	Sentences  []types.Sentence
	Confidence float64
	Risk       *types.ClaimRisk
}

// Backend produces drafts. Implementations must cite span IDs from the
// prompt; anything else fails the citation check.
type Backend interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (Draft, error)
}

// ErrMalformed marks a draft that could not be used at all. It is retried.
type ErrMalformed struct{ Reason string }

func (e *ErrMalformed) Error() string { return "malformed draft: " + e.Reason }

func validDraft(d Draft) error {
	if len(d.Sentences) == 0 {
		return &ErrMalformed{Reason: "no sentences"}
	}
	for _, s := range d.Sentences {
		if s.Text == "" {
			return &ErrMalformed{Reason: "empty sentence"}
		}
	}
	return nil
}

// register returns the instructions that set vocabulary for a mode.
func register(m types.ExplainMode) string {
	switch m {
	case types.ModeELI5:
		return "Explain for a reader with no programming background. Use short sentences and everyday words."
	case types.ModeAuditor:
		return "Explain for a security auditor. Name modifiers, state variables and trust assumptions precisely."
	default:
		return "Explain for a software engineer. Be concise and technical."
	}
}
