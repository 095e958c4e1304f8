package synth

import (
	"context"
	"strings"

	"github.com/clauselens/clauselens/internal/types"
)

// Extractive is the offline backend. It quotes the declaration line of the
// best spans verbatim, so its drafts always pass the citation check.
type Extractive struct {
	// MaxSentences caps the quoted spans per claim.
	MaxSentences int
}

func (e Extractive) Name() string { return "extractive" }

func (e Extractive) Generate(ctx context.Context, p Prompt) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	n := e.MaxSentences
	if n <= 0 {
		n = 3
	}
	var d Draft
	for _, sp := range p.Spans {
		if len(d.Sentences) == n {
			break
		}
		line := headline(sp.Text)
		if line == "" {
			continue
		}
		d.Sentences = append(d.Sentences, types.Sentence{
			Text:      lead(p.Mode) + line,
			Citations: []string{sp.ID},
		})
	}
	if len(p.Spans) > 0 {
		d.Confidence = p.Spans[0].Score
	}
	return d, nil
}

func lead(m types.ExplainMode) string {
	switch m {
	case types.ModeELI5:
		return "Simply: "
	case types.ModeAuditor:
		return "Source: "
	default:
		return "Declaration: "
	}
}

// headline returns the first non-blank line of text, cut at a word
// boundary if long.
func headline(text string) string {
	for _, l := range strings.Split(text, "\n") {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" || l == "{" || l == "}" {
			continue
		}
		if len(l) > 160 {
			if i := strings.LastIndexByte(l[:160], ' '); i > 0 {
				l = l[:i]
			}
		}
		return l
	}
	return ""
}
