package synth

import (
	"fmt"

	"github.com/clauselens/clauselens/internal/textutil"
	"github.com/clauselens/clauselens/internal/types"
)

// SpanSource resolves span IDs. The evidence store implements it.
type SpanSource interface {
	Span(id string) (types.EvidenceSpan, bool)
}

// Check enforces cite-or-refuse on a draft. Every sentence must cite at
// least one span that was retrieved for this topic and still exists in the
// store, and at least threshold of the sentence's content tokens must
// appear in the cited text. The first violation fails the whole draft.
func Check(d Draft, retrieved []types.EvidenceSpan, store SpanSource, threshold float64, topic string) error {
	allowed := make(map[string]bool, len(retrieved))
	for _, s := range retrieved {
		allowed[s.ID] = true
	}
	for i, sent := range d.Sentences {
		if len(sent.Citations) == 0 {
			return &types.InsufficientEvidenceError{Topic: topic, Detail: fmt.Sprintf("sentence %d has no citation", i+1)}
		}
		support := map[string]struct{}{}
		for _, id := range sent.Citations {
			if !allowed[id] {
				return &types.InsufficientEvidenceError{Topic: topic, Detail: fmt.Sprintf("sentence %d cites %s, which was not retrieved", i+1, id)}
			}
			span, ok := store.Span(id)
			if !ok {
				return &types.InsufficientEvidenceError{Topic: topic, Detail: fmt.Sprintf("sentence %d cites unknown span %s", i+1, id)}
			}
			for tok := range textutil.Set(span.Text) {
				support[tok] = struct{}{}
			}
		}
		if r := coverage(sent.Text, support); r < threshold {
			return &types.InsufficientEvidenceError{Topic: topic, Detail: fmt.Sprintf("sentence %d is %.0f%% supported by its citations", i+1, r*100)}
		}
	}
	return nil
}

// coverage is the share of the sentence's distinct content tokens found in
// support. A sentence with no content tokens asserts nothing and is covered.
func coverage(sentence string, support map[string]struct{}) float64 {
	toks := textutil.Set(sentence)
	if len(toks) == 0 {
		return 1
	}
	hit := 0
	for t := range toks {
		if _, ok := support[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(toks))
}
