// Package textutil holds the tokenizer shared by lexical retrieval, the
// hashing embedder and the citation support check.
package textutil

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "so": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "when": {}, "which": {}, "with": {}, "can": {}, "will": {},
}

// Tokenize lowercases s, splits it on non-alphanumerics and camelCase
// boundaries, and drops stopwords and single characters.
func Tokenize(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 1 {
			w := string(cur)
			if _, stop := stopwords[w]; !stop {
				out = append(out, w)
			}
		}
		cur = cur[:0]
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
				flush()
			}
			cur = append(cur, unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return out
}

// Set returns the distinct tokens of s.
func Set(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range Tokenize(s) {
		out[t] = struct{}{}
	}
	return out
}

// Normalize collapses whitespace and lowercases s for substring comparisons.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
