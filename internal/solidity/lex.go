package solidity

import (
	"errors"
	"fmt"
)

var errUnbalanced = errors.New("unbalanced braces")

// stripComments blanks out comments while keeping byte offsets and newlines
// intact so positions in the stripped text map back to the original.
func stripComments(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	for i := 0; i < len(out); i++ {
		switch c := out[i]; {
		case c == '"' || c == '\'':
			i = skipString(out, i)
		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			for i < len(out) && !(out[i] == '*' && i+1 < len(out) && out[i+1] == '/') {
				if out[i] != '\n' {
					out[i] = ' '
				}
				i++
			}
			if i < len(out) {
				out[i], out[i+1] = ' ', ' '
				i++
			}
		}
	}
	return out
}

// skipString returns the index of the closing quote of the literal opened at i.
func skipString(b []byte, i int) int {
	q := b[i]
	for j := i + 1; j < len(b); j++ {
		switch b[j] {
		case '\\':
			j++
		case q:
			return j
		case '\n':
			return j
		}
	}
	return len(b) - 1
}

// matchClose returns the index of the bracket closing the one at open.
func matchClose(b []byte, open int) (int, error) {
	var closer byte
	switch b[open] {
	case '{':
		closer = '}'
	case '(':
		closer = ')'
	case '[':
		closer = ']'
	default:
		return 0, fmt.Errorf("no bracket at offset %d", open)
	}
	opener := b[open]
	depth := 0
	for i := open; i < len(b); i++ {
		switch c := b[i]; c {
		case '"', '\'':
			i = skipString(b, i)
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: bracket at offset %d never closes", errUnbalanced, open)
}

// statement is a top-level declaration inside a contract body.
type statement struct {
	start, end int // end is exclusive
	text       string
	bodyStart  int // offset of '{', -1 when the statement has no block
}

// splitStatements splits b[from:to] into top-level statements.
func splitStatements(b []byte, from, to int) ([]statement, error) {
	var out []statement
	i := from
	for i < to {
		for i < to && isSpace(b[i]) {
			i++
		}
		if i >= to {
			break
		}
		start := i
		parens := 0
		done := false
		for i < to && !done {
			switch c := b[i]; c {
			case '"', '\'':
				i = skipString(b, i)
			case '(':
				parens++
			case ')':
				parens--
			case ';':
				if parens == 0 {
					out = append(out, statement{start: start, end: i + 1, text: string(b[start : i+1]), bodyStart: -1})
					done = true
				}
			case '{':
				if parens == 0 {
					end, err := matchClose(b, i)
					if err != nil {
						return nil, err
					}
					if end >= to {
						return nil, fmt.Errorf("%w: block at offset %d escapes contract body", errUnbalanced, i)
					}
					out = append(out, statement{start: start, end: end + 1, text: string(b[start : end+1]), bodyStart: i})
					i = end
					done = true
				}
			case '}':
				return nil, fmt.Errorf("%w: stray '}' at offset %d", errUnbalanced, i)
			}
			i++
		}
		if !done {
			return nil, fmt.Errorf("unterminated declaration at offset %d", start)
		}
	}
	return out, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdent(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// tokens splits s into identifiers, bracket groups and single punctuation.
// A bracket group such as "(uint256 a)" is returned as one token.
func tokens(s string) []string {
	b := []byte(s)
	var out []string
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case isSpace(c):
			i++
		case isIdent(c):
			j := i
			for j < len(b) && (isIdent(b[j]) || b[j] == '.') {
				j++
			}
			out = append(out, s[i:j])
			i = j
		case c == '(' || c == '[':
			end, err := matchClose(b, i)
			if err != nil {
				out = append(out, s[i:])
				return out
			}
			out = append(out, s[i:end+1])
			i = end + 1
		default:
			out = append(out, s[i:i+1])
			i++
		}
	}
	return out
}

// splitTopLevel splits s on sep outside of brackets.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	out = append(out, s[last:])
	return out
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex []int

func newLineIndex(b []byte) lineIndex {
	idx := lineIndex{0}
	for i, c := range b {
		if c == '\n' {
			idx = append(idx, i+1)
		}
	}
	return idx
}

func (l lineIndex) line(off int) int {
	lo, hi := 0, len(l)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if l[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
