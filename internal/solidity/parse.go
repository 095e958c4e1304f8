package solidity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clauselens/clauselens/internal/types"
)

// ContractKind distinguishes the top-level unit declarations.
type ContractKind string

const (
	KindContract  ContractKind = "contract"
	KindAbstract  ContractKind = "abstract"
	KindInterface ContractKind = "interface"
	KindLibrary   ContractKind = "library"
)

// Contract is one contract, interface or library declared in a source unit.
type Contract struct {
	Name      string
	Kind      ContractKind
	Bases     []string
	Symbols   []types.Symbol
	StartLine int
	EndLine   int
	stateVars []stateVar
}

// Unit is a parsed source file.
type Unit struct {
	Path      string
	Pragma    string
	Contracts []Contract
}

type stateVar struct {
	name     string
	typ      string
	constant bool
}

var (
	pragmaRe   = regexp.MustCompile(`pragma\s+solidity\s+([^;]+);`)
	contractRe = regexp.MustCompile(`\b(abstract\s+contract|contract|interface|library)\s+([A-Za-z_$][\w$]*)([^{;]*)\{`)
)

// Parse extracts declarations from a Solidity source. It fails when the
// source has no contract or its brackets do not balance.
func Parse(path string, src []byte) (*Unit, error) {
	clean := stripComments(src)
	lines := newLineIndex(src)
	u := &Unit{Path: path}
	if m := pragmaRe.FindSubmatch(clean); m != nil {
		u.Pragma = strings.TrimSpace(string(m[1]))
	}

	pos := 0
	for pos < len(clean) {
		loc := contractRe.FindSubmatchIndex(clean[pos:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += pos
			}
		}
		open := loc[1] - 1
		close, err := matchClose(clean, open)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		c := Contract{
			Name:      string(clean[loc[4]:loc[5]]),
			Kind:      contractKind(string(clean[loc[2]:loc[3]])),
			Bases:     parseBases(string(clean[loc[6]:loc[7]])),
			StartLine: lines.line(loc[0]),
			EndLine:   lines.line(close),
		}
		stmts, err := splitStatements(clean, open+1, close)
		if err != nil {
			return nil, fmt.Errorf("%s: contract %s: %w", path, c.Name, err)
		}
		for _, st := range stmts {
			parseStatement(&c, st, src, lines)
		}
		u.Contracts = append(u.Contracts, c)
		pos = close + 1
	}
	if len(u.Contracts) == 0 {
		if depth := bracketBalance(clean); depth != 0 {
			return nil, fmt.Errorf("%s: %w", path, errUnbalanced)
		}
		return nil, fmt.Errorf("%s: no contract, interface or library declared", path)
	}
	return u, nil
}

func bracketBalance(b []byte) int {
	depth := 0
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '"', '\'':
			i = skipString(b, i)
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}

func contractKind(s string) ContractKind {
	switch {
	case strings.HasPrefix(s, "abstract"):
		return KindAbstract
	case s == "interface":
		return KindInterface
	case s == "library":
		return KindLibrary
	default:
		return KindContract
	}
}

func parseBases(s string) []string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "is") {
		return nil
	}
	var out []string
	for _, b := range splitTopLevel(strings.TrimSpace(s[2:]), ',') {
		b = strings.TrimSpace(b)
		if i := strings.IndexByte(b, '('); i >= 0 {
			b = strings.TrimSpace(b[:i])
		}
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseStatement(c *Contract, st statement, src []byte, lines lineIndex) {
	toks := tokens(st.text)
	if len(toks) == 0 {
		return
	}
	base := types.Symbol{
		Contract:  c.Name,
		StartLine: lines.line(st.start),
		EndLine:   lines.line(st.end - 1),
		StartByte: st.start,
		EndByte:   st.end,
	}
	if st.bodyStart >= 0 {
		base.Body = string(src[st.bodyStart:st.end])
	}
	switch toks[0] {
	case "function", "constructor", "receive", "fallback":
		if sym, ok := parseFunction(toks, c.Kind); ok {
			sym.Contract, sym.StartLine, sym.EndLine = base.Contract, base.StartLine, base.EndLine
			sym.StartByte, sym.EndByte, sym.Body = base.StartByte, base.EndByte, base.Body
			c.Symbols = append(c.Symbols, sym)
		}
	case "modifier":
		if len(toks) < 2 {
			return
		}
		sym := base
		sym.Kind = types.SymModifier
		sym.Name = toks[1]
		params := ""
		if len(toks) > 2 && strings.HasPrefix(toks[2], "(") {
			params = toks[2]
		}
		sym.Signature = sym.Name + "(" + strings.Join(paramTypes(params), ",") + ")"
		c.Symbols = append(c.Symbols, sym)
	case "event":
		if len(toks) < 3 {
			return
		}
		sym := base
		sym.Kind = types.SymEvent
		sym.Name = toks[1]
		sym.Signature = sym.Name + "(" + strings.Join(paramTypes(toks[2]), ",") + ")"
		sym.Selector = EventTopic(sym.Signature)
		c.Symbols = append(c.Symbols, sym)
	case "struct", "enum", "error", "using", "type", "pragma", "import":
	default:
		if st.bodyStart >= 0 {
			return
		}
		if sv, sym, ok := parseStateVar(toks); ok {
			sym.Contract, sym.StartLine, sym.EndLine = base.Contract, base.StartLine, base.EndLine
			sym.StartByte, sym.EndByte = base.StartByte, base.EndByte
			c.Symbols = append(c.Symbols, sym)
			c.stateVars = append(c.stateVars, sv)
		}
	}
}

func parseFunction(toks []string, kind ContractKind) (types.Symbol, bool) {
	sym := types.Symbol{Kind: types.SymFunction}
	i := 1
	switch toks[0] {
	case "function":
		if len(toks) < 3 {
			return sym, false
		}
		sym.Name = toks[1]
		i = 2
	default:
		sym.Name = toks[0]
	}
	if i >= len(toks) || !strings.HasPrefix(toks[i], "(") {
		return sym, false
	}
	params := toks[i]
	i++
	sym.Signature = sym.Name + "(" + strings.Join(paramTypes(params), ",") + ")"
	for ; i < len(toks); i++ {
		t := toks[i]
		switch t {
		case "{", ";":
			i = len(toks)
		case "public", "external", "internal", "private":
			sym.Visibility = t
		case "view", "pure", "payable", "nonpayable":
			sym.Mutability = t
		case "virtual":
		case "override", "returns":
			if i+1 < len(toks) && strings.HasPrefix(toks[i+1], "(") {
				i++
			}
		default:
			if isIdentToken(t) {
				if toks[0] != "constructor" {
					sym.Modifiers = append(sym.Modifiers, t)
				}
				if i+1 < len(toks) && strings.HasPrefix(toks[i+1], "(") {
					i++
				}
			}
		}
	}
	if sym.Visibility == "" {
		if kind == KindInterface || toks[0] == "receive" || toks[0] == "fallback" {
			sym.Visibility = "external"
		} else {
			sym.Visibility = "public"
		}
	}
	if sym.Mutability == "" {
		sym.Mutability = "nonpayable"
	}
	if toks[0] == "function" && (sym.Visibility == "public" || sym.Visibility == "external") {
		sym.Selector = Selector(sym.Signature)
	}
	return sym, true
}

func parseStateVar(toks []string) (stateVar, types.Symbol, bool) {
	if eq := indexOf(toks, "="); eq >= 0 {
		toks = toks[:eq]
	}
	if n := len(toks); n > 0 && toks[n-1] == ";" {
		toks = toks[:n-1]
	}
	if len(toks) < 2 {
		return stateVar{}, types.Symbol{}, false
	}
	typ, rest := readType(toks)
	if typ == "" || len(rest) == 0 {
		return stateVar{}, types.Symbol{}, false
	}
	sv := stateVar{typ: typ}
	sym := types.Symbol{Kind: types.SymStateVar, Type: typ, Visibility: "internal"}
	for _, t := range rest {
		switch t {
		case "public", "internal", "private":
			sym.Visibility = t
		case "constant", "immutable":
			sv.constant = true
			sym.Mutability = t
		case "override":
		default:
			if isIdentToken(t) {
				sv.name = t
			}
		}
	}
	if sv.name == "" {
		return stateVar{}, types.Symbol{}, false
	}
	sym.Name = sv.name
	sym.Signature = sv.name + ":" + typ
	if sym.Visibility == "public" {
		sym.Selector = Selector(sv.name + "()")
	}
	return sv, sym, true
}

// readType consumes a type expression from the front of toks.
func readType(toks []string) (string, []string) {
	i := 0
	var b strings.Builder
	switch {
	case toks[0] == "mapping" && len(toks) > 1:
		b.WriteString("mapping" + compact(toks[1]))
		i = 2
	default:
		b.WriteString(normalizeElementary(toks[0]))
		i = 1
		if toks[0] == "address" && i < len(toks) && toks[i] == "payable" {
			i++
		}
	}
	for i < len(toks) && strings.HasPrefix(toks[i], "[") {
		b.WriteString(compact(toks[i]))
		i++
	}
	return b.String(), toks[i:]
}

// paramTypes returns the canonical types of a "(...)" parameter group.
func paramTypes(group string) []string {
	group = strings.TrimSpace(group)
	if len(group) < 2 {
		return nil
	}
	inner := strings.TrimSpace(group[1 : len(group)-1])
	if inner == "" {
		return nil
	}
	var out []string
	for _, p := range splitTopLevel(inner, ',') {
		toks := tokens(p)
		if len(toks) == 0 {
			continue
		}
		typ, _ := readType(toks)
		out = append(out, typ)
	}
	return out
}

func normalizeElementary(t string) string {
	switch t {
	case "uint":
		return "uint256"
	case "int":
		return "int256"
	case "byte":
		return "bytes1"
	}
	return t
}

func compact(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " => ", "=>")
	s = strings.ReplaceAll(s, "( ", "(")
	s = strings.ReplaceAll(s, " )", ")")
	for _, w := range []string{"uint", "int"} {
		s = replaceWord(s, w, w+"256")
	}
	return s
}

func replaceWord(s, word, repl string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], word) &&
			(i == 0 || !isIdent(s[i-1])) &&
			(i+len(word) == len(s) || !isIdent(s[i+len(word)])) {
			b.WriteString(repl)
			i += len(word)
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isIdentToken(t string) bool {
	if t == "" {
		return false
	}
	for i := 0; i < len(t); i++ {
		if !isIdent(t[i]) && t[i] != '.' {
			return false
		}
	}
	return !(t[0] >= '0' && t[0] <= '9')
}

func indexOf(toks []string, want string) int {
	for i, t := range toks {
		if t == want {
			return i
		}
	}
	return -1
}
