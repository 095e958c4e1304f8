package solidity

import (
	"regexp"
	"strings"

	"github.com/clauselens/clauselens/internal/types"
)

// InlineSenderCheck names the gate of a function that compares msg.sender
// in its own body rather than through a modifier.
const InlineSenderCheck = "msg.sender check"

var senderCheckRe = regexp.MustCompile(`msg\.sender\s*(==|!=)|(==|!=)\s*msg\.sender|hasRole\s*\(|_checkOwner\s*\(|_checkRole\s*\(`)

// AccessGates returns the modifiers among syms that restrict the caller,
// either by name convention (onlyX, auth, whenX excluded) or because their
// body checks msg.sender.
func AccessGates(syms []types.Symbol) map[string]bool {
	gates := map[string]bool{}
	for _, s := range syms {
		if s.Kind != types.SymModifier {
			continue
		}
		if strings.HasPrefix(s.Name, "only") || strings.EqualFold(s.Name, "auth") || senderCheckRe.MatchString(s.Body) {
			gates[s.Name] = true
		}
	}
	return gates
}

// GatedBy lists the access gates protecting fn: restricting modifiers,
// modifier names following the onlyX convention, and inline sender checks.
func GatedBy(fn types.Symbol, gates map[string]bool) []string {
	var out []string
	for _, m := range fn.Modifiers {
		if gates[m] || strings.HasPrefix(m, "only") {
			out = append(out, m)
		}
	}
	if len(out) == 0 && senderCheckRe.MatchString(fn.Body) {
		out = append(out, InlineSenderCheck)
	}
	return out
}

// StateChanging reports whether fn can modify state when called externally.
func StateChanging(fn types.Symbol) bool {
	if fn.Kind != types.SymFunction {
		return false
	}
	switch fn.Name {
	case "constructor", "receive", "fallback":
		return false
	}
	if fn.Visibility != "public" && fn.Visibility != "external" {
		return false
	}
	return fn.Mutability != "view" && fn.Mutability != "pure"
}
