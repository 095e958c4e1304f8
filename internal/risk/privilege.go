package risk

import (
	"sort"

	"github.com/clauselens/clauselens/internal/solidity"
	"github.com/clauselens/clauselens/internal/types"
)

// Privileges maps each access gate of snap to the state-changing
// functions it protects, sorted by role then symbol.
func Privileges(snap *types.Snapshot) []types.Privilege {
	if snap == nil {
		return nil
	}
	gates := solidity.AccessGates(snap.Symbols)
	byRole := map[string]map[string]bool{}
	for _, fn := range snap.Functions() {
		if !solidity.StateChanging(fn) {
			continue
		}
		for _, role := range solidity.GatedBy(fn, gates) {
			if byRole[role] == nil {
				byRole[role] = map[string]bool{}
			}
			byRole[role][fn.Name] = true
		}
	}
	out := make([]types.Privilege, 0, len(byRole))
	for role, syms := range byRole {
		p := types.Privilege{Role: role}
		for s := range syms {
			p.Symbols = append(p.Symbols, s)
		}
		sort.Strings(p.Symbols)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}
