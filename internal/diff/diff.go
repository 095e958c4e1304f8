// Package diff compares two analysis runs of one contract identity.
//
// Every collection in the output is keyed and sorted by a stable identity
// (symbol signature, storage position, risk id) so Compute(a, b) and
// Compute(b, a) describe the same changes with the sides swapped.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clauselens/clauselens/internal/types"
)

// Input is one side of a comparison.
type Input struct {
	RunID    string
	Snapshot *types.Snapshot
	Risks    []types.Risk
}

// Compute reports what changed going from a to b.
func Compute(a, b Input) (*types.Diff, error) {
	if a.Snapshot == nil || b.Snapshot == nil {
		return nil, fmt.Errorf("diff: both runs need a verified snapshot")
	}
	if a.Snapshot.Identity != b.Snapshot.Identity {
		return nil, fmt.Errorf("diff: identity mismatch: %s vs %s", a.Snapshot.Identity, b.Snapshot.Identity)
	}
	d := &types.Diff{
		Identity:  a.Snapshot.Identity,
		BaseRunID: a.RunID,
		HeadRunID: b.RunID,
	}
	d.AddedSymbols, d.RemovedSymbols, d.ModifiedSymbols = symbols(a.Snapshot.Symbols, b.Snapshot.Symbols)
	d.AddedSlots, d.RemovedSlots, d.ChangedSlots = slots(a.Snapshot.Storage, b.Snapshot.Storage)
	for _, c := range d.ChangedSlots {
		if c.Incompatible {
			d.Incompatible = true
		}
	}
	d.NewRisks, d.ResolvedRisks, d.ModifiedRisks = risks(a.Risks, b.Risks)
	return d, nil
}

// Empty reports whether d records no change at all.
func Empty(d *types.Diff) bool {
	return len(d.AddedSymbols)+len(d.RemovedSymbols)+len(d.ModifiedSymbols)+
		len(d.AddedSlots)+len(d.RemovedSlots)+len(d.ChangedSlots)+
		len(d.NewRisks)+len(d.ResolvedRisks)+len(d.ModifiedRisks) == 0
}

func symbolKey(s types.Symbol) string {
	return string(s.Kind) + "|" + s.Contract + "|" + s.Signature
}

func symbols(a, b []types.Symbol) (added, removed []types.Symbol, modified []types.SymbolChange) {
	before := index(a, symbolKey)
	after := index(b, symbolKey)
	for k, s := range after {
		if _, ok := before[k]; !ok {
			added = append(added, s)
		}
	}
	for k, old := range before {
		cur, ok := after[k]
		if !ok {
			removed = append(removed, old)
			continue
		}
		if fields := changedFields(old, cur); len(fields) > 0 {
			modified = append(modified, types.SymbolChange{Signature: old.Signature, Before: old, After: cur, Fields: fields})
		}
	}
	bySymbol := func(s []types.Symbol) {
		sort.Slice(s, func(i, j int) bool { return symbolKey(s[i]) < symbolKey(s[j]) })
	}
	bySymbol(added)
	bySymbol(removed)
	sort.Slice(modified, func(i, j int) bool { return symbolKey(modified[i].Before) < symbolKey(modified[j].Before) })
	return added, removed, modified
}

func changedFields(a, b types.Symbol) []string {
	var out []string
	if a.Visibility != b.Visibility {
		out = append(out, "visibility")
	}
	if a.Mutability != b.Mutability {
		out = append(out, "mutability")
	}
	if strings.Join(a.Modifiers, ",") != strings.Join(b.Modifiers, ",") {
		out = append(out, "modifiers")
	}
	if a.Selector != b.Selector {
		out = append(out, "selector")
	}
	if a.Type != b.Type {
		out = append(out, "type")
	}
	// bodies are not persisted with stored results
	if a.Body != "" && b.Body != "" && normalizeBody(a.Body) != normalizeBody(b.Body) {
		out = append(out, "body")
	}
	return out
}

func normalizeBody(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func slotKey(s types.StorageSlot) string {
	return fmt.Sprintf("%08d:%02d", s.Slot, s.Offset)
}

// slots compares layouts position by position. A changed position is
// incompatible when its type changed or when either occupant still exists
// at another position on the other side (a reorder).
func slots(a, b []types.StorageSlot) (added, removed []types.StorageSlot, changed []types.SlotChange) {
	before := index(a, slotKey)
	after := index(b, slotKey)
	namesA := names(a)
	namesB := names(b)
	for k, s := range after {
		if _, ok := before[k]; !ok {
			added = append(added, s)
		}
	}
	for k, old := range before {
		cur, ok := after[k]
		if !ok {
			removed = append(removed, old)
			continue
		}
		if old.Name == cur.Name && old.Type == cur.Type {
			continue
		}
		moved := old.Name != cur.Name && (namesB[old.Name] || namesA[cur.Name])
		changed = append(changed, types.SlotChange{
			Slot:         old.Slot,
			Offset:       old.Offset,
			Before:       old,
			After:        cur,
			Incompatible: old.Type != cur.Type || moved,
		})
	}
	bySlot := func(s []types.StorageSlot) {
		sort.Slice(s, func(i, j int) bool { return slotKey(s[i]) < slotKey(s[j]) })
	}
	bySlot(added)
	bySlot(removed)
	sort.Slice(changed, func(i, j int) bool {
		if changed[i].Slot != changed[j].Slot {
			return changed[i].Slot < changed[j].Slot
		}
		return changed[i].Offset < changed[j].Offset
	})
	return added, removed, changed
}

func names(layout []types.StorageSlot) map[string]bool {
	out := make(map[string]bool, len(layout))
	for _, s := range layout {
		out[s.Name] = true
	}
	return out
}

func risks(a, b []types.Risk) (added, resolved []types.Risk, modified []types.RiskChange) {
	key := func(r types.Risk) string { return r.ID }
	before := index(a, key)
	after := index(b, key)
	for id, r := range after {
		if _, ok := before[id]; !ok {
			added = append(added, r)
		}
	}
	for id, old := range before {
		cur, ok := after[id]
		if !ok {
			resolved = append(resolved, old)
			continue
		}
		if riskChanged(old, cur) {
			modified = append(modified, types.RiskChange{ID: id, Before: old, After: cur})
		}
	}
	byID := func(s []types.Risk) {
		sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
	}
	byID(added)
	byID(resolved)
	sort.Slice(modified, func(i, j int) bool { return modified[i].ID < modified[j].ID })
	return added, resolved, modified
}

// riskChanged ignores Discovered and source ids, which shift between runs
// without the assessment changing.
func riskChanged(a, b types.Risk) bool {
	return a.Severity != b.Severity || a.Score != b.Score ||
		a.Probability != b.Probability || a.Impact != b.Impact ||
		a.Title != b.Title || len(a.Sources) != len(b.Sources)
}

func index[T any](items []T, key func(T) string) map[string]T {
	out := make(map[string]T, len(items))
	for _, it := range items {
		k := key(it)
		if _, dup := out[k]; !dup {
			out[k] = it
		}
	}
	return out
}
