package solidity

import (
	"strconv"
	"strings"

	"github.com/clauselens/clauselens/internal/types"
)

// Layout assigns storage slots to the state variables of the named contract,
// including those inherited from bases declared in the same units. Bases are
// laid out first, left to right, each at most once.
func Layout(units []*Unit, contract string) []types.StorageSlot {
	byName := map[string]*Contract{}
	for _, u := range units {
		for i := range u.Contracts {
			c := &u.Contracts[i]
			byName[c.Name] = c
		}
	}
	var order []*Contract
	seen := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		c, ok := byName[name]
		if !ok {
			return
		}
		for _, b := range c.Bases {
			visit(b)
		}
		order = append(order, c)
	}
	visit(contract)

	var out []types.StorageSlot
	slot, used := 0, 0
	for _, c := range order {
		for _, v := range c.stateVars {
			if v.constant {
				continue
			}
			size, packable := typeSize(v.typ)
			if !packable || used+size > 32 {
				if used > 0 {
					slot++
					used = 0
				}
			}
			out = append(out, types.StorageSlot{Slot: slot, Offset: used, Name: v.name, Type: v.typ})
			if !packable {
				slot++
				used = 0
				continue
			}
			used += size
			if used == 32 {
				slot++
				used = 0
			}
		}
	}
	return out
}

// typeSize returns the byte width of an elementary value type. Mappings,
// arrays, strings, bytes and user types occupy whole slots.
func typeSize(t string) (int, bool) {
	switch {
	case strings.ContainsAny(t, "[("), t == "string", t == "bytes":
		return 32, false
	case t == "bool":
		return 1, true
	case t == "address":
		return 20, true
	case strings.HasPrefix(t, "uint"):
		return bitsToBytes(t[4:])
	case strings.HasPrefix(t, "int"):
		return bitsToBytes(t[3:])
	case strings.HasPrefix(t, "bytes"):
		n, err := strconv.Atoi(t[5:])
		if err != nil || n < 1 || n > 32 {
			return 32, false
		}
		return n, true
	}
	return 32, false
}

func bitsToBytes(s string) (int, bool) {
	if s == "" {
		return 32, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n%8 != 0 || n < 8 || n > 256 {
		return 32, false
	}
	return n / 8, true
}

// Primary picks the contract a unit set is "about": the last concrete
// contract declared, falling back to the last declaration of any kind.
func Primary(units []*Unit) *Contract {
	var last, concrete *Contract
	for _, u := range units {
		for i := range u.Contracts {
			c := &u.Contracts[i]
			last = c
			if c.Kind == KindContract {
				concrete = c
			}
		}
	}
	if concrete != nil {
		return concrete
	}
	return last
}
