package solidity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clauselens/clauselens/internal/types"
)

type abiParam struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Components []abiParam `json:"components,omitempty"`
}

type abiEntry struct {
	Type            string     `json:"type"`
	Name            string     `json:"name"`
	Inputs          []abiParam `json:"inputs"`
	StateMutability string     `json:"stateMutability"`
}

// ParseABI reads a JSON ABI document into function and event symbols.
func ParseABI(data []byte) ([]types.Symbol, error) {
	var entries []abiEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			ABI []abiEntry `json:"abi"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil || wrapped.ABI == nil {
			return nil, fmt.Errorf("parse abi: %w", err)
		}
		entries = wrapped.ABI
	}
	var out []types.Symbol
	for _, e := range entries {
		sig := e.Name + "(" + abiTypes(e.Inputs) + ")"
		switch e.Type {
		case "function", "":
			out = append(out, types.Symbol{
				Kind:       types.SymFunction,
				Name:       e.Name,
				Signature:  sig,
				Visibility: "external",
				Mutability: e.StateMutability,
				Selector:   Selector(sig),
			})
		case "event":
			out = append(out, types.Symbol{
				Kind:      types.SymEvent,
				Name:      e.Name,
				Signature: sig,
				Selector:  EventTopic(sig),
			})
		}
	}
	return out, nil
}

func abiTypes(params []abiParam) string {
	parts := make([]string, len(params))
	for i, p := range params {
		t := p.Type
		if strings.HasPrefix(t, "tuple") {
			t = "(" + abiTypes(p.Components) + ")" + strings.TrimPrefix(t, "tuple")
		}
		parts[i] = t
	}
	return strings.Join(parts, ",")
}
