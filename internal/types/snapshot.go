package types

// VerificationStatus is the Verifier's verdict on a snapshot.
type VerificationStatus string

const (
	StatusVerified   VerificationStatus = "verified"
	StatusUnverified VerificationStatus = "unverified"
	StatusMismatched VerificationStatus = "mismatched"
)

// SymbolKind enumerates the declarations tracked on a snapshot.
type SymbolKind string

const (
	SymFunction SymbolKind = "function"
	SymModifier SymbolKind = "modifier"
	SymEvent    SymbolKind = "event"
	SymStateVar SymbolKind = "state_variable"
)

// Symbol is one declaration of a contract.
type Symbol struct {
	Kind       SymbolKind `json:"kind"`
	Contract   string     `json:"contract,omitempty"`
	Name       string     `json:"name"`
	Signature  string     `json:"signature"`
	Visibility string     `json:"visibility,omitempty"`
	Mutability string     `json:"mutability,omitempty"`
	Selector   string     `json:"selector,omitempty"`
	Modifiers  []string   `json:"modifiers,omitempty"`
	Type       string     `json:"type,omitempty"`
	ArtifactID string     `json:"artifact_id,omitempty"`
	StartLine  int        `json:"start_line,omitempty"`
	EndLine    int        `json:"end_line,omitempty"`
	StartByte  int        `json:"start_byte,omitempty"`
	EndByte    int        `json:"end_byte,omitempty"`
	Body       string     `json:"-"`
}

// StorageSlot is one entry of a contract's storage layout.
type StorageSlot struct {
	Slot   int    `json:"slot"`
	Offset int    `json:"offset"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// ProxyKind names a resolved indirection scheme.
type ProxyKind string

const (
	ProxyNone        ProxyKind = ""
	ProxyTransparent ProxyKind = "transparent"
	ProxyUUPS        ProxyKind = "uups"
	ProxyBeacon      ProxyKind = "beacon"
)

// Snapshot is a named view of one or more artifacts representing one
// analyzable unit. Identity is stable across runs of the same contract.
type Snapshot struct {
	Identity           string             `json:"identity"`
	Name               string             `json:"name"`
	Version            string             `json:"version,omitempty"`
	ChainID            string             `json:"chain_id,omitempty"`
	Address            string             `json:"address,omitempty"`
	Implementation     string             `json:"implementation,omitempty"`
	ProxyKind          ProxyKind          `json:"proxy_kind,omitempty"`
	ProxyChain         []string           `json:"proxy_chain,omitempty"`
	CompilerVersion    string             `json:"compiler_version,omitempty"`
	Pragma             string             `json:"pragma,omitempty"`
	ArtifactIDs        []string           `json:"artifact_ids"`
	Symbols            []Symbol           `json:"symbols"`
	Storage            []StorageSlot      `json:"storage,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationNote   string             `json:"verification_note,omitempty"`
}

// Symbol returns the first symbol named name, or false.
func (s *Snapshot) Symbol(name string) (Symbol, bool) {
	for _, sym := range s.Symbols {
		if sym.Name == name {
			return sym, true
		}
	}
	return Symbol{}, false
}

// Functions returns the function symbols in declaration order.
func (s *Snapshot) Functions() []Symbol {
	var out []Symbol
	for _, sym := range s.Symbols {
		if sym.Kind == SymFunction {
			out = append(out, sym)
		}
	}
	return out
}
