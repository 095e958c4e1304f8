package types

// SymbolChange pairs the before and after view of a modified symbol.
type SymbolChange struct {
	Signature string   `json:"signature"`
	Before    Symbol   `json:"before"`
	After     Symbol   `json:"after"`
	Fields    []string `json:"fields"`
}

// SlotChange describes a storage slot whose occupant changed.
type SlotChange struct {
	Slot         int         `json:"slot"`
	Offset       int         `json:"offset"`
	Before       StorageSlot `json:"before"`
	After        StorageSlot `json:"after"`
	Incompatible bool        `json:"incompatible"`
}

// RiskChange pairs the before and after view of a modified risk.
type RiskChange struct {
	ID     string `json:"id"`
	Before Risk   `json:"before"`
	After  Risk   `json:"after"`
}

// Diff is the structural and risk delta between two runs of one identity.
type Diff struct {
	Identity        string         `json:"identity"`
	BaseRunID       string         `json:"base_run_id"`
	HeadRunID       string         `json:"head_run_id"`
	AddedSymbols    []Symbol       `json:"added_symbols"`
	RemovedSymbols  []Symbol       `json:"removed_symbols"`
	ModifiedSymbols []SymbolChange `json:"modified_symbols"`
	AddedSlots      []StorageSlot  `json:"added_slots"`
	RemovedSlots    []StorageSlot  `json:"removed_slots"`
	ChangedSlots    []SlotChange   `json:"changed_slots"`
	Incompatible    bool           `json:"incompatible_layout"`
	NewRisks        []Risk         `json:"new_risks"`
	ResolvedRisks   []Risk         `json:"resolved_risks"`
	ModifiedRisks   []RiskChange   `json:"modified_risks"`
}
