package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/types"
)

func fn(name, sig string, mods ...string) types.Symbol {
	return types.Symbol{Kind: types.SymFunction, Contract: "Vault", Name: name, Signature: sig, Visibility: "external", Modifiers: mods}
}

func runs() (Input, Input) {
	a := Input{
		RunID: "run-a",
		Snapshot: &types.Snapshot{
			Identity: "1:0xabc",
			Symbols: []types.Symbol{
				fn("deposit", "deposit()"),
				fn("withdraw", "withdraw(uint256)"),
				fn("pause", "pause()", "onlyOwner"),
			},
			Storage: []types.StorageSlot{
				{Slot: 0, Name: "owner", Type: "address"},
				{Slot: 1, Name: "total", Type: "uint256"},
				{Slot: 2, Name: "paused", Type: "bool"},
			},
		},
		Risks: []types.Risk{
			{ID: "risk:1", Severity: types.SevMed, Score: 0.25, Sources: []types.RiskSource{{Kind: types.SourceFinding, ID: "f1"}}},
			{ID: "risk:2", Severity: types.SevHigh, Score: 0.56, Sources: []types.RiskSource{{Kind: types.SourceFinding, ID: "f2"}}},
		},
	}
	b := Input{
		RunID: "run-b",
		Snapshot: &types.Snapshot{
			Identity: "1:0xabc",
			Symbols: []types.Symbol{
				fn("deposit", "deposit()"),
				fn("pause", "pause()"),
				fn("sweep", "sweep(address)", "onlyOwner"),
			},
			Storage: []types.StorageSlot{
				{Slot: 0, Name: "owner", Type: "address"},
				{Slot: 1, Name: "paused", Type: "bool"},
				{Slot: 2, Name: "total", Type: "uint256"},
				{Slot: 3, Name: "fee", Type: "uint256"},
			},
		},
		Risks: []types.Risk{
			{ID: "risk:1", Severity: types.SevHigh, Score: 0.56, Sources: []types.RiskSource{{Kind: types.SourceFinding, ID: "f9"}}},
			{ID: "risk:3", Severity: types.SevLow, Score: 0.075, Sources: []types.RiskSource{{Kind: types.SourceFinding, ID: "f3"}}},
		},
	}
	return a, b
}

func TestCompute(t *testing.T) {
	a, b := runs()
	d, err := Compute(a, b)
	require.NoError(t, err)

	require.Len(t, d.AddedSymbols, 1)
	assert.Equal(t, "sweep(address)", d.AddedSymbols[0].Signature)
	require.Len(t, d.RemovedSymbols, 1)
	assert.Equal(t, "withdraw(uint256)", d.RemovedSymbols[0].Signature)
	require.Len(t, d.ModifiedSymbols, 1)
	assert.Equal(t, []string{"modifiers"}, d.ModifiedSymbols[0].Fields)

	assert.Equal(t, []types.StorageSlot{{Slot: 3, Name: "fee", Type: "uint256"}}, d.AddedSlots)
	require.Len(t, d.ChangedSlots, 2)
	assert.True(t, d.ChangedSlots[0].Incompatible)
	assert.True(t, d.Incompatible)

	require.Len(t, d.NewRisks, 1)
	assert.Equal(t, "risk:3", d.NewRisks[0].ID)
	require.Len(t, d.ResolvedRisks, 1)
	assert.Equal(t, "risk:2", d.ResolvedRisks[0].ID)
	require.Len(t, d.ModifiedRisks, 1)
	assert.Equal(t, types.SevHigh, d.ModifiedRisks[0].After.Severity)
	assert.False(t, Empty(d))
}

func swap(d *types.Diff) *types.Diff {
	out := &types.Diff{
		Identity:       d.Identity,
		BaseRunID:      d.HeadRunID,
		HeadRunID:      d.BaseRunID,
		AddedSymbols:   d.RemovedSymbols,
		RemovedSymbols: d.AddedSymbols,
		AddedSlots:     d.RemovedSlots,
		RemovedSlots:   d.AddedSlots,
		Incompatible:   d.Incompatible,
		NewRisks:       d.ResolvedRisks,
		ResolvedRisks:  d.NewRisks,
	}
	for _, c := range d.ModifiedSymbols {
		out.ModifiedSymbols = append(out.ModifiedSymbols, types.SymbolChange{Signature: c.Signature, Before: c.After, After: c.Before, Fields: c.Fields})
	}
	for _, c := range d.ChangedSlots {
		out.ChangedSlots = append(out.ChangedSlots, types.SlotChange{Slot: c.Slot, Offset: c.Offset, Before: c.After, After: c.Before, Incompatible: c.Incompatible})
	}
	for _, c := range d.ModifiedRisks {
		out.ModifiedRisks = append(out.ModifiedRisks, types.RiskChange{ID: c.ID, Before: c.After, After: c.Before})
	}
	return out
}

func TestComputeIsSymmetric(t *testing.T) {
	a, b := runs()
	ab, err := Compute(a, b)
	require.NoError(t, err)
	ba, err := Compute(b, a)
	require.NoError(t, err)

	if d := cmp.Diff(swap(ab), ba); d != "" {
		t.Fatalf("diff(b,a) is not diff(a,b) swapped (-want +got):\n%s", d)
	}
}

func TestComputeSameRunIsEmpty(t *testing.T) {
	a, _ := runs()
	d, err := Compute(a, a)
	require.NoError(t, err)
	assert.True(t, Empty(d))
	assert.False(t, d.Incompatible)
}

func TestRenameIsCompatible(t *testing.T) {
	a, _ := runs()
	b := a
	snap := *a.Snapshot
	snap.Storage = []types.StorageSlot{
		{Slot: 0, Name: "admin", Type: "address"},
		{Slot: 1, Name: "total", Type: "uint256"},
		{Slot: 2, Name: "paused", Type: "bool"},
	}
	b.Snapshot = &snap
	d, err := Compute(a, b)
	require.NoError(t, err)
	require.Len(t, d.ChangedSlots, 1)
	assert.False(t, d.ChangedSlots[0].Incompatible)
	assert.False(t, d.Incompatible)
}

func TestComputeRejectsMismatchedIdentity(t *testing.T) {
	a, b := runs()
	b.Snapshot.Identity = "1:0xdef"
	_, err := Compute(a, b)
	require.Error(t, err)

	_, err = Compute(Input{}, b)
	require.Error(t, err)
}
