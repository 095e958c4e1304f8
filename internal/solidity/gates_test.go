package solidity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessGates(t *testing.T) {
	src := `contract A {
    address owner;
    modifier onlyOwner() { require(msg.sender == owner); _; }
    modifier guarded() { require(owner == msg.sender); _; }
    modifier whenNotPaused() { _; }
    function a() external onlyOwner {}
    function b() external guarded whenNotPaused {}
    function c() external { require(msg.sender == owner); }
    function d() external whenNotPaused {}
    function e() external view returns (address) { return owner; }
}`
	u, err := Parse("A.sol", []byte(src))
	require.NoError(t, err)
	syms := u.Contracts[0].Symbols
	gates := AccessGates(syms)
	assert.Equal(t, map[string]bool{"onlyOwner": true, "guarded": true}, gates)

	got := map[string][]string{}
	for _, s := range syms {
		if StateChanging(s) {
			got[s.Name] = GatedBy(s, gates)
		}
	}
	assert.Equal(t, []string{"onlyOwner"}, got["a"])
	assert.Equal(t, []string{"guarded"}, got["b"])
	assert.Equal(t, []string{InlineSenderCheck}, got["c"])
	assert.Empty(t, got["d"])
	_, hasView := got["e"]
	assert.False(t, hasView)
}
