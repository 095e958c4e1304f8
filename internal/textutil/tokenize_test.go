package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"transfer(address to, uint256 amount)", []string{"transfer", "address", "uint256", "amount"}},
		{"onlyOwner modifier", []string{"only", "owner", "modifier"}},
		{"The owner can pause", []string{"owner", "pause"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  A\n b\tC "))
}
