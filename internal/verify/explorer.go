package verify

import (
	"context"
	"encoding/hex"
	"strings"
)

// SourceInfo is verified source published for an address.
type SourceInfo struct {
	ContractName    string
	CompilerVersion string
	// Files maps source paths to their contents.
	Files map[string]string
	ABI   string
	// BytecodeHash, when the explorer knows it, is the keccak256 of the
	// runtime bytecode the published source compiles to.
	BytecodeHash string
}

// Explorer is the chain-data capability the Verifier depends on. It is the
// only network access the pipeline performs on its own.
type Explorer interface {
	// SourceCode returns nil, nil when the address has no verified source.
	SourceCode(ctx context.Context, chainID, address string) (*SourceInfo, error)
	Code(ctx context.Context, chainID, address string) ([]byte, error)
	StorageAt(ctx context.Context, chainID, address, slot string) ([]byte, error)
	Call(ctx context.Context, chainID, address string, data []byte) ([]byte, error)
}

// EIP-1967 storage slots.
const (
	SlotImplementation = "0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"
	SlotAdmin          = "0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103"
	SlotBeacon         = "0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50"
)

// implementationCall is the calldata of IBeacon.implementation().
var implementationCall = []byte{0x5c, 0x60, 0xda, 0x1b}

// NormalizeAddress lowercases and 0x-prefixes an address.
func NormalizeAddress(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	if !strings.HasPrefix(a, "0x") {
		a = "0x" + a
	}
	return a
}

// wordToAddress reads the low 20 bytes of a 32-byte word. It returns "" for
// the zero address.
func wordToAddress(word []byte) string {
	if len(word) < 20 {
		return ""
	}
	tail := word[len(word)-20:]
	zero := true
	for _, b := range tail {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return ""
	}
	return "0x" + hex.EncodeToString(tail)
}

// AddressWord left-pads an address into a 32-byte word.
func AddressWord(addr string) []byte {
	raw, err := hex.DecodeString(strings.TrimPrefix(NormalizeAddress(addr), "0x"))
	if err != nil {
		return make([]byte, 32)
	}
	word := make([]byte, 32)
	copy(word[32-len(raw):], raw)
	return word
}
