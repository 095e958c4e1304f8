package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/types"
)

const tokenSrc = `pragma solidity ^0.8.20;
contract Token {
    mapping(address => uint256) balances;
    function transfer(address to, uint256 amount) external returns (bool) {
        balances[msg.sender] -= amount;
        balances[to] += amount;
        return true;
    }
    function approve(address spender, uint256 amount) external returns (bool) {
        return true;
    }
}
`

func seeded(t *testing.T) (*evidence.Store, types.Artifact) {
	t.Helper()
	s := evidence.New(nil)
	a, err := s.PutArtifact(context.Background(), []byte(tokenSrc), types.KindSource, types.OriginUploaded, "Token.sol")
	require.NoError(t, err)
	return s, a
}

func TestRetrieve_RanksMatchingDeclarationFirst(t *testing.T) {
	s, a := seeded(t)
	r, err := New(s, DefaultConfig(), nil)
	require.NoError(t, err)

	sym := types.Symbol{Name: "transfer", Signature: "transfer(address,uint256)"}
	spans, err := r.Retrieve(context.Background(), Query{Symbol: &sym, ArtifactIDs: []string{a.ID}})
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	assert.Equal(t, "transfer", spans[0].Symbol)
	assert.Contains(t, spans[0].Text, "function transfer")
	for i := 1; i < len(spans); i++ {
		assert.GreaterOrEqual(t, spans[i-1].Score, spans[i].Score)
	}
}

func TestRetrieve_EmptyBelowThreshold(t *testing.T) {
	s, _ := seeded(t)
	r, err := New(s, DefaultConfig(), nil)
	require.NoError(t, err)

	sym := types.Symbol{Name: "pause", Signature: "pause()", Modifiers: []string{"onlyOwner"}}
	spans, err := r.Retrieve(context.Background(), Query{Symbol: &sym})
	require.NoError(t, err)
	assert.NotNil(t, spans)
	assert.Empty(t, spans)
}

func TestRetrieve_EmptyStoreAndQuery(t *testing.T) {
	r, err := New(evidence.New(nil), DefaultConfig(), nil)
	require.NoError(t, err)
	spans, err := r.Retrieve(context.Background(), Query{Text: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, spans)
	assert.Empty(t, spans)

	s, _ := seeded(t)
	r, err = New(s, DefaultConfig(), nil)
	require.NoError(t, err)
	spans, err = r.Retrieve(context.Background(), Query{Text: "  "})
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestRetrieve_WeightsAreConfiguration(t *testing.T) {
	s, _ := seeded(t)
	lexOnly, err := New(s, Config{LexicalWeight: 1, VectorWeight: 0, MinScore: 0.99, Limit: 10}, nil)
	require.NoError(t, err)
	spans, err := lexOnly.Retrieve(context.Background(), Query{Text: "approve spender"})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "approve", spans[0].Symbol)
	assert.Equal(t, 1.0, spans[0].Score)
}

func TestRetrieve_Limit(t *testing.T) {
	s, _ := seeded(t)
	r, err := New(s, Config{LexicalWeight: 1, VectorWeight: 1, MinScore: 0, Limit: 10}, nil)
	require.NoError(t, err)
	spans, err := r.Retrieve(context.Background(), Query{Text: "amount", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, spans, 2)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	s := evidence.New(nil)
	_, err := New(s, Config{}, nil)
	assert.Error(t, err)
	_, err = New(s, Config{LexicalWeight: 1, MinScore: 2}, nil)
	assert.Error(t, err)
}

func TestQueryString(t *testing.T) {
	f := types.Finding{Title: "Privileged function", Symbol: "pause"}
	q := Query{Finding: &f, Text: "who can pause"}
	assert.Equal(t, "Privileged function pause  who can pause", q.String())
}
