package synth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/types"
)

func TestSubmissionDraft(t *testing.T) {
	var sub submission
	require.NoError(t, json.Unmarshal([]byte(`{
		"sentences": [{"text": " Only the owner can pause. ", "citations": ["span:pause"]}],
		"confidence": 0.7,
		"risk_category": "access-control",
		"risk_severity": "medium",
		"risk_title": "centralized pause"
	}`), &sub))
	d := sub.draft()
	require.Len(t, d.Sentences, 1)
	assert.Equal(t, "Only the owner can pause.", d.Sentences[0].Text)
	assert.Equal(t, 0.7, d.Confidence)
	require.NotNil(t, d.Risk)
	assert.Equal(t, types.CatAccessControl, d.Risk.Category)
	assert.Equal(t, types.SevMed, d.Risk.Severity)
}

func TestFormatPromptListsSpanIDs(t *testing.T) {
	p := formatPrompt(Prompt{Topic: "pause", Spans: []types.EvidenceSpan{
		{ID: "span:1", Path: "Token.sol", StartLine: 13, EndLine: 15, Text: "function pause() external onlyOwner {}"},
	}})
	assert.Contains(t, p, "TOPIC: pause")
	assert.Contains(t, p, "[span:1] Token.sol lines 13-15")
	assert.Contains(t, p, "onlyOwner")
}

func TestNewLLMRequiresKey(t *testing.T) {
	_, err := NewLLM(context.Background(), LLMConfig{Model: "gpt-4o-mini"})
	assert.ErrorContains(t, err, "API key")
}

func TestRegisterDiffersByMode(t *testing.T) {
	assert.NotEqual(t, register(types.ModeELI5), register(types.ModeAuditor))
	assert.NotEqual(t, register(types.ModeEngineer), register(types.ModeAuditor))
}
