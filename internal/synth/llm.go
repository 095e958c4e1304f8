package synth

import (
	"context"
	"fmt"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openai"

	"github.com/clauselens/clauselens/internal/types"
)

const systemPrompt = `You explain smart contract behaviour to people deciding whether to trust it.

RULES:
- Use ONLY the evidence spans provided. Do not rely on outside knowledge of the contract.
- Every sentence must cite the ids of the spans it is based on.
- Quote or closely paraphrase the cited code; do not speculate beyond it.
- If the evidence does not answer the topic, submit a single sentence saying so, citing the closest span.
- Report a risk only when the cited code shows it, with category one of
  access-control, financial, technical, regulatory, informational.

Use the submit_explanation tool to return your explanation.`

// DefaultBaseURL is used when LLMConfig.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// LLMConfig configures an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// LLM is a language-model backend that returns its draft through a typed
// tool call.
type LLM struct {
	model fantasy.LanguageModel
	name  string
}

func NewLLM(ctx context.Context, cfg LLMConfig) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the llm backend")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	provider, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithAPIKey(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI provider: %w", err)
	}
	model, err := provider.LanguageModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create language model: %w", err)
	}
	return &LLM{model: model, name: "llm:" + cfg.Model}, nil
}

func (l *LLM) Name() string { return l.name }

type submission struct {
	Sentences []struct {
		Text      string   `json:"text"`
		Citations []string `json:"citations"`
	} `json:"sentences"`
	Confidence   float64 `json:"confidence"`
	RiskCategory string  `json:"risk_category,omitempty"`
	RiskSeverity string  `json:"risk_severity,omitempty"`
	RiskTitle    string  `json:"risk_title,omitempty"`
}

func (l *LLM) Generate(ctx context.Context, p Prompt) (Draft, error) {
	var sub *submission
	submit := fantasy.NewAgentTool(
		"submit_explanation",
		"Submit the cited explanation for this topic", func(
			_ context.Context,
			input submission,
			_ fantasy.ToolCall,
		) (fantasy.ToolResponse, error) {
			sub = &input
			return fantasy.ToolResponse{Content: "Explanation received"}, nil
		})

	agent := fantasy.NewAgent(l.model,
		fantasy.WithSystemPrompt(systemPrompt+"\n\n"+register(p.Mode)),
		fantasy.WithTools(submit))
	if _, err := agent.Generate(ctx, fantasy.AgentCall{Prompt: formatPrompt(p)}); err != nil {
		return Draft{}, &types.TransientToolError{Tool: l.name, Err: err}
	}
	if sub == nil {
		return Draft{}, &ErrMalformed{Reason: "submit_explanation was not called"}
	}
	return sub.draft(), nil
}

func (s *submission) draft() Draft {
	d := Draft{Confidence: s.Confidence}
	for _, sent := range s.Sentences {
		d.Sentences = append(d.Sentences, types.Sentence{Text: strings.TrimSpace(sent.Text), Citations: sent.Citations})
	}
	if s.RiskCategory != "" {
		d.Risk = &types.ClaimRisk{
			Category: types.Category(s.RiskCategory),
			Severity: types.ParseSeverity(s.RiskSeverity),
			Title:    s.RiskTitle,
		}
	}
	return d
}

func formatPrompt(p Prompt) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TOPIC: %s\n\nEVIDENCE SPANS:\n", p.Topic)
	for _, s := range p.Spans {
		fmt.Fprintf(&sb, "\n[%s] %s lines %d-%d\n%s\n", s.ID, s.Path, s.StartLine, s.EndLine, s.Text)
	}
	sb.WriteString("\nCite span ids exactly as written in brackets.")
	return sb.String()
}
