package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGenAIModel is the embedding model used when none is configured.
const DefaultGenAIModel = "gemini-embedding-001"

// GenAI embeds text with Google's embedding API.
type GenAI struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGenAI creates a GenAI embedder. dims of 0 keeps the model's default.
func NewGenAI(ctx context.Context, apiKey, model string, dims int) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai embedder requires an API key (GEMINI_API_KEY)")
	}
	if model == "" {
		model = DefaultGenAIModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if dims <= 0 {
		dims = 768
	}
	return &GenAI{client: client, model: model, dims: dims}, nil
}

func (g *GenAI) Name() string    { return "genai:" + g.model }
func (g *GenAI) Dimensions() int { return g.dims }

// Embed implements Embedder.
func (g *GenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	dims := int32(g.dims)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embed: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		v := make([]float32, len(e.Values))
		copy(v, e.Values)
		normalize(v)
		out[i] = v
	}
	return out, nil
}
