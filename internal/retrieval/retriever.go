// Package retrieval ranks evidence spans for a query by combining lexical
// overlap with embedding similarity.
//
// Both signals are normalized against the query, not across candidates, so
// MinScore is an absolute relevance floor: a query nothing in the store
// answers yields an empty result rather than its least-bad span.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/embedding"
	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/textutil"
	"github.com/clauselens/clauselens/internal/types"
)

// Config weights the two signals and bounds the result.
type Config struct {
	LexicalWeight float64
	VectorWeight  float64
	MinScore      float64
	Limit         int
}

// DefaultConfig returns the documented retrieval policy.
func DefaultConfig() Config {
	return Config{LexicalWeight: 0.4, VectorWeight: 0.6, MinScore: 0.35, Limit: 5}
}

func (c Config) validate() error {
	if c.LexicalWeight < 0 || c.VectorWeight < 0 || c.LexicalWeight+c.VectorWeight == 0 {
		return fmt.Errorf("retrieval weights must be non-negative and not both zero")
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("retrieval min score %.2f outside [0,1]", c.MinScore)
	}
	return nil
}

// Query is a free-text question, a symbol, or a finding. Fields combine.
type Query struct {
	Text    string
	Symbol  *types.Symbol
	Finding *types.Finding
	// ArtifactIDs restricts candidates; empty searches the whole store.
	ArtifactIDs []string
	Limit       int
}

// String renders the query as search text.
func (q Query) String() string {
	var parts []string
	if q.Symbol != nil {
		parts = append(parts, q.Symbol.Name, q.Symbol.Signature)
		parts = append(parts, q.Symbol.Modifiers...)
	}
	if q.Finding != nil {
		parts = append(parts, q.Finding.Title, q.Finding.Symbol, q.Finding.Description)
	}
	if q.Text != "" {
		parts = append(parts, q.Text)
	}
	return strings.Join(parts, " ")
}

// Retriever searches an evidence store.
type Retriever struct {
	store *evidence.Store
	cfg   Config
	log   *zap.Logger
}

// New returns a retriever over store.
func New(store *evidence.Store, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	return &Retriever{store: store, cfg: cfg, log: logging.OrNop(logger).Named("retrieval")}, nil
}

// Config returns the retriever's policy.
func (r *Retriever) Config() Config { return r.cfg }

// Retrieve returns spans scoring at least MinScore, best first. The result
// is empty, never nil, when nothing qualifies.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]types.EvidenceSpan, error) {
	out := []types.EvidenceSpan{}
	text := q.String()
	qtoks := textutil.Tokenize(text)
	if len(qtoks) == 0 {
		return out, nil
	}
	candidates := r.store.Spans(q.ArtifactIDs...)
	if len(candidates) == 0 {
		return out, nil
	}

	vecs, err := r.store.Embedder().Embed(ctx, []string{text})
	if err != nil {
		return nil, &types.TransientToolError{Tool: "embedder:" + r.store.Embedder().Name(), Err: err}
	}
	qvec := vecs[0]

	docs := make([]map[string]struct{}, len(candidates))
	df := map[string]int{}
	for i, sp := range candidates {
		docs[i] = textutil.Set(sp.Text + " " + sp.Symbol)
		for t := range docs[i] {
			df[t]++
		}
	}
	n := float64(len(candidates))
	idf := func(t string) float64 {
		return math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
	}
	uniq := map[string]struct{}{}
	var ideal float64
	for _, t := range qtoks {
		if _, seen := uniq[t]; seen {
			continue
		}
		uniq[t] = struct{}{}
		ideal += idf(t)
	}

	wsum := r.cfg.LexicalWeight + r.cfg.VectorWeight
	for i, sp := range candidates {
		var lex float64
		for t := range uniq {
			if _, ok := docs[i][t]; ok {
				lex += idf(t)
			}
		}
		if ideal > 0 {
			lex /= ideal
		}
		var vec float64
		if v, ok := r.store.Vector(sp.ID); ok {
			vec = math.Max(0, embedding.Cosine(qvec, v))
		}
		score := (r.cfg.LexicalWeight*lex + r.cfg.VectorWeight*vec) / wsum
		if score < r.cfg.MinScore {
			continue
		}
		sp.Score = math.Round(score*1e4) / 1e4
		out = append(out, sp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	limit := q.Limit
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	r.log.Debug("retrieved",
		zap.String("query", text),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(out)))
	return out, nil
}
