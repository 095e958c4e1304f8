package embedding

import (
	"context"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/clauselens/clauselens/internal/textutil"
)

// DefaultHashDimensions is used when no dimension is configured.
const DefaultHashDimensions = 256

// Hash is a feature-hashing embedder over tokens and token bigrams.
type Hash struct {
	dims int
}

// NewHash returns a hashing embedder with the given dimensionality.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &Hash{dims: dims}
}

func (h *Hash) Name() string    { return "hash" }
func (h *Hash) Dimensions() int { return h.dims }

// Embed implements Embedder.
func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.dims)
	toks := textutil.Tokenize(text)
	add := func(feature string, weight float32) {
		sum := xxhash.Sum64String(feature)
		idx := int(sum % uint64(h.dims))
		if sum>>63 == 1 {
			weight = -weight
		}
		v[idx] += weight
	}
	for i, t := range toks {
		add(t, 1)
		if i > 0 {
			add(toks[i-1]+" "+t, 0.5)
		}
	}
	normalize(v)
	return v
}
