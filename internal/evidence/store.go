// Package evidence is the content-addressed, append-only store of artifacts
// and the evidence spans cut from them. Spans are embedded on ingestion so
// the retriever can rank them without touching the network.
package evidence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/embedding"
	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/types"
)

// MaxArtifactBytes bounds a single artifact.
const MaxArtifactBytes = 10 << 20

// Store holds artifacts, spans and span vectors. Nothing is mutated after
// insertion, so readers never observe a partially ingested artifact.
type Store struct {
	mu         sync.RWMutex
	artifacts  map[string]types.Artifact
	content    map[string][]byte
	spans      map[string]types.EvidenceSpan
	byArtifact map[string][]string
	vectors    map[string][]float32
	order      []string

	embedder embedding.Embedder
	chunk    ChunkOptions
	db       *sql.DB
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logging.OrNop(l).Named("evidence") }
}

// WithChunking overrides the line-window chunking used for non-Solidity text.
func WithChunking(c ChunkOptions) Option {
	return func(s *Store) { s.chunk = c.withDefaults() }
}

// New returns an in-memory store. A nil embedder selects the hashing embedder.
func New(embedder embedding.Embedder, opts ...Option) *Store {
	if embedder == nil {
		embedder = embedding.NewHash(0)
	}
	s := &Store{
		artifacts:  map[string]types.Artifact{},
		content:    map[string][]byte{},
		spans:      map[string]types.EvidenceSpan{},
		byArtifact: map[string][]string{},
		vectors:    map[string][]float32{},
		embedder:   embedder,
		chunk:      ChunkOptions{}.withDefaults(),
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Checksum returns the content address of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// PutArtifact stores data and returns its artifact. Storing identical bytes
// again returns the existing artifact unchanged.
func (s *Store) PutArtifact(ctx context.Context, data []byte, kind types.ArtifactKind, origin types.Origin, name string) (types.Artifact, error) {
	if len(data) == 0 {
		return types.Artifact{}, fmt.Errorf("put artifact %q: empty content", name)
	}
	if len(data) > MaxArtifactBytes {
		return types.Artifact{}, fmt.Errorf("put artifact %q: %d bytes exceeds limit of %d", name, len(data), MaxArtifactBytes)
	}
	id := Checksum(data)

	s.mu.RLock()
	existing, ok := s.artifacts[id]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	art := types.Artifact{
		ID:        id,
		Kind:      kind,
		Checksum:  id,
		Origin:    origin,
		Name:      name,
		Size:      len(buf),
		CreatedAt: s.now().UTC(),
	}

	spans := Chunk(art, buf, s.chunk)
	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = sp.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return types.Artifact{}, &types.TransientToolError{Tool: "embedder:" + s.embedder.Name(), Err: err}
	}
	if len(vecs) != len(spans) {
		return types.Artifact{}, fmt.Errorf("embedder returned %d vectors for %d spans", len(vecs), len(spans))
	}

	if s.db != nil {
		if err := s.persist(ctx, art, buf, spans, vecs); err != nil {
			return types.Artifact{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.artifacts[id]; ok {
		return existing, nil
	}
	s.insertLocked(art, buf, spans, vecs)
	s.log.Debug("artifact stored",
		zap.String("artifact_id", id),
		zap.String("kind", string(kind)),
		zap.String("name", name),
		zap.Int("spans", len(spans)))
	return art, nil
}

func (s *Store) insertLocked(art types.Artifact, content []byte, spans []types.EvidenceSpan, vecs [][]float32) {
	s.artifacts[art.ID] = art
	s.content[art.ID] = content
	for i, sp := range spans {
		if _, dup := s.spans[sp.ID]; dup {
			continue
		}
		s.spans[sp.ID] = sp
		s.vectors[sp.ID] = vecs[i]
		s.byArtifact[art.ID] = append(s.byArtifact[art.ID], sp.ID)
		s.order = append(s.order, sp.ID)
	}
}

// Artifact returns the artifact with the given id.
func (s *Store) Artifact(id string) (types.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok
}

// Artifacts returns every stored artifact ordered by id.
func (s *Store) Artifacts() []types.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ArtifactsOfKind returns the stored artifacts of one kind ordered by id.
func (s *Store) ArtifactsOfKind(kind types.ArtifactKind) []types.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Artifact
	for _, a := range s.artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Content returns a copy of an artifact's bytes.
func (s *Store) Content(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.content[id]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(c))
	copy(out, c)
	return out, true
}

// Span returns the span with the given id.
func (s *Store) Span(id string) (types.EvidenceSpan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spans[id]
	return sp, ok
}

// Vector returns the embedding of a span.
func (s *Store) Vector(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	return v, ok
}

// Spans returns the spans of the given artifacts in insertion order, or all
// spans when no artifact is named.
func (s *Store) Spans(artifactIDs ...string) []types.EvidenceSpan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(artifactIDs) == 0 {
		out := make([]types.EvidenceSpan, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.spans[id])
		}
		return out
	}
	var out []types.EvidenceSpan
	for _, aid := range artifactIDs {
		for _, id := range s.byArtifact[aid] {
			out = append(out, s.spans[id])
		}
	}
	return out
}

// Embedder returns the embedder used for span vectors. Queries must be
// embedded with the same one.
func (s *Store) Embedder() embedding.Embedder { return s.embedder }

// Len returns the number of stored spans.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close releases the backing database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
