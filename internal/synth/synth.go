// Package synth turns retrieved evidence into cited explanations. A claim
// that cannot be grounded sentence by sentence is replaced by a refusal.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/retrieval"
	"github.com/clauselens/clauselens/internal/types"
)

// Retriever finds evidence for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]types.EvidenceSpan, error)
}

// Topic is one subject to explain: a symbol, a finding, or a question.
type Topic struct {
	Name     string
	Symbol   *types.Symbol
	Finding  *types.Finding
	Question string
}

func (t Topic) query(artifactIDs []string) retrieval.Query {
	return retrieval.Query{Text: t.Question, Symbol: t.Symbol, Finding: t.Finding, ArtifactIDs: artifactIDs}
}

// Request is one synthesis pass over a snapshot.
type Request struct {
	Topics []Topic
	Modes  []types.ExplainMode
	// ArtifactIDs scopes retrieval: the snapshot's artifacts plus standards
	// documents.
	ArtifactIDs []string
	// Caveats are attached to every claim, refusals included.
	Caveats []string
	// OnClaim, if set, is called once per claim as it is produced. Calls
	// are serialized.
	OnClaim func(types.Claim)
}

// Synthesizer explains topics through a backend under cite-or-refuse.
type Synthesizer struct {
	retriever   Retriever
	spans       SpanSource
	backend     Backend
	log         *zap.Logger
	maxRetries  int
	backoff     time.Duration
	threshold   float64
	concurrency int
}

type Option func(*Synthesizer)

func WithLogger(l *zap.Logger) Option { return func(s *Synthesizer) { s.log = l } }

// WithRetries bounds backend retries and sets the initial backoff.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Synthesizer) { s.maxRetries, s.backoff = n, backoff }
}

// WithSupportThreshold sets the minimum token coverage of a sentence by
// its citations.
func WithSupportThreshold(t float64) Option { return func(s *Synthesizer) { s.threshold = t } }

func WithConcurrency(n int) Option { return func(s *Synthesizer) { s.concurrency = n } }

func New(r Retriever, spans SpanSource, b Backend, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		retriever:   r,
		spans:       spans,
		backend:     b,
		maxRetries:  2,
		backoff:     500 * time.Millisecond,
		threshold:   0.5,
		concurrency: 4,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logging.OrNop(s.log).Named("synth")
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// Backend returns the configured backend.
func (s *Synthesizer) Backend() Backend { return s.backend }

// Explain produces one claim per topic and mode, in topic-major order.
// It never fails: anything that cannot be grounded becomes a refusal. A
// cancelled context refuses the claims not yet produced.
func (s *Synthesizer) Explain(ctx context.Context, req Request) []types.Claim {
	modes := req.Modes
	if len(modes) == 0 {
		modes = []types.ExplainMode{types.ModeEngineer}
	}
	type job struct {
		topic Topic
		mode  types.ExplainMode
	}
	var jobs []job
	for _, t := range req.Topics {
		for _, m := range modes {
			jobs = append(jobs, job{t, m})
		}
	}

	claims := make([]types.Claim, len(jobs))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			c := s.explainOne(ctx, j.topic, j.mode, req)
			c.Discovered = i + 1
			c.Caveats = append(c.Caveats, req.Caveats...)
			claims[i] = c
			if req.OnClaim != nil {
				mu.Lock()
				req.OnClaim(c)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return claims
}

func (s *Synthesizer) explainOne(ctx context.Context, t Topic, mode types.ExplainMode, req Request) types.Claim {
	log := s.log.With(zap.String("topic", t.Name), zap.String("mode", string(mode)))
	claim := types.Claim{ID: ClaimID(t.Name, mode), Topic: t.Name, Mode: mode}

	spans, err := s.retriever.Retrieve(ctx, t.query(req.ArtifactIDs))
	if err != nil {
		log.Warn("retrieval failed", zap.Error(err))
		return refuse(claim, fmt.Sprintf("retrieval failed: %v", err))
	}
	if len(spans) == 0 {
		return refuse(claim, "no evidence span cleared the relevance threshold")
	}

	prompt := Prompt{Topic: t.Name, Mode: mode, Spans: spans}
	backoff := s.backoff
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return refuse(claim, fmt.Sprintf("synthesis cancelled: %v", ctx.Err()))
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		draft, err := s.backend.Generate(ctx, prompt)
		if err == nil {
			err = validDraft(draft)
		}
		if err != nil {
			lastErr = err
			log.Warn("synthesis attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if err := Check(draft, spans, s.spans, s.threshold, t.Name); err != nil {
			var ie *types.InsufficientEvidenceError
			if errors.As(err, &ie) {
				log.Info("claim refused", zap.String("detail", ie.Detail))
				return refuse(claim, ie.Detail)
			}
			return refuse(claim, err.Error())
		}
		return ground(claim, draft, spans)
	}
	return refuse(claim, fmt.Sprintf("synthesis failed after %d attempts: %v", s.maxRetries+1, lastErr))
}

func refuse(c types.Claim, detail string) types.Claim {
	c.Sentences, c.Citations, c.Risk, c.Confidence = nil, nil, nil, 0
	c.Refusal = &types.Refusal{Reason: types.RefusalInsufficientEvidence, Detail: detail}
	return c
}

func ground(c types.Claim, d Draft, spans []types.EvidenceSpan) types.Claim {
	c.Sentences = d.Sentences
	seen := map[string]bool{}
	for _, s := range d.Sentences {
		for _, id := range s.Citations {
			if !seen[id] {
				seen[id] = true
				c.Citations = append(c.Citations, id)
			}
		}
	}
	sort.Strings(c.Citations)
	c.Confidence = d.Confidence
	if c.Confidence <= 0 || c.Confidence > 1 {
		c.Confidence = spans[0].Score
	}
	if d.Risk != nil && d.Risk.Category.Valid() {
		r := *d.Risk
		r.Severity = types.ParseSeverity(string(r.Severity))
		c.Risk = &r
	}
	return c
}

// ClaimID is stable for a topic and mode.
func ClaimID(topic string, mode types.ExplainMode) string {
	return fmt.Sprintf("c:%016x", xxhash.Sum64String(topic+"|"+string(mode)))
}
