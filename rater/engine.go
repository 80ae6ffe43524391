package rater

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/embedding"
)

// DefaultBeta applies linear re-weighting.
const DefaultBeta = 1.0

// Rating is one response scored against one anchor set.
type Rating struct {
	AnchorSet  string   `json:"anchor_set"`
	PMF        core.PMF `json:"pmf"`
	Degenerate bool     `json:"degenerate,omitempty"`
}

// Mean returns the expected Likert rating of the PMF.
func (r Rating) Mean() float64 { return r.PMF.Expectation() }

// Engine composes an embedder, an AnchorCache and Transform.
type Engine struct {
	embedder embedding.Embedder
	cache    *AnchorCache
	limit    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache shares an existing AnchorCache. It must wrap the same embedding model.
func WithCache(c *AnchorCache) Option { return func(e *Engine) { e.cache = c } }

// WithCacheOptions configures the engine-owned AnchorCache.
func WithCacheOptions(opts ...CacheOption) Option {
	return func(e *Engine) { e.cache = NewAnchorCache(e.embedder, opts...) }
}

// WithParallelism bounds RateAll's concurrent anchor-set resolutions (0 means unbounded).
func WithParallelism(n int) Option { return func(e *Engine) { e.limit = n } }

// NewEngine creates an engine. The anchor cache lives as long as the engine.
func NewEngine(e embedding.Embedder, opts ...Option) *Engine {
	eng := &Engine{embedder: e}
	for _, o := range opts {
		o(eng)
	}
	if eng.cache == nil {
		eng.cache = NewAnchorCache(e)
	}
	return eng
}

// Cache returns the engine's anchor cache.
func (e *Engine) Cache() *AnchorCache { return e.cache }

// Embedder returns the underlying embedder.
func (e *Engine) Embedder() embedding.Embedder { return e.embedder }

// EmbedResponse embeds a response text. Response embeddings are never cached.
func (e *Engine) EmbedResponse(ctx context.Context, text string) (embedding.Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &core.ValidationError{Field: "text", Message: "response text is empty"}
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("rater: embed response: %w", err)
	}
	return v, nil
}

// RateEmbedding scores an already-embedded response against set. A zero denominator yields
// the uniform PMF with Degenerate set, not an error.
func (e *Engine) RateEmbedding(ctx context.Context, vec embedding.Vector, set core.AnchorSet, beta float64) (Rating, error) {
	if err := validate(beta, set); err != nil {
		return Rating{}, err
	}
	anchors, err := e.cache.GetOrCompute(ctx, set)
	if err != nil {
		return Rating{}, err
	}
	pmf, err := Transform(vec, anchors, beta)
	switch {
	case errors.Is(err, core.ErrDegenerateDistribution):
		return Rating{AnchorSet: set.Name(), PMF: core.UniformPMF(), Degenerate: true}, nil
	case err != nil:
		return Rating{}, fmt.Errorf("rater: anchor set %q: %w", set.Name(), err)
	}
	return Rating{AnchorSet: set.Name(), PMF: pmf}, nil
}

// Rate embeds text and scores it against set.
func (e *Engine) Rate(ctx context.Context, text string, set core.AnchorSet, beta float64) (Rating, error) {
	if err := validate(beta, set); err != nil {
		return Rating{}, err
	}
	vec, err := e.EmbedResponse(ctx, text)
	if err != nil {
		return Rating{}, err
	}
	return e.RateEmbedding(ctx, vec, set, beta)
}

// RateAll embeds text once and scores it against every set in parallel. Ratings are in set order.
func (e *Engine) RateAll(ctx context.Context, text string, sets []core.AnchorSet, beta float64) ([]Rating, error) {
	if len(sets) == 0 {
		return nil, &core.ValidationError{Field: "anchor_sets", Message: "at least one anchor set is required"}
	}
	for _, s := range sets {
		if err := validate(beta, s); err != nil {
			return nil, err
		}
	}
	vec, err := e.EmbedResponse(ctx, text)
	if err != nil {
		return nil, err
	}
	ratings := make([]Rating, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, s := range sets {
		i, s := i, s
		g.Go(func() error {
			r, err := e.RateEmbedding(gctx, vec, s, beta)
			if err != nil {
				return err
			}
			ratings[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ratings, nil
}

// Combine averages the ratings' PMFs element-wise and returns the averaged PMF and its expectation.
func Combine(ratings []Rating) (core.PMF, float64, bool) {
	pmfs := make([]core.PMF, len(ratings))
	for i, r := range ratings {
		pmfs[i] = r.PMF
	}
	avg, ok := core.AveragePMF(pmfs)
	if !ok {
		return core.PMF{}, 0, false
	}
	return avg, avg.Expectation(), true
}

func validate(beta float64, set core.AnchorSet) error {
	if err := core.ValidateBeta(beta); err != nil {
		return err
	}
	if !set.Valid() {
		return &core.ValidationError{Field: "anchor_set", Value: set.Name(), Message: "anchor set must have 5 non-empty statements"}
	}
	return nil
}
