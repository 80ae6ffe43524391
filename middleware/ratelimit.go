package middleware

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/provider"
)

// NewLimiter allows limit requests per window with a burst of limit.
func NewLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
}

// rateLimitProvider waits for a limiter token before every call.
type rateLimitProvider struct {
	next    provider.Provider
	limiter *rate.Limiter
}

// RateLimit returns a middleware that allows at most limit requests per window (e.g. 100 per time.Minute).
func RateLimit(limit int, window time.Duration) Middleware {
	return RateLimitWith(NewLimiter(limit, window))
}

// RateLimitWith shares l between every provider it wraps.
func RateLimitWith(l *rate.Limiter) Middleware {
	return func(p provider.Provider) provider.Provider {
		return &rateLimitProvider{next: p, limiter: l}
	}
}

func (r *rateLimitProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", waitErr(ctx, err))
	}
	return r.next.Complete(ctx, req)
}

func (r *rateLimitProvider) GetModelInfo(model string) (*provider.ModelInfo, error) {
	return r.next.GetModelInfo(model)
}

// RateLimitEmbedder applies l to embedding calls; a batch call consumes one token.
func RateLimitEmbedder(l *rate.Limiter) EmbedderMiddleware {
	return func(e embedding.Embedder) embedding.Embedder {
		return wrapEmbedder(e, func(ctx context.Context, call EmbedCall, next func(context.Context) error) error {
			if err := l.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit: %w", waitErr(ctx, err))
			}
			return next(ctx)
		})
	}
}

// waitErr prefers the context's error so cancellation stays recognisable.
func waitErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
