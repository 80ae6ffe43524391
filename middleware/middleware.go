// Package middleware provides observability and cross-cutting wrappers for response providers
// and embedders.
package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/klejdi94/synthpanel/cost"
	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/provider"
)

// Middleware wraps a provider with additional behavior (logging, metrics, rate limiting, etc.).
type Middleware func(provider.Provider) provider.Provider

// EmbedderMiddleware wraps an embedder. Wrappers keep batch support when the inner embedder has it.
type EmbedderMiddleware func(embedding.Embedder) embedding.Embedder

// Chain wraps p with all middlewares in order (first middleware is outermost).
func Chain(p provider.Provider, mws ...Middleware) provider.Provider {
	for i := len(mws) - 1; i >= 0; i-- {
		p = mws[i](p)
	}
	return p
}

// ChainEmbedder wraps e with all middlewares in order (first middleware is outermost).
func ChainEmbedder(e embedding.Embedder, mws ...EmbedderMiddleware) embedding.Embedder {
	for i := len(mws) - 1; i >= 0; i-- {
		e = mws[i](e)
	}
	return e
}

// loggingProvider logs requests and responses.
type loggingProvider struct {
	next provider.Provider
	log  zerolog.Logger
}

// Logging returns a middleware that logs each Complete call (model, latency, usage, error).
func Logging(l zerolog.Logger) Middleware {
	return func(p provider.Provider) provider.Provider {
		return &loggingProvider{next: p, log: l}
	}
}

func (l *loggingProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	start := time.Now()
	resp, err := l.next.Complete(ctx, req)
	ev := l.log.Debug()
	if err != nil {
		ev = l.log.Warn().Err(err)
	}
	ev = ev.Str("op", "complete").Str("model", req.Model).Int("prompt_len", len(req.Prompt)).
		Bool("image", req.HasImage()).Dur("latency", time.Since(start))
	if pid, ok := req.Metadata["profile_id"].(string); ok {
		ev = ev.Str("profile_id", pid)
	}
	if err != nil {
		ev.Msg("complete failed")
		return nil, err
	}
	ev.Int("total_tokens", resp.Usage.TotalTokens).Msg("complete ok")
	return resp, nil
}

func (l *loggingProvider) GetModelInfo(model string) (*provider.ModelInfo, error) {
	return l.next.GetModelInfo(model)
}

// LoggingEmbedder logs each embedding call.
func LoggingEmbedder(l zerolog.Logger) EmbedderMiddleware {
	return func(e embedding.Embedder) embedding.Embedder {
		return wrapEmbedder(e, func(ctx context.Context, call EmbedCall, next func(context.Context) error) error {
			start := time.Now()
			err := next(ctx)
			ev := l.Debug()
			if err != nil {
				ev = l.Warn().Err(err)
			}
			ev.Str("op", call.Op).Str("model", call.Model).Int("texts", call.Texts).
				Dur("latency", time.Since(start)).Msg("embed")
			return err
		})
	}
}

// usageProvider records token usage into a cost.Tracker.
type usageProvider struct {
	next    provider.Provider
	tracker *cost.Tracker
}

// Usage returns a middleware that records every successful completion's usage in t and in
// the run tracker carried by the request context, if any.
func Usage(t *cost.Tracker) Middleware {
	return func(p provider.Provider) provider.Provider {
		return &usageProvider{next: p, tracker: t}
	}
}

func (u *usageProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	resp, err := u.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	u.tracker.RecordContext(ctx, model, resp.Usage)
	return resp, nil
}

func (u *usageProvider) GetModelInfo(model string) (*provider.ModelInfo, error) {
	return u.next.GetModelInfo(model)
}
