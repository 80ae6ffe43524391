package middleware

import (
	"context"

	"github.com/klejdi94/synthpanel/embedding"
)

// EmbedCall describes one embedding invocation seen by a middleware.
type EmbedCall struct {
	Op    string
	Model string
	Texts int
}

type embedInterceptor func(ctx context.Context, call EmbedCall, next func(context.Context) error) error

type wrappedEmbedder struct {
	next      embedding.Embedder
	intercept embedInterceptor
}

type wrappedBatchEmbedder struct {
	*wrappedEmbedder
	batch embedding.BatchEmbedder
}

// wrapEmbedder returns an Embedder that implements BatchEmbedder exactly when next does.
func wrapEmbedder(next embedding.Embedder, intercept embedInterceptor) embedding.Embedder {
	w := &wrappedEmbedder{next: next, intercept: intercept}
	if be, ok := next.(embedding.BatchEmbedder); ok {
		return &wrappedBatchEmbedder{wrappedEmbedder: w, batch: be}
	}
	return w
}

func (w *wrappedEmbedder) ModelID() string { return embedding.ModelID(w.next) }

func (w *wrappedEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	var out embedding.Vector
	err := w.intercept(ctx, EmbedCall{Op: "embed", Model: w.ModelID(), Texts: 1}, func(ctx context.Context) error {
		v, err := w.next.Embed(ctx, text)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *wrappedBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	var out []embedding.Vector
	err := w.intercept(ctx, EmbedCall{Op: "embed_batch", Model: w.ModelID(), Texts: len(texts)}, func(ctx context.Context) error {
		v, err := w.batch.EmbedBatch(ctx, texts)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
