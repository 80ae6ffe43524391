// Package embedding defines the embedding provider capability and its HTTP backends.
package embedding

import (
	"context"
	"fmt"
)

// Vector is a dense text embedding.
type Vector []float64

// Embedder produces a vector embedding for text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

// BatchEmbedder embeds several texts in one call, returning vectors in input order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}

// ModelNamer is implemented by embedders that know their model id.
type ModelNamer interface {
	ModelID() string
}

// EmbedAll embeds texts in order, using one batched call when e supports it
// and sequential calls otherwise.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([]Vector, error) {
	if be, ok := e.(BatchEmbedder); ok {
		vecs, err := be.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding: batch returned %d vectors for %d texts", len(vecs), len(texts))
		}
		return vecs, nil
	}
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelID returns e's model id, or "" when it does not report one.
func ModelID(e Embedder) string {
	if n, ok := e.(ModelNamer); ok {
		return n.ModelID()
	}
	return ""
}

func toVector(xs []float32) Vector {
	out := make(Vector, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
