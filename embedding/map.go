package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MapEmbedder is a deterministic in-memory Embedder for tests and offline runs.
// Texts are looked up in Vectors, then Fallback; a missing text is an error.
type MapEmbedder struct {
	Vectors  map[string]Vector
	Fallback func(text string) (Vector, error)
	// Errors forces a failure for specific texts.
	Errors map[string]error
	// Delay is applied to every call and honours cancellation.
	Delay time.Duration
	Model string

	mu         sync.Mutex
	texts      map[string]int
	calls      int
	batchCalls int
}

// ModelID implements ModelNamer.
func (m *MapEmbedder) ModelID() string {
	if m.Model == "" {
		return "map"
	}
	return m.Model
}

// Embed implements Embedder.
func (m *MapEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	m.mu.Lock()
	m.calls++
	m.countLocked(text)
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.lookup(text)
}

// EmbedBatch implements BatchEmbedder.
func (m *MapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	m.mu.Lock()
	m.batchCalls++
	for _, t := range texts {
		m.countLocked(t)
	}
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := m.lookup(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Calls returns the number of Embed and EmbedBatch invocations.
func (m *MapEmbedder) Calls() (embed, batch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, m.batchCalls
}

// TextCalls returns how many times text was sent to the embedder.
func (m *MapEmbedder) TextCalls(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[text]
}

func (m *MapEmbedder) countLocked(text string) {
	if m.texts == nil {
		m.texts = make(map[string]int)
	}
	m.texts[text]++
}

func (m *MapEmbedder) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *MapEmbedder) lookup(text string) (Vector, error) {
	if err, ok := m.Errors[text]; ok {
		return nil, err
	}
	if v, ok := m.Vectors[text]; ok {
		return append(Vector{}, v...), nil
	}
	if m.Fallback != nil {
		return m.Fallback(text)
	}
	return nil, fmt.Errorf("embedding: no vector for %q", text)
}
