package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/internal/httpclient"
)

const (
	defaultOllamaBase  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig configures a local Ollama embedder.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	model  string
	client *resty.Client
}

// NewOllama creates an Ollama embedder. No API key is needed.
func NewOllama(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	return &OllamaEmbedder{
		model:  cfg.Model,
		client: httpclient.New(httpclient.Config{BaseURL: cfg.BaseURL, HTTPClient: cfg.HTTPClient, Timeout: cfg.Timeout}),
	}
}

// ModelID implements ModelNamer.
func (e *OllamaEmbedder) ModelID() string { return e.model }

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements BatchEmbedder.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	var out struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	body := map[string]interface{}{"model": e.model, "input": texts}
	if err := httpclient.PostJSON(ctx, e.client, "ollama", "/api/embed", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, &core.UpstreamError{Provider: "ollama", Status: http.StatusOK, Code: "decode",
			Message: fmt.Sprintf("got %d embeddings for %d texts", len(out.Embeddings), len(texts))}
	}
	vecs := make([]Vector, len(texts))
	for i, r := range out.Embeddings {
		vecs[i] = Vector(r)
	}
	return vecs, nil
}
