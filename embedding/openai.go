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
	defaultOpenAIBase  = "https://api.openai.com/v1"
	DefaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	model  string
	client *resty.Client
}

// NewOpenAI creates an embedder using the OpenAI embeddings API.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: openai API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{
		model: cfg.Model,
		client: httpclient.New(httpclient.Config{
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
			Timeout:    cfg.Timeout,
			Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		}),
	}, nil
}

type openAIEmbedReq struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// ModelID implements ModelNamer.
func (e *OpenAIEmbedder) ModelID() string { return e.model }

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements BatchEmbedder.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	var out openAIEmbedResp
	if err := httpclient.PostJSON(ctx, e.client, "openai", "/embeddings", openAIEmbedReq{Input: texts, Model: e.model}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, &core.UpstreamError{Provider: "openai", Status: http.StatusOK, Code: "decode",
			Message: fmt.Sprintf("got %d embeddings for %d texts", len(out.Data), len(texts))}
	}
	vecs := make([]Vector, len(texts))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vecs) || vecs[idx] != nil {
			idx = i
		}
		vecs[idx] = toVector(d.Embedding)
	}
	return vecs, nil
}
