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
	defaultCloudflareBase  = "https://api.cloudflare.com/client/v4"
	DefaultCloudflareModel = "@cf/google/embeddinggemma-300m"
)

// CloudflareConfig configures the Workers AI embedder.
type CloudflareConfig struct {
	AccountID  string
	APIToken   string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// CloudflareEmbedder calls Workers AI text embedding models.
type CloudflareEmbedder struct {
	cfg    CloudflareConfig
	client *resty.Client
}

// NewCloudflare creates a Workers AI embedder.
func NewCloudflare(cfg CloudflareConfig) (*CloudflareEmbedder, error) {
	if cfg.AccountID == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("embedding: cloudflare account id and API token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCloudflareBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCloudflareModel
	}
	c := httpclient.New(httpclient.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
		Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIToken},
	})
	return &CloudflareEmbedder{cfg: cfg, client: c}, nil
}

type cloudflareEmbedResp struct {
	Success bool `json:"success"`
	Result  struct {
		Data       [][]float64 `json:"data"`
		Embeddings [][]float64 `json:"embeddings"`
	} `json:"result"`
}

// ModelID implements ModelNamer.
func (e *CloudflareEmbedder) ModelID() string { return e.cfg.Model }

// Embed implements Embedder.
func (e *CloudflareEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements BatchEmbedder.
func (e *CloudflareEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	var out cloudflareEmbedResp
	path := fmt.Sprintf("/accounts/%s/ai/run/%s", e.cfg.AccountID, e.cfg.Model)
	if err := httpclient.PostJSON(ctx, e.client, "cloudflare", path, map[string]interface{}{"text": texts}, &out); err != nil {
		return nil, err
	}
	rows := out.Result.Data
	if len(rows) == 0 {
		rows = out.Result.Embeddings
	}
	if len(rows) != len(texts) {
		return nil, &core.UpstreamError{Provider: "cloudflare", Status: http.StatusOK, Code: "decode",
			Message: fmt.Sprintf("got %d embeddings for %d texts", len(rows), len(texts))}
	}
	vecs := make([]Vector, len(rows))
	for i, r := range rows {
		vecs[i] = Vector(r)
	}
	return vecs, nil
}
