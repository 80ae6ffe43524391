package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/internal/httpclient"
)

const (
	defaultCloudflareBase = "https://api.cloudflare.com/client/v4"
	// DefaultCloudflareModel is the Workers AI vision model used when none is configured.
	DefaultCloudflareModel = "@cf/meta/llama-3.2-11b-vision-instruct"
)

// CloudflareClient calls Workers AI text generation models.
type CloudflareClient struct {
	accountID string
	client    *resty.Client
}

// CloudflareConfig configures the Workers AI client.
type CloudflareConfig struct {
	AccountID  string
	APIToken   string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewCloudflare creates a Workers AI provider.
func NewCloudflare(cfg CloudflareConfig) (*CloudflareClient, error) {
	if cfg.AccountID == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("cloudflare: account id and API token are required")
	}
	return &CloudflareClient{
		accountID: cfg.AccountID,
		client: httpclient.New(httpclient.Config{
			BaseURL:    orDefault(cfg.BaseURL, defaultCloudflareBase),
			HTTPClient: cfg.HTTPClient,
			Timeout:    cfg.Timeout,
			Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIToken},
		}),
	}, nil
}

type cloudflareResp struct {
	Success bool `json:"success"`
	Result  struct {
		Response string      `json:"response"`
		Usage    *TokenUsage `json:"usage"`
	} `json:"result"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Complete implements Provider.
func (c *CloudflareClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := orDefault(req.Model, DefaultCloudflareModel)
	body := chatReq{
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	var out cloudflareResp
	path := fmt.Sprintf("/accounts/%s/ai/run/%s", c.accountID, model)
	if err := httpclient.PostJSON(ctx, c.client, "cloudflare", path, body, &out); err != nil {
		return nil, err
	}
	if !out.Success && len(out.Errors) > 0 {
		return nil, &core.UpstreamError{Provider: "cloudflare", Status: http.StatusOK,
			Code: fmt.Sprint(out.Errors[0].Code), Message: out.Errors[0].Message}
	}
	resp := &CompletionResponse{
		Content:  strings.TrimSpace(out.Result.Response),
		Model:    model,
		Metadata: req.Metadata,
	}
	if out.Result.Usage != nil {
		resp.Usage = *out.Result.Usage
	}
	return resp, nil
}

// GetModelInfo implements Provider.
func (c *CloudflareClient) GetModelInfo(model string) (*ModelInfo, error) {
	model = orDefault(model, DefaultCloudflareModel)
	return &ModelInfo{ID: model, ContextSize: 128000, SupportsVision: strings.Contains(model, "vision")}, nil
}
