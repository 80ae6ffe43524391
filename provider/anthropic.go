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
	defaultAnthropicBase  = "https://api.anthropic.com/v1"
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	anthropicVersion      = "2023-06-01"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client *resty.Client
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	return &AnthropicClient{client: httpclient.New(httpclient.Config{
		BaseURL:    orDefault(cfg.BaseURL, defaultAnthropicBase),
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		},
	})}, nil
}

type anthropicReq struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []anthropicMsg `json:"messages"`
	Temperature float64        `json:"temperature,omitempty"`
	StopSeqs    []string       `json:"stop_sequences,omitempty"`
}

type anthropicMsg struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResp struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Model      string `json:"model"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Provider.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var blocks []anthropicBlock
	if req.HasImage() {
		blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicImageSource{
			Type: "base64", MediaType: req.Image.MimeType, Data: req.Image.Base64(),
		}})
	}
	blocks = append(blocks, anthropicBlock{Type: "text", Text: req.Prompt})
	messages := make([]anthropicMsg, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, anthropicMsg{Role: m.Role, Content: []anthropicBlock{{Type: "text", Text: m.Content}}})
	}
	body := anthropicReq{
		Model:       orDefault(req.Model, defaultAnthropicModel),
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    append(messages, anthropicMsg{Role: "user", Content: blocks}),
		Temperature: req.Temperature,
		StopSeqs:    req.StopTokens,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 1024
	}
	var out anthropicResp
	if err := httpclient.PostJSON(ctx, c.client, "anthropic", "/messages", body, &out); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, b := range out.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &core.UpstreamError{Provider: "anthropic", Status: http.StatusOK, Code: "empty", Message: "no text content in response"}
	}
	resp := &CompletionResponse{
		Content:      sb.String(),
		Model:        out.Model,
		FinishReason: out.StopReason,
		Metadata:     req.Metadata,
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		}
	}
	return resp, nil
}

// GetModelInfo implements Provider.
func (c *AnthropicClient) GetModelInfo(model string) (*ModelInfo, error) {
	return &ModelInfo{ID: orDefault(model, defaultAnthropicModel), ContextSize: 200000, SupportsVision: true}, nil
}
