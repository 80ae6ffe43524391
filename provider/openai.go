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
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIClient is a client for the OpenAI chat completions API.
type OpenAIClient struct {
	client *resty.Client
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	return &OpenAIClient{client: httpclient.New(httpclient.Config{
		BaseURL:    orDefault(cfg.BaseURL, defaultOpenAIBase),
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
		Headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
	})}, nil
}

// chatReq is the OpenAI-style chat body; Cloudflare Workers AI accepts the same shape.
type chatReq struct {
	Model       string    `json:"model,omitempty"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type chatMsg struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type openAIChatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *TokenUsage `json:"usage"`
}

// Complete implements Provider.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body := chatReq{
		Model:       orDefault(req.Model, defaultOpenAIModel),
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.StopTokens,
	}
	var out openAIChatResp
	if err := httpclient.PostJSON(ctx, c.client, "openai", "/chat/completions", body, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, &core.UpstreamError{Provider: "openai", Status: http.StatusOK, Code: "empty", Message: "no choices in response"}
	}
	resp := &CompletionResponse{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
		Metadata:     req.Metadata,
	}
	if out.Usage != nil {
		resp.Usage = *out.Usage
	}
	return resp, nil
}

// GetModelInfo implements Provider.
func (c *OpenAIClient) GetModelInfo(model string) (*ModelInfo, error) {
	model = orDefault(model, defaultOpenAIModel)
	info := &ModelInfo{ID: model, ContextSize: 8192}
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-4-turbo"):
		info.ContextSize = 128000
		info.SupportsVision = true
	case strings.HasPrefix(model, "gpt-3.5"):
		info.ContextSize = 16385
	}
	return info, nil
}

// buildMessages renders system, history and user turns; the user turn carries the image as a
// data URL followed by the question text.
func buildMessages(req CompletionRequest) []chatMsg {
	var messages []chatMsg
	if req.System != "" {
		messages = append(messages, chatMsg{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, chatMsg{Role: m.Role, Content: m.Content})
	}
	if !req.HasImage() {
		return append(messages, chatMsg{Role: "user", Content: req.Prompt})
	}
	parts := []chatPart{
		{Type: "image_url", ImageURL: &chatImageURL{URL: req.Image.DataURL()}},
		{Type: "text", Text: req.Prompt},
	}
	return append(messages, chatMsg{Role: "user", Content: parts})
}
