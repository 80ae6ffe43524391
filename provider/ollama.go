package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/klejdi94/synthpanel/internal/httpclient"
)

const (
	defaultOllamaBase  = "http://localhost:11434"
	defaultOllamaModel = "llava"
)

// OllamaClient is a client for the Ollama local API.
type OllamaClient struct {
	client *resty.Client
}

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewOllama creates an Ollama provider (no API key required).
func NewOllama(cfg OllamaConfig) *OllamaClient {
	return &OllamaClient{client: httpclient.New(httpclient.Config{
		BaseURL:    orDefault(cfg.BaseURL, defaultOllamaBase),
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
	})}
}

type ollamaReq struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaResp struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	EvalCount       int    `json:"eval_count"`
	PromptEvalCount int    `json:"prompt_eval_count"`
}

// Complete implements Provider.
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var messages []ollamaMsg
	if req.System != "" {
		messages = append(messages, ollamaMsg{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, ollamaMsg{Role: m.Role, Content: m.Content})
	}
	user := ollamaMsg{Role: "user", Content: req.Prompt}
	if req.HasImage() {
		user.Images = []string{req.Image.Base64()}
	}
	body := ollamaReq{
		Model:    orDefault(req.Model, defaultOllamaModel),
		Messages: append(messages, user),
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			TopP:        req.TopP,
			Stop:        req.StopTokens,
		},
	}
	var out ollamaResp
	if err := httpclient.PostJSON(ctx, c.client, "ollama", "/api/chat", body, &out); err != nil {
		return nil, err
	}
	return &CompletionResponse{
		Content:      strings.TrimSpace(out.Message.Content),
		Model:        out.Model,
		FinishReason: out.DoneReason,
		Usage: TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		Metadata: req.Metadata,
	}, nil
}

// GetModelInfo implements Provider.
func (c *OllamaClient) GetModelInfo(model string) (*ModelInfo, error) {
	model = orDefault(model, defaultOllamaModel)
	vision := strings.Contains(model, "llava") || strings.Contains(model, "vision")
	return &ModelInfo{ID: model, ContextSize: 8192, SupportsVision: vision}, nil
}
