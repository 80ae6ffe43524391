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
	defaultGeminiBase  = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-1.5-flash"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *resty.Client
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewGemini creates a Gemini provider.
func NewGemini(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	return &GeminiClient{client: httpclient.New(httpclient.Config{
		BaseURL:    orDefault(cfg.BaseURL, defaultGeminiBase),
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
		Headers:    map[string]string{"x-goog-api-key": cfg.APIKey},
	})}, nil
}

type geminiReq struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResp struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Complete implements Provider.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := orDefault(req.Model, defaultGeminiModel)
	var parts []geminiPart
	if req.HasImage() {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: req.Image.MimeType, Data: req.Image.Base64()}})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	body := geminiReq{
		Contents: append(contents, geminiContent{Role: "user", Parts: parts}),
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			StopSequences:   req.StopTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	var out geminiResp
	if err := httpclient.PostJSON(ctx, c.client, "gemini", "/models/"+model+":generateContent", body, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		return nil, &core.UpstreamError{Provider: "gemini", Status: http.StatusOK, Code: "empty", Message: "no candidates in response"}
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	resp := &CompletionResponse{
		Content:      sb.String(),
		Model:        model,
		FinishReason: out.Candidates[0].FinishReason,
		Metadata:     req.Metadata,
	}
	if u := out.UsageMetadata; u != nil {
		resp.Usage = TokenUsage{PromptTokens: u.PromptTokenCount, CompletionTokens: u.CandidatesTokenCount, TotalTokens: u.TotalTokenCount}
	}
	return resp, nil
}

// GetModelInfo implements Provider.
func (c *GeminiClient) GetModelInfo(model string) (*ModelInfo, error) {
	return &ModelInfo{ID: orDefault(model, defaultGeminiModel), ContextSize: 1000000, SupportsVision: true}, nil
}
