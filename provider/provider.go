// Package provider defines the vision-capable response provider interface and its backends.
package provider

import (
	"context"

	"github.com/klejdi94/synthpanel/core"
)

// CompletionRequest is the unified request for a multimodal completion.
type CompletionRequest struct {
	Prompt      string
	System      string
	History     []Message
	Model       string
	Image       core.Image
	Temperature float64
	MaxTokens   int
	StopTokens  []string
	TopP        float64
	Metadata    map[string]interface{}
}

// Message is one earlier conversation turn, sent between the system prompt and Prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles used in Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HasImage reports whether the request carries an image.
func (r CompletionRequest) HasImage() bool { return !r.Image.IsZero() }

// CompletionResponse is the unified completion response.
type CompletionResponse struct {
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
	Metadata     map[string]interface{}
}

// TokenUsage reports token counts.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ModelInfo describes a response model.
type ModelInfo struct {
	ID             string
	ContextSize    int
	SupportsVision bool
}

// Provider is the unified interface for response providers.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	GetModelInfo(model string) (*ModelInfo, error)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

// Complete implements Provider.
func (f Func) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// GetModelInfo implements Provider.
func (f Func) GetModelInfo(model string) (*ModelInfo, error) {
	return &ModelInfo{ID: model, SupportsVision: true}, nil
}
