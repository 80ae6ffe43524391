// Package persona turns a demographic profile into a synthetic consumer that answers
// questions about a product image through a response provider.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/provider"
	"github.com/klejdi94/synthpanel/template"
)

// DefaultQuestion is asked when the caller supplies none.
const DefaultQuestion = "How likely would you be to buy this product?"

const (
	DefaultTemperature = 1.0
	DefaultMaxTokens   = 500
)

// DefaultInstruction is the system instruction template. It receives .Profile (the rendered
// description) and .Attributes.
const DefaultInstruction = `You are a shopper with this demographic profile: {{.Profile}}.
Answer questions about products the way a real person with these characteristics would.
Your reaction can be positive, negative, neutral, or indifferent. Be honest even when the product holds no interest for you.
Think about how your background shapes what you buy and why.

Possible attitudes include:
- Very keen on the product.
- Somewhat interested, with a few reservations.
- Undecided, or unsure it suits you.
- Unlikely to buy it because it does not fit your needs or tastes.
- Certain you would not buy it.

Give a sincere, considered answer. It is completely fine if the product does not appeal to you at all.`

// Consumer renders persona instructions and asks the provider for a free-text answer.
type Consumer struct {
	provider    provider.Provider
	engine      *template.Engine
	instruction string
	model       string
	temperature float64
	maxTokens   int
	question    string
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithModel sets the response model id.
func WithModel(model string) Option { return func(c *Consumer) { c.model = model } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(c *Consumer) { c.temperature = t } }

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option { return func(c *Consumer) { c.maxTokens = n } }

// WithQuestion replaces DefaultQuestion.
func WithQuestion(q string) Option { return func(c *Consumer) { c.question = q } }

// WithInstruction replaces DefaultInstruction.
func WithInstruction(tpl string) Option { return func(c *Consumer) { c.instruction = tpl } }

// WithEngine sets the template engine.
func WithEngine(e *template.Engine) Option { return func(c *Consumer) { c.engine = e } }

// New creates a Consumer. The instruction template is parsed eagerly.
func New(p provider.Provider, opts ...Option) (*Consumer, error) {
	if p == nil {
		return nil, fmt.Errorf("persona: provider is required")
	}
	c := &Consumer{
		provider:    p,
		instruction: DefaultInstruction,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		question:    DefaultQuestion,
	}
	for _, o := range opts {
		o(c)
	}
	if c.engine == nil {
		c.engine = template.NewEngine()
	}
	if err := c.engine.Parse(c.instruction); err != nil {
		return nil, fmt.Errorf("persona: %w", err)
	}
	return c, nil
}

// SystemPrompt renders the persona instruction for profile.
func (c *Consumer) SystemPrompt(ctx context.Context, profile core.DemographicProfile) (string, error) {
	out, err := c.engine.Render(ctx, c.instruction, map[string]interface{}{
		"Profile":    profile.Describe(),
		"Attributes": profile.Attributes(),
	})
	if err != nil {
		return "", fmt.Errorf("persona: %w", err)
	}
	return out, nil
}

// Request builds the completion request Respond sends for profile. An empty question uses the
// consumer's default.
func (c *Consumer) Request(ctx context.Context, profile core.DemographicProfile, image core.Image, question string) (provider.CompletionRequest, error) {
	if profile.IsZero() {
		return provider.CompletionRequest{}, &core.ValidationError{Field: "demographic_profile", Message: "profile is required"}
	}
	if image.IsZero() {
		return provider.CompletionRequest{}, &core.ValidationError{Field: "image", Message: "image is required"}
	}
	if strings.TrimSpace(question) == "" {
		question = c.question
	}
	system, err := c.SystemPrompt(ctx, profile)
	if err != nil {
		return provider.CompletionRequest{}, err
	}
	return provider.CompletionRequest{
		System:      system,
		Prompt:      question,
		Model:       c.model,
		Image:       image,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Metadata:    map[string]interface{}{"profile_id": profile.ID()},
	}, nil
}

// Respond asks the provider how the consumer described by profile reacts to image.
// An empty question uses the consumer's default. Failures are not retried here.
func (c *Consumer) Respond(ctx context.Context, profile core.DemographicProfile, image core.Image, question string) (string, error) {
	req, err := c.Request(ctx, profile, image, question)
	if err != nil {
		return "", err
	}
	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		var ue *core.UpstreamError
		if !errors.As(err, &ue) {
			err = &core.UpstreamError{Provider: "response", Err: err}
		}
		return "", fmt.Errorf("persona: respond: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("persona: respond: %w", &core.UpstreamError{Provider: "response", Code: "empty_response", Message: "provider returned an empty response"})
	}
	return text, nil
}
