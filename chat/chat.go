// Package chat answers follow-up questions about an archived run through a text model that is
// given the run's results as context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/provider"
	"github.com/klejdi94/synthpanel/template"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultMaxHistory  = 50
)

// NoResults is the results context of a run with no rated consumers.
const NoResults = "No evaluation results available yet."

// DefaultInstruction is the analyst system prompt. It receives .Results, the rendered results
// context.
const DefaultInstruction = `You help a product team understand the results of a synthetic market research study.
Each simulated consumer rated the product on a 1 to 5 purchase intent scale:
1 means "I would definitely not buy this product".
3 means "I do not know if I would buy this product".
5 means "I would definitely buy this product".

You can:
- summarise how the panel received the product
- compare how different demographics reacted
- point out recurring praise or objections in the feedback
- suggest changes that could make the product more appealing

Answer briefly in plain text without formatting. If a request has nothing to do with these results, reply "I can unfortunately not assist you with that."

The following are the results of the study:
{{.Results}}`

// ResultsTemplate renders a run for DefaultInstruction. It receives .Question, .Mean and
// .Consumers, each with .Label, .Description, .Rating and .Feedback.
const ResultsTemplate = `Product evaluation results for "{{.Question}}", mean rating {{printf "%.2f" .Mean}}/5:
{{range .Consumers}}
Consumer {{.Label}}: {{.Description}}
Rating: {{printf "%.2f" .Rating}}/5
{{range .Feedback}}Feedback: {{.}}
{{end}}{{end}}`

type consumer struct {
	Label       string
	Description string
	Rating      float64
	Feedback    []string
}

// Analyst holds the conversation about archived runs.
type Analyst struct {
	provider    provider.Provider
	archive     *archive.Archive
	engine      *template.Engine
	instruction string
	model       string
	temperature float64
	maxTokens   int
	maxHistory  int
	now         func() time.Time
	log         zerolog.Logger
}

// Option configures an Analyst.
type Option func(*Analyst)

// WithModel sets the chat model id; empty uses the provider's default.
func WithModel(model string) Option { return func(a *Analyst) { a.model = model } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option { return func(a *Analyst) { a.temperature = t } }

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option { return func(a *Analyst) { a.maxTokens = n } }

// WithMaxHistory bounds how many earlier messages are sent with each question; 0 sends none.
func WithMaxHistory(n int) Option { return func(a *Analyst) { a.maxHistory = n } }

// WithInstruction replaces DefaultInstruction.
func WithInstruction(tpl string) Option { return func(a *Analyst) { a.instruction = tpl } }

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option { return func(a *Analyst) { a.now = now } }

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) Option { return func(a *Analyst) { a.log = l } }

// New creates an analyst answering from runs stored in arc.
func New(p provider.Provider, arc *archive.Archive, opts ...Option) (*Analyst, error) {
	if p == nil {
		return nil, fmt.Errorf("chat: provider is required")
	}
	if arc == nil {
		return nil, fmt.Errorf("chat: archive is required")
	}
	a := &Analyst{
		provider:    p,
		archive:     arc,
		engine:      template.NewEngine(),
		instruction: DefaultInstruction,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		maxHistory:  DefaultMaxHistory,
		now:         time.Now,
		log:         log.Logger,
	}
	for _, o := range opts {
		o(a)
	}
	for _, tpl := range []string{a.instruction, ResultsTemplate} {
		if err := a.engine.Parse(tpl); err != nil {
			return nil, fmt.Errorf("chat: %w", err)
		}
	}
	return a, nil
}

// Results renders the results context of r.
func (a *Analyst) Results(ctx context.Context, r *batch.Report) (string, error) {
	if r == nil || len(r.Profiles) == 0 {
		return NoResults, nil
	}
	feedback := make(map[string][]string, len(r.Profiles))
	for _, res := range r.Results {
		if text := strings.TrimSpace(res.Response); text != "" {
			feedback[res.ProfileID] = append(feedback[res.ProfileID], text)
		}
	}
	consumers := make([]consumer, len(r.Profiles))
	for i, p := range r.Profiles {
		desc := p.Description
		if desc == "" {
			desc = "profile " + p.ProfileID
		}
		consumers[i] = consumer{Label: p.ProfileID, Description: desc, Rating: p.Rating, Feedback: feedback[p.ProfileID]}
	}
	out, err := a.engine.Render(ctx, ResultsTemplate, map[string]interface{}{
		"Question":  r.Question,
		"Mean":      r.Summary.Mean,
		"Consumers": consumers,
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// SystemPrompt renders the analyst instruction for r.
func (a *Analyst) SystemPrompt(ctx context.Context, r *batch.Report) (string, error) {
	results, err := a.Results(ctx, r)
	if err != nil {
		return "", err
	}
	out, err := a.engine.Render(ctx, a.instruction, map[string]interface{}{"Results": results})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return out, nil
}

// History returns the conversation about runID. It fails with archive.ErrNotFound when the run
// is not archived.
func (a *Analyst) History(ctx context.Context, runID string) ([]archive.ChatMessage, error) {
	if _, err := a.archive.Load(ctx, runID); err != nil {
		return nil, err
	}
	return a.archive.LoadChat(ctx, runID)
}

// Ask sends message about runID with the earlier conversation and returns the reply. Both turns
// are appended to the conversation only when the model answers.
func (a *Analyst) Ask(ctx context.Context, runID, message string) (*archive.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, &core.ValidationError{Field: "message", Message: "message is required"}
	}
	report, err := a.archive.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	history, err := a.archive.LoadChat(ctx, runID)
	if err != nil {
		return nil, err
	}
	system, err := a.SystemPrompt(ctx, report)
	if err != nil {
		return nil, err
	}
	if len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}
	turns := make([]provider.Message, len(history))
	for i, m := range history {
		turns[i] = provider.Message{Role: m.Role, Content: m.Content}
	}

	asked := a.now()
	resp, err := a.provider.Complete(ctx, provider.CompletionRequest{
		System:      system,
		History:     turns,
		Prompt:      message,
		Model:       a.model,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
		Metadata:    map[string]interface{}{"run_id": runID},
	})
	if err != nil {
		var ue *core.UpstreamError
		if !errors.As(err, &ue) {
			err = &core.UpstreamError{Provider: "chat", Err: err}
		}
		return nil, fmt.Errorf("chat: ask: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("chat: ask: %w", &core.UpstreamError{Provider: "chat", Code: "empty_response", Message: "provider returned an empty response"})
	}

	reply := archive.ChatMessage{Role: provider.RoleAssistant, Content: text, Timestamp: a.now()}
	err = a.archive.AppendChat(context.WithoutCancel(ctx), runID,
		archive.ChatMessage{Role: provider.RoleUser, Content: message, Timestamp: asked}, reply)
	if err != nil {
		a.log.Warn().Err(err).Str("run_id", runID).Msg("save chat failed")
	}
	return &reply, nil
}
