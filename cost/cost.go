// Package cost provides token counting, cost estimation and usage tracking for response
// generation.
package cost

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/klejdi94/synthpanel/provider"
)

// Pricing is a per-1K-token price in USD.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// IsZero reports whether p charges nothing.
func (p Pricing) IsZero() bool { return p.InputPer1K == 0 && p.OutputPer1K == 0 }

// Cost returns the USD price of the given token counts.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)/1000)*p.InputPer1K + (float64(outputTokens)/1000)*p.OutputPer1K
}

// TokenCounter estimates token count for text (e.g. ~4 chars per token for English).
type TokenCounter interface {
	CountTokens(text string) int
}

// SimpleCounter uses a rough heuristic: tokens ≈ runes/4.
type SimpleCounter struct{}

func (SimpleCounter) CountTokens(text string) int {
	n := 0
	for range text {
		n++
	}
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// DefaultImageTokens is the flat input charge assumed for one attached image.
const DefaultImageTokens = 1600

// Estimator predicts the usage of requests before they are sent.
type Estimator struct {
	pricing     Pricing
	imageTokens int
	counter     TokenCounter
}

// EstimatorOption configures the estimator.
type EstimatorOption func(*Estimator)

// WithTokenCounter sets a custom token counter.
func WithTokenCounter(tc TokenCounter) EstimatorOption {
	return func(e *Estimator) {
		e.counter = tc
	}
}

// WithImageTokens sets the flat input-token charge per attached image.
func WithImageTokens(n int) EstimatorOption {
	return func(e *Estimator) {
		e.imageTokens = n
	}
}

// NewEstimator creates an estimator charging p.
func NewEstimator(p Pricing, opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		pricing:     p,
		imageTokens: DefaultImageTokens,
		counter:     SimpleCounter{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Pricing returns the estimator's price.
func (e *Estimator) Pricing() Pricing { return e.pricing }

// Estimate predicts the usage of one request that produces up to req.MaxTokens of output.
func (e *Estimator) Estimate(req provider.CompletionRequest) Summary {
	in := 0
	if e.counter != nil {
		in = e.counter.CountTokens(req.System) + e.counter.CountTokens(req.Prompt)
		for _, m := range req.History {
			in += e.counter.CountTokens(m.Content)
		}
	}
	if req.HasImage() {
		in += e.imageTokens
	}
	out := req.MaxTokens
	return Summary{
		Requests:     1,
		InputTokens:  uint64(in),
		OutputTokens: uint64(out),
		CostUSD:      e.pricing.Cost(in, out),
	}
}

// EstimateAll sums Estimate over reqs.
func (e *Estimator) EstimateAll(reqs []provider.CompletionRequest) Summary {
	var total Summary
	for _, r := range reqs {
		total = total.Add(e.Estimate(r))
	}
	return total
}

// Tracker records cost per request (e.g. from actual usage in CompletionResponse).
type Tracker struct {
	requests          atomic.Uint64
	totalInputTokens  atomic.Uint64
	totalOutputTokens atomic.Uint64
	mu                sync.Mutex
	totalCostUSD      float64
	modelPricing      map[string]Pricing
	fallback          Pricing
}

// NewTracker creates a cost tracker. Register model pricing with RegisterModel, or set a
// price for every model with SetDefaultPricing.
func NewTracker() *Tracker {
	return &Tracker{modelPricing: make(map[string]Pricing)}
}

// RegisterModel sets pricing (per 1K tokens) for a model.
func (t *Tracker) RegisterModel(model string, inputPer1K, outputPer1K float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modelPricing[model] = Pricing{InputPer1K: inputPer1K, OutputPer1K: outputPer1K}
}

// SetDefaultPricing prices models that were not registered.
func (t *Tracker) SetDefaultPricing(p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = p
}

// Record records usage from a completion response and returns the cost in USD.
func (t *Tracker) Record(model string, usage provider.TokenUsage) float64 {
	t.requests.Add(1)
	t.totalInputTokens.Add(uint64(usage.PromptTokens))
	t.totalOutputTokens.Add(uint64(usage.CompletionTokens))
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.modelPricing[model]
	if !ok {
		p = t.fallback
	}
	cost := p.Cost(usage.PromptTokens, usage.CompletionTokens)
	t.totalCostUSD += cost
	return cost
}

// RecordContext records usage in t and, when ctx carries a different run tracker, in that
// tracker at the same price.
func (t *Tracker) RecordContext(ctx context.Context, model string, usage provider.TokenUsage) float64 {
	cost := t.Record(model, usage)
	if run := FromContext(ctx); run != nil && run != t {
		run.Add(Summary{
			Requests:     1,
			InputTokens:  uint64(usage.PromptTokens),
			OutputTokens: uint64(usage.CompletionTokens),
			CostUSD:      cost,
		})
	}
	return cost
}

// Add accumulates an already-priced summary.
func (t *Tracker) Add(s Summary) {
	t.requests.Add(s.Requests)
	t.totalInputTokens.Add(s.InputTokens)
	t.totalOutputTokens.Add(s.OutputTokens)
	t.mu.Lock()
	t.totalCostUSD += s.CostUSD
	t.mu.Unlock()
}

// TotalInputTokens returns total prompt tokens recorded.
func (t *Tracker) TotalInputTokens() uint64 {
	return t.totalInputTokens.Load()
}

// TotalOutputTokens returns total completion tokens recorded.
func (t *Tracker) TotalOutputTokens() uint64 {
	return t.totalOutputTokens.Load()
}

// TotalCostUSD returns total cost in USD.
func (t *Tracker) TotalCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCostUSD
}

// Summary is a snapshot of tracked or estimated usage.
type Summary struct {
	Requests     uint64  `json:"requests"`
	InputTokens  uint64  `json:"input_tokens"`
	OutputTokens uint64  `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Snapshot returns the current totals.
func (t *Tracker) Snapshot() Summary {
	return Summary{
		Requests:     t.requests.Load(),
		InputTokens:  t.TotalInputTokens(),
		OutputTokens: t.TotalOutputTokens(),
		CostUSD:      t.TotalCostUSD(),
	}
}

// Add returns the element-wise sum of s and o.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		Requests:     s.Requests + o.Requests,
		InputTokens:  s.InputTokens + o.InputTokens,
		OutputTokens: s.OutputTokens + o.OutputTokens,
		CostUSD:      s.CostUSD + o.CostUSD,
	}
}

// Sub returns the usage accumulated between prev and s.
func (s Summary) Sub(prev Summary) Summary {
	return Summary{
		Requests:     s.Requests - prev.Requests,
		InputTokens:  s.InputTokens - prev.InputTokens,
		OutputTokens: s.OutputTokens - prev.OutputTokens,
		CostUSD:      s.CostUSD - prev.CostUSD,
	}
}

type trackerKey struct{}

// WithTracker returns a context whose completions are also recorded in t by RecordContext.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the run tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
