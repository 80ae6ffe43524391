package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/provider"
)

// Metrics holds Prometheus collectors for upstream calls.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Tokens   *prometheus.CounterVec
}

// NewMetrics registers the upstream collectors on reg (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthpanel_upstream_requests_total",
				Help: "Upstream provider calls by operation and outcome.",
			},
			[]string{"op", "status"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synthpanel_upstream_request_duration_seconds",
				Help:    "Upstream provider call latency.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"op"},
		),
		Tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthpanel_tokens_total",
				Help: "Tokens consumed by response generation.",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.Requests.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// metricsProvider counts requests and token usage.
type metricsProvider struct {
	next provider.Provider
	m    *Metrics
}

// Provider returns a middleware recording completions.
func (m *Metrics) Provider() Middleware {
	return func(p provider.Provider) provider.Provider {
		return &metricsProvider{next: p, m: m}
	}
}

// Embedder returns a middleware recording embedding calls.
func (m *Metrics) Embedder() EmbedderMiddleware {
	return func(e embedding.Embedder) embedding.Embedder {
		return wrapEmbedder(e, func(ctx context.Context, call EmbedCall, next func(context.Context) error) error {
			start := time.Now()
			err := next(ctx)
			m.observe(call.Op, start, err)
			return err
		})
	}
}

func (p *metricsProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	start := time.Now()
	resp, err := p.next.Complete(ctx, req)
	p.m.observe("complete", start, err)
	if err != nil {
		return nil, err
	}
	p.m.Tokens.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
	p.m.Tokens.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

func (p *metricsProvider) GetModelInfo(model string) (*provider.ModelInfo, error) {
	return p.next.GetModelInfo(model)
}
