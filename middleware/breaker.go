package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/provider"
)

const (
	cbClosed = iota
	cbOpen
	cbHalfOpen
)

// minBreakerRequests is the sample size before the failure rate is evaluated.
const minBreakerRequests = 10

// Breaker opens when the failure rate over the current window reaches threshold, fails fast
// while open, and lets a single test request through after timeout.
type Breaker struct {
	threshold float64
	timeout   time.Duration

	mu        sync.Mutex
	state     int
	requests  int
	failures  int
	openUntil time.Time
	probing   bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold float64, timeout time.Duration) *Breaker {
	return &Breaker{threshold: threshold, timeout: timeout}
}

// ErrCircuitOpen is returned (wrapped in an UpstreamError) while the breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case cbOpen:
		if time.Now().Before(b.openUntil) {
			return b.openErr()
		}
		b.state = cbHalfOpen
		b.probing = true
		return nil
	case cbHalfOpen:
		if b.probing {
			return b.openErr()
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) openErr() error {
	return &core.UpstreamError{Provider: "circuit", Status: http.StatusServiceUnavailable, Code: "circuit_open", Err: ErrCircuitOpen}
}

func (b *Breaker) record(err error) {
	if errors.Is(err, context.Canceled) {
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == cbHalfOpen {
		b.probing = false
		if err != nil {
			b.trip()
			return
		}
		b.state = cbClosed
		b.requests, b.failures = 0, 0
		return
	}
	b.requests++
	if err != nil {
		b.failures++
	}
	if b.requests >= minBreakerRequests && float64(b.failures)/float64(b.requests) >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = cbOpen
	b.openUntil = time.Now().Add(b.timeout)
	b.requests, b.failures = 0, 0
}

// Open reports whether the breaker is currently failing fast.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == cbOpen && time.Now().Before(b.openUntil)
}

// circuitBreakerProvider fails fast when error rate is high.
type circuitBreakerProvider struct {
	next provider.Provider
	b    *Breaker
}

// CircuitBreaker returns a middleware that opens (fails fast) when failure rate exceeds threshold (e.g. 0.5).
// After timeout it allows one request (half-open); success closes the circuit.
func CircuitBreaker(threshold float64, timeout time.Duration) Middleware {
	return CircuitBreakerWith(NewBreaker(threshold, timeout))
}

// CircuitBreakerWith wraps providers with an existing breaker.
func CircuitBreakerWith(b *Breaker) Middleware {
	return func(p provider.Provider) provider.Provider {
		return &circuitBreakerProvider{next: p, b: b}
	}
}

func (c *circuitBreakerProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	if err := c.b.allow(); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.b.record(err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *circuitBreakerProvider) GetModelInfo(model string) (*provider.ModelInfo, error) {
	return c.next.GetModelInfo(model)
}

// CircuitBreakerEmbedder guards embedding calls with b.
func CircuitBreakerEmbedder(b *Breaker) EmbedderMiddleware {
	return func(e embedding.Embedder) embedding.Embedder {
		return wrapEmbedder(e, func(ctx context.Context, call EmbedCall, next func(context.Context) error) error {
			if err := b.allow(); err != nil {
				return err
			}
			err := next(ctx)
			b.record(err)
			return err
		})
	}
}
