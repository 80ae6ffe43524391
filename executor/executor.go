// Package executor runs upstream calls with caller-level retry and exponential backoff.
// Only failures classified as transient are retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klejdi94/synthpanel/core"
)

// Executor retries a call while it fails with a retryable error.
type Executor struct {
	MaxRetries  int
	Backoff     BackoffFunc
	BaseTimeout time.Duration
	Retryable   func(error) bool
	OnRetry     func(attempt int, delay time.Duration, err error)
}

// BackoffFunc returns delay before the next retry (attempt is 0-based).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns delay = base * 2^attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base * time.Duration(math.Pow(2, float64(attempt)))
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithRetry sets max retries and backoff.
func WithRetry(maxRetries int, backoff BackoffFunc) ExecutorOption {
	return func(e *Executor) {
		e.MaxRetries = maxRetries
		e.Backoff = backoff
	}
}

// WithTimeout bounds each attempt. An attempt that hits this deadline is retryable
// as long as the caller's context is still live.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.BaseTimeout = d
	}
}

// WithRetryable replaces core.IsRetryable as the retry classifier.
func WithRetryable(fn func(error) bool) ExecutorOption {
	return func(e *Executor) {
		e.Retryable = fn
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) ExecutorOption {
	return func(e *Executor) {
		e.OnRetry = fn
	}
}

// New creates an executor. Without options it makes a single attempt.
func New(opts ...ExecutorOption) *Executor {
	e := &Executor{
		MaxRetries: 0,
		Backoff:    ExponentialBackoff(500*time.Millisecond, 30*time.Second),
		Retryable:  core.IsRetryable,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Do calls fn until it succeeds, fails permanently, or retries run out.
// It returns the number of attempts made.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	_, attempts, err := Retry(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return attempts, err
}

// Retry is the value-returning form of Executor.Do. A nil executor makes one attempt.
func Retry[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	if e == nil {
		e = New()
	}
	retryable := e.Retryable
	if retryable == nil {
		retryable = core.IsRetryable
	}
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, attempts, fmt.Errorf("executor: cancelled after %d attempts: %w", attempts, lastErr)
			}
			return zero, attempts, err
		}
		attempts++
		v, err := runAttempt(ctx, e.BaseTimeout, fn)
		if err == nil {
			return v, attempts, nil
		}
		lastErr = err
		if !retryable(err) && !e.attemptTimedOut(ctx, err) {
			return zero, attempts, err
		}
		if attempt == e.MaxRetries {
			break
		}
		var delay time.Duration
		if e.Backoff != nil {
			delay = e.Backoff(attempt)
		}
		if e.OnRetry != nil {
			e.OnRetry(attempts, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, attempts, fmt.Errorf("executor: cancelled after %d attempts: %w", attempts, lastErr)
		}
	}
	return zero, attempts, fmt.Errorf("executor: after %d attempts: %w", attempts, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

// attemptTimedOut reports whether err came from the per-attempt deadline rather than the caller.
func (e *Executor) attemptTimedOut(ctx context.Context, err error) bool {
	return e.BaseTimeout > 0 && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
