package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/core"
)

func noBackoff(int) time.Duration { return 0 }

func TestRetry_TransientThenSuccess(t *testing.T) {
	e := New(WithRetry(3, noBackoff))
	calls := 0
	v, attempts, err := Retry(context.Background(), e, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &core.UpstreamError{Provider: "p", Status: 503}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	e := New(WithRetry(5, noBackoff))
	calls := 0
	attempts, err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &core.UpstreamError{Provider: "p", Status: 400}
	})
	assert.ErrorIs(t, err, core.ErrUpstream)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)

	attempts, err = e.Do(context.Background(), func(ctx context.Context) error {
		return core.ErrDegenerateVector
	})
	assert.ErrorIs(t, err, core.ErrDegenerateVector)
	assert.Equal(t, 1, attempts)
}

func TestRetry_Exhausted(t *testing.T) {
	var delays []time.Duration
	e := New(
		WithRetry(2, ExponentialBackoff(time.Millisecond, 3*time.Millisecond)),
		WithOnRetry(func(attempt int, d time.Duration, err error) { delays = append(delays, d) }),
	)
	attempts, err := e.Do(context.Background(), func(ctx context.Context) error {
		return &core.UpstreamError{Provider: "p", Status: 429}
	})
	assert.ErrorIs(t, err, core.ErrUpstream)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	e := New(WithRetry(5, func(int) time.Duration { return time.Hour }))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	attempts, err := e.Do(ctx, func(ctx context.Context) error {
		return &core.UpstreamError{Provider: "p", Status: 500}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetry_PerAttemptTimeout(t *testing.T) {
	e := New(WithRetry(1, noBackoff), WithTimeout(10*time.Millisecond))
	calls := 0
	attempts, err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_NilExecutorSingleAttempt(t *testing.T) {
	_, attempts, err := Retry(context.Background(), nil, func(ctx context.Context) (int, error) {
		return 0, &core.UpstreamError{Provider: "p", Status: 500}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(0))
	assert.Equal(t, 400*time.Millisecond, b(2))
	assert.Equal(t, time.Second, b(10))
}

func TestRetry_CustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	e := New(WithRetry(2, noBackoff), WithRetryable(func(err error) bool { return errors.Is(err, sentinel) }))
	attempts, err := e.Do(context.Background(), func(ctx context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
}
