package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamError_Retryable(t *testing.T) {
	cases := []struct {
		err  *UpstreamError
		want bool
	}{
		{&UpstreamError{Provider: "p", Err: errors.New("connection reset")}, true},
		{&UpstreamError{Provider: "p", Err: context.Canceled}, false},
		{&UpstreamError{Provider: "p", Status: 429}, true},
		{&UpstreamError{Provider: "p", Status: 408}, true},
		{&UpstreamError{Provider: "p", Status: 503}, true},
		{&UpstreamError{Provider: "p", Status: 400}, false},
		{&UpstreamError{Provider: "p", Status: 401}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.Retryable(), c.err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	wrapped := fmt.Errorf("persona: respond: %w", &UpstreamError{Provider: "p", Status: 500})
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, errors.Is(wrapped, ErrUpstream))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestUpstreamError_Message(t *testing.T) {
	e := &UpstreamError{Provider: "cloudflare", Status: 400, Code: "5006", Message: "bad input"}
	assert.Equal(t, "cloudflare api error 400 (5006): bad input", e.Error())
}

func TestValidateBeta(t *testing.T) {
	assert.NoError(t, ValidateBeta(1))
	assert.ErrorIs(t, ValidateBeta(0), ErrInvalidParameter)
	assert.ErrorIs(t, ValidateBeta(-2), ErrInvalidParameter)
}
