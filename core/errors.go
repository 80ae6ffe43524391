// Package core provides the fundamental rating types and error taxonomy for synthpanel.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for rating operations.
var (
	ErrUpstream               = errors.New("upstream provider failed")
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrDegenerateVector       = errors.New("degenerate vector")
	ErrDimensionMismatch      = errors.New("embedding dimension mismatch")
	ErrDegenerateDistribution = errors.New("degenerate distribution")
)

// UpstreamError describes a failed call to an embedding or response provider.
// Status is 0 when the request never produced an HTTP response.
type UpstreamError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status == 0:
		return fmt.Sprintf("%s: %s", e.Provider, msg)
	case e.Code != "":
		return fmt.Sprintf("%s api error %d (%s): %s", e.Provider, e.Status, e.Code, msg)
	default:
		return fmt.Sprintf("%s api error %d: %s", e.Provider, e.Status, msg)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports ErrUpstream so callers can match any provider failure.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Retryable reports whether the failure is transient (network, timeout, throttling, 5xx).
func (e *UpstreamError) Retryable() bool {
	if e.Status == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	switch e.Status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.Status >= http.StatusInternalServerError
}

// IsRetryable reports whether err is a transient upstream failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return false
}

// ValidationError carries field-level validation context.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Is reports ErrInvalidParameter.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidParameter }

// ValidateBeta rejects non-positive (or NaN) sharpening exponents.
func ValidateBeta(beta float64) error {
	if !(beta > 0) {
		return &ValidationError{Field: "beta", Value: beta, Message: "must be > 0"}
	}
	return nil
}
