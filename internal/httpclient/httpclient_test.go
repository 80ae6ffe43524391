package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/core"
)

func TestParseErrorBody(t *testing.T) {
	code, msg := ParseErrorBody([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	assert.Equal(t, "rate_limit_error", code)
	assert.Equal(t, "rate limited", msg)

	code, msg = ParseErrorBody([]byte(`{"errors":[{"code":5006,"message":"bad input"}],"success":false}`))
	assert.Equal(t, "5006", code)
	assert.Equal(t, "bad input", msg)

	code, msg = ParseErrorBody([]byte(`{"error":"model not found"}`))
	assert.Empty(t, code)
	assert.Equal(t, "model not found", msg)

	_, msg = ParseErrorBody([]byte("gateway exploded"))
	assert.Equal(t, "gateway exploded", msg)
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"value":42}`))
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","code":"rate_limit"}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, PostJSON(context.Background(), c, "test", "/ok", map[string]string{"a": "b"}, &out))
	assert.Equal(t, 42, out.Value)

	err := PostJSON(context.Background(), c, "test", "/throttled", nil, &out)
	var ue *core.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 429, ue.Status)
	assert.Equal(t, "rate_limit", ue.Code)
	assert.True(t, core.IsRetryable(err))

	err = PostJSON(context.Background(), c, "test", "/bad", nil, &out)
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 400, ue.Status)
	assert.Equal(t, "Bad Request", ue.Message)
	assert.False(t, core.IsRetryable(err))
}

func TestPostJSON_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := PostJSON(ctx, New(Config{BaseURL: srv.URL}), "test", "/", nil, &struct{}{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, core.IsRetryable(err))
}
