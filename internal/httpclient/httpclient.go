// Package httpclient holds the resty setup shared by every provider and embedder backend.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/klejdi94/synthpanel/core"
)

// Config configures a backend client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Headers    map[string]string
}

// New returns a resty client using sonic as its JSON codec.
func New(cfg Config) *resty.Client {
	var c *resty.Client
	if cfg.HTTPClient != nil {
		c = resty.NewWithClient(cfg.HTTPClient)
	} else {
		c = resty.New()
	}
	c.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	return c
}

// PostJSON posts body to path and decodes a 2xx reply into result.
// Every failure is returned as *core.UpstreamError tagged with provider.
func PostJSON(ctx context.Context, c *resty.Client, provider, path string, body, result interface{}) error {
	resp, err := c.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		ForceContentType("application/json").
		Post(path)
	if err != nil {
		if resp != nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			return &core.UpstreamError{Provider: provider, Status: resp.StatusCode(), Code: "decode", Message: "malformed response body", Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &core.UpstreamError{Provider: provider, Err: ctxErr}
		}
		return &core.UpstreamError{Provider: provider, Err: fmt.Errorf("request failed: %w", err)}
	}
	if resp.IsError() {
		return ResponseError(provider, resp.StatusCode(), resp.Body())
	}
	return nil
}

// ResponseError builds an UpstreamError from a non-2xx reply body.
func ResponseError(provider string, status int, body []byte) *core.UpstreamError {
	code, msg := ParseErrorBody(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &core.UpstreamError{Provider: provider, Status: status, Code: code, Message: msg}
}

// ParseErrorBody extracts a code and message from the error envelopes used by the supported
// backends: {"error":{"code","message","type"}}, {"error":"..."} and {"errors":[{"code","message"}]}.
func ParseErrorBody(body []byte) (code, message string) {
	var env struct {
		Error  interface{} `json:"error"`
		Errors []struct {
			Code    interface{} `json:"code"`
			Message string      `json:"message"`
		} `json:"errors"`
		Message string `json:"message"`
	}
	if err := sonic.Unmarshal(body, &env); err != nil {
		return "", truncate(strings.TrimSpace(string(body)), 512)
	}
	switch e := env.Error.(type) {
	case string:
		return "", e
	case map[string]interface{}:
		message, _ = e["message"].(string)
		code = scalarString(e["code"])
		if code == "" {
			code = scalarString(e["type"])
		}
		if code == "" {
			code = scalarString(e["status"])
		}
		return code, message
	}
	if len(env.Errors) > 0 {
		return scalarString(env.Errors[0].Code), env.Errors[0].Message
	}
	return "", env.Message
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
