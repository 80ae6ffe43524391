package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/core"
)

var testImage = core.Image{Data: []byte("img"), MimeType: "image/png"}

func jsonServer(t *testing.T, check func(body map[string]interface{}, r *http.Request), status int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body, r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCloudflare_Complete(t *testing.T) {
	srv := jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		assert.Equal(t, "/accounts/acct/ai/run/"+DefaultCloudflareModel, r.URL.Path)
		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
		parts := msgs[1].(map[string]interface{})["content"].([]interface{})
		img := parts[0].(map[string]interface{})["image_url"].(map[string]interface{})
		assert.Equal(t, testImage.DataURL(), img["url"])
		assert.Equal(t, "Would you buy it?", parts[1].(map[string]interface{})["text"])
		assert.EqualValues(t, 500, body["max_tokens"])
	}, http.StatusOK, `{"success":true,"result":{"response":"  Maybe.  "}}`)

	c, err := NewCloudflare(CloudflareConfig{AccountID: "acct", APIToken: "tok", BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System: "persona", Prompt: "Would you buy it?", Image: testImage, Temperature: 1, MaxTokens: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Maybe.", resp.Content)
}

func TestCloudflare_UpstreamError(t *testing.T) {
	srv := jsonServer(t, nil, http.StatusServiceUnavailable, `{"success":false,"errors":[{"code":3040,"message":"capacity"}]}`)
	c, err := NewCloudflare(CloudflareConfig{AccountID: "acct", APIToken: "tok", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	var ue *core.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 503, ue.Status)
	assert.Equal(t, "3040", ue.Code)
	assert.True(t, core.IsRetryable(err))
}

func TestOpenAI_Complete(t *testing.T) {
	srv := jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
	}, http.StatusOK, `{"model":"gpt-4o-mini","choices":[{"message":{"content":"No thanks."},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`)
	c, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), CompletionRequest{Prompt: "q", Image: testImage})
	require.NoError(t, err)
	assert.Equal(t, "No thanks.", resp.Content)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestAnthropic_ImageBlock(t *testing.T) {
	srv := jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		msgs := body["messages"].([]interface{})
		blocks := msgs[0].(map[string]interface{})["content"].([]interface{})
		src := blocks[0].(map[string]interface{})["source"].(map[string]interface{})
		assert.Equal(t, "image/png", src["media_type"])
		assert.Equal(t, testImage.Base64(), src["data"])
	}, http.StatusOK, `{"content":[{"type":"text","text":"Sure."}],"usage":{"input_tokens":4,"output_tokens":2}}`)
	c, err := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), CompletionRequest{Prompt: "q", Image: testImage})
	require.NoError(t, err)
	assert.Equal(t, "Sure.", resp.Content)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestGemini_InlineData(t *testing.T) {
	srv := jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		contents := body["contents"].([]interface{})
		parts := contents[0].(map[string]interface{})["parts"].([]interface{})
		inline := parts[0].(map[string]interface{})["inlineData"].(map[string]interface{})
		assert.Equal(t, "image/png", inline["mimeType"])
	}, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"Hmm."}]},"finishReason":"STOP"}]}`)
	c, err := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), CompletionRequest{Prompt: "q", Image: testImage})
	require.NoError(t, err)
	assert.Equal(t, "Hmm.", resp.Content)
}

func TestOllama_Images(t *testing.T) {
	srv := jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, false, body["stream"])
		msgs := body["messages"].([]interface{})
		images := msgs[0].(map[string]interface{})["images"].([]interface{})
		assert.Equal(t, testImage.Base64(), images[0])
	}, http.StatusOK, `{"model":"llava","message":{"content":"ok"},"eval_count":2,"prompt_eval_count":3}`)
	resp, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Complete(context.Background(), CompletionRequest{Prompt: "q", Image: testImage})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestHistory_SentBeforePrompt(t *testing.T) {
	history := []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}
	req := CompletionRequest{System: "analyst", History: history, Prompt: "and now?"}

	msgs := buildMessages(req)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "and now?", msgs[3].Content)

	srv := jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		contents := body["contents"].([]interface{})
		require.Len(t, contents, 3)
		assert.Equal(t, "model", contents[1].(map[string]interface{})["role"])
	}, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	g, err := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = g.Complete(context.Background(), req)
	require.NoError(t, err)

	srv = jsonServer(t, func(body map[string]interface{}, r *http.Request) {
		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 3)
		assert.Equal(t, "analyst", body["system"])
	}, http.StatusOK, `{"content":[{"type":"text","text":"ok"}]}`)
	a, err := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = a.Complete(context.Background(), req)
	require.NoError(t, err)
}

func TestConstructors_RequireKeys(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
	_, err = NewAnthropic(AnthropicConfig{})
	assert.Error(t, err)
	_, err = NewGemini(GeminiConfig{})
	assert.Error(t, err)
	_, err = NewCloudflare(CloudflareConfig{AccountID: "a"})
	assert.Error(t, err)
}
