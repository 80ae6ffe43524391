package embedding

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

func TestCloudflareEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/ai/run/@cf/google/embeddinggemma-300m", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body struct {
			Text []string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rows := make([][]float64, len(body.Text))
		for i := range body.Text {
			rows[i] = []float64{float64(i), 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "result": map[string]interface{}{"data": rows}})
	}))
	defer srv.Close()

	e, err := NewCloudflare(CloudflareConfig{AccountID: "acct", APIToken: "tok", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, DefaultCloudflareModel, e.ModelID())

	vecs, err := EmbedAll(context.Background(), e, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, Vector{2, 1}, vecs[2])

	v, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, Vector{0, 1}, v)
}

func TestCloudflareEmbedder_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":5006,"message":"bad input"}]}`))
	}))
	defer srv.Close()

	e, err := NewCloudflare(CloudflareConfig{AccountID: "acct", APIToken: "tok", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	var ue *core.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 400, ue.Status)
	assert.Equal(t, "5006", ue.Code)
	assert.Equal(t, "bad input", ue.Message)
}

func TestNewCloudflare_RequiresCredentials(t *testing.T) {
	_, err := NewCloudflare(CloudflareConfig{AccountID: "acct"})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 0}, vecs[0])
	assert.Equal(t, Vector{0, 1}, vecs[1])
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	v, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.5, 0.5}, v)
}

type sequentialOnly struct{ Embedder }

func TestEmbedAll_Sequential(t *testing.T) {
	m := &MapEmbedder{Vectors: map[string]Vector{"a": {1}, "b": {2}}}
	vecs, err := EmbedAll(context.Background(), sequentialOnly{m}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []Vector{{1}, {2}}, vecs)
	embed, batch := m.Calls()
	assert.Equal(t, 2, embed)
	assert.Equal(t, 0, batch)

	_, err = EmbedAll(context.Background(), sequentialOnly{m}, []string{"a", "missing"})
	assert.Error(t, err)
}

func TestMapEmbedder_Errors(t *testing.T) {
	boom := errors.New("boom")
	m := &MapEmbedder{Errors: map[string]error{"x": boom}, Fallback: func(string) (Vector, error) { return Vector{1}, nil }}
	_, err := m.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	v, err := m.Embed(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, Vector{1}, v)
	assert.Equal(t, 1, m.TextCalls("x"))
}
