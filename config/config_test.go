package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/core"
)

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "cloudflare", cfg.Response.Provider)
	assert.Equal(t, "cloudflare", cfg.Embedding.Provider)
	assert.Equal(t, 1.0, cfg.Response.Temperature)
	assert.Equal(t, 500, cfg.Response.MaxTokens)
	assert.Equal(t, 1.0, cfg.SSR.Beta)
	assert.Equal(t, 2, cfg.SSR.Trials)
	assert.Equal(t, 100, cfg.SSR.MaxTrials)
	assert.Equal(t, 8, cfg.SSR.Concurrency)
	assert.Equal(t, 1600, cfg.Response.ImageTokens)
	assert.Zero(t, cfg.Response.PriceInputPer1K)
	assert.Equal(t, 0.7, cfg.Chat.Temperature)
	assert.Equal(t, 1000, cfg.Chat.MaxTokens)
	assert.Equal(t, 500*time.Millisecond, cfg.SSR.RetryBackoff)
	assert.Equal(t, ":8787", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Analytics.Backend)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.False(t, cfg.HasCredentials())
	assert.False(t, cfg.IsProduction())
}

func TestLoadWith_Overrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"ENVIRONMENT":           "production",
		"RESPONSE_PROVIDER":     "OpenAI",
		"EMBEDDING_PROVIDER":    "openai",
		"OPENAI_API_KEY":        "sk-test",
		"SSR_BETA":              "2.5",
		"SSR_TRIALS":            "3",
		"SSR_ATTEMPT_TIMEOUT":   "5s",
		"ANALYTICS_BACKEND":     "redis",
		"REDIS_URL":             "redis://localhost:6379/0",
		"CLOUDFLARE_ACCOUNT_ID": "acct",
	}))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Response.Provider)
	assert.Equal(t, 2.5, cfg.SSR.Beta)
	assert.Equal(t, 3, cfg.SSR.Trials)
	assert.Equal(t, 5*time.Second, cfg.SSR.AttemptTimeout)
	assert.Equal(t, "acct", cfg.Cloudflare.AccountID)
	assert.True(t, cfg.HasCredentials())
	assert.True(t, cfg.IsProduction())
}

func TestLoadWith_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"beta":        {"SSR_BETA": "0"},
		"trials":      {"SSR_TRIALS": "0"},
		"concurrency": {"SSR_CONCURRENCY": "-1"},
		"provider":    {"RESPONSE_PROVIDER": "cohere"},
		"embedder":    {"EMBEDDING_PROVIDER": "anthropic"},
		"postgres":    {"ANALYTICS_BACKEND": "postgres"},
		"s3":          {"ARCHIVE_BACKEND": "s3"},
		"breaker":     {"SSR_BREAKER_THRESHOLD": "1.5"},
		"max trials":  {"SSR_MAX_TRIALS": "0"},
		"over max":    {"SSR_TRIALS": "11", "SSR_MAX_TRIALS": "10"},
		"price":       {"RESPONSE_PRICE_OUTPUT_PER_1K": "-0.1"},
		"history":     {"CHAT_MAX_HISTORY": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWith(context.Background(), envconfig.MapLookuper(env))
			assert.ErrorIs(t, err, core.ErrInvalidParameter)
		})
	}

	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{"SSR_TRIALS": "many"}))
	assert.Error(t, err)
}

const panelYAML = `
question: Would you subscribe to this service?
anchor_sets:
  - name: intent
    statements:
      - I would never buy it.
      - I probably would not buy it.
      - I am not sure.
      - I would probably buy it.
      - I would certainly buy it.
profiles:
  - id: nurse
    attributes:
      occupation: Nurse
      age: 41
      location: Leeds, UK
      interests: [gardening, running]
  - attributes:
      age: 19
`

func TestParsePanel_PreservesOrder(t *testing.T) {
	p, err := ParsePanel([]byte(panelYAML))
	require.NoError(t, err)
	assert.Equal(t, "Would you subscribe to this service?", p.Question)
	require.Len(t, p.AnchorSets, 1)
	assert.Equal(t, "intent", p.AnchorSets[0].Name())
	assert.Equal(t, "I would certainly buy it.", p.AnchorSets[0].Statements()[4])

	require.Len(t, p.Profiles, 2)
	assert.Equal(t, "nurse", p.Profiles[0].ID())
	assert.Equal(t, "occupation: Nurse; age: 41; location: Leeds, UK; interests: gardening, running", p.Profiles[0].Describe())
	assert.Equal(t, "2", p.Profiles[1].ID())
}

func TestParsePanel_Errors(t *testing.T) {
	_, err := ParsePanel([]byte("anchor_sets:\n  - name: short\n    statements: [a, b]\n"))
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	_, err = ParsePanel([]byte("profiles:\n  - id: x\n    attributes: [a, b]\n"))
	assert.Error(t, err)

	_, err = ParsePanel([]byte("profiles:\n  - id: x\n"))
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestPanel_WithDefaults(t *testing.T) {
	p := (&Panel{}).WithDefaults()
	assert.Len(t, p.AnchorSets, 6)
	assert.Len(t, p.Profiles, 3)
}
