// Package config loads service configuration from the environment and panel definitions from YAML.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/klejdi94/synthpanel/core"
)

// Config is the full service configuration.
type Config struct {
	Environment string `env:"ENVIRONMENT, default=development"`
	LogLevel    string `env:"LOG_LEVEL, default=info"`
	PanelFile   string `env:"PANEL_FILE"`

	Response   ResponseConfig
	Embedding  EmbeddingConfig
	Cloudflare CloudflareConfig
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	Gemini     GeminiConfig
	Ollama     OllamaConfig
	SSR        SSRConfig
	Server     ServerConfig
	Redis      RedisConfig
	Analytics  AnalyticsConfig
	Archive    ArchiveConfig
	Chat       ChatConfig
}

// ResponseConfig selects the vision model that plays the consumers.
type ResponseConfig struct {
	Provider    string        `env:"RESPONSE_PROVIDER, default=cloudflare"`
	Model       string        `env:"RESPONSE_MODEL"`
	Temperature float64       `env:"RESPONSE_TEMPERATURE, default=1.0"`
	MaxTokens   int           `env:"RESPONSE_MAX_TOKENS, default=500"`
	Timeout     time.Duration `env:"RESPONSE_TIMEOUT, default=60s"`

	// Prices in USD per 1K tokens; zero reports token counts without cost.
	PriceInputPer1K  float64 `env:"RESPONSE_PRICE_INPUT_PER_1K, default=0"`
	PriceOutputPer1K float64 `env:"RESPONSE_PRICE_OUTPUT_PER_1K, default=0"`
	ImageTokens      int     `env:"RESPONSE_IMAGE_TOKENS, default=1600"`
}

// EmbeddingConfig selects the embedding model used for SSR.
type EmbeddingConfig struct {
	Provider string        `env:"EMBEDDING_PROVIDER, default=cloudflare"`
	Model    string        `env:"EMBEDDING_MODEL"`
	Timeout  time.Duration `env:"EMBEDDING_TIMEOUT, default=30s"`
}

// CloudflareConfig holds Workers AI credentials.
type CloudflareConfig struct {
	AccountID string `env:"CLOUDFLARE_ACCOUNT_ID"`
	APIToken  string `env:"CLOUDFLARE_API_TOKEN"`
	BaseURL   string `env:"CLOUDFLARE_BASE_URL"`
}

// OpenAIConfig holds OpenAI (or compatible) credentials.
type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

// AnthropicConfig holds Anthropic credentials.
type AnthropicConfig struct {
	APIKey  string `env:"ANTHROPIC_API_KEY"`
	BaseURL string `env:"ANTHROPIC_BASE_URL"`
}

// GeminiConfig holds Google Gemini credentials.
type GeminiConfig struct {
	APIKey  string `env:"GEMINI_API_KEY"`
	BaseURL string `env:"GEMINI_BASE_URL"`
}

// OllamaConfig points at a local Ollama server.
type OllamaConfig struct {
	BaseURL string `env:"OLLAMA_BASE_URL, default=http://localhost:11434"`
}

// SSRConfig tunes rating and batch execution.
type SSRConfig struct {
	Beta             float64       `env:"SSR_BETA, default=1.0"`
	Trials           int           `env:"SSR_TRIALS, default=2"`
	MaxTrials        int           `env:"SSR_MAX_TRIALS, default=100"`
	Concurrency      int           `env:"SSR_CONCURRENCY, default=8"`
	Question         string        `env:"SSR_QUESTION"`
	MaxRetries       int           `env:"SSR_MAX_RETRIES, default=2"`
	RetryBackoff     time.Duration `env:"SSR_RETRY_BACKOFF, default=500ms"`
	RetryMaxBackoff  time.Duration `env:"SSR_RETRY_MAX_BACKOFF, default=10s"`
	AttemptTimeout   time.Duration `env:"SSR_ATTEMPT_TIMEOUT, default=90s"`
	RateLimit        int           `env:"SSR_RATE_LIMIT_PER_MINUTE, default=0"`
	BreakerThreshold float64       `env:"SSR_BREAKER_THRESHOLD, default=0"`
	BreakerTimeout   time.Duration `env:"SSR_BREAKER_TIMEOUT, default=30s"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr      string `env:"SERVER_ADDR, default=:8787"`
	BodyLimit int    `env:"SERVER_BODY_LIMIT, default=20971520"`
}

// RedisConfig enables the shared anchor vector store and the Redis analytics backend.
type RedisConfig struct {
	URL    string `env:"REDIS_URL"`
	Prefix string `env:"REDIS_PREFIX, default=synthpanel"`
}

// AnalyticsConfig selects where evaluation items are recorded: memory, redis, postgres or none.
type AnalyticsConfig struct {
	Backend     string `env:"ANALYTICS_BACKEND, default=memory"`
	PostgresDSN string `env:"ANALYTICS_POSTGRES_DSN"`
	Table       string `env:"ANALYTICS_TABLE"`
	MaxRecords  int    `env:"ANALYTICS_MAX_RECORDS, default=10000"`
}

// ArchiveConfig selects where batch reports are archived: memory, file, s3 or none.
type ArchiveConfig struct {
	Backend  string `env:"ARCHIVE_BACKEND, default=memory"`
	Dir      string `env:"ARCHIVE_DIR, default=./runs"`
	Prefix   string `env:"ARCHIVE_PREFIX"`
	Bucket   string `env:"ARCHIVE_S3_BUCKET"`
	Endpoint string `env:"ARCHIVE_S3_ENDPOINT"`
}

// ChatConfig tunes the analyst chat over archived runs.
type ChatConfig struct {
	Model       string  `env:"CHAT_MODEL"`
	Temperature float64 `env:"CHAT_TEMPERATURE, default=0.7"`
	MaxTokens   int     `env:"CHAT_MAX_TOKENS, default=1000"`
	MaxHistory  int     `env:"CHAT_MAX_HISTORY, default=50"`
}

// Load reads .env (if present) and the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from l and validates it.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Response.Provider = strings.ToLower(strings.TrimSpace(cfg.Response.Provider))
	cfg.Embedding.Provider = strings.ToLower(strings.TrimSpace(cfg.Embedding.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether logs should be JSON.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production") || strings.EqualFold(c.Environment, "prod")
}

// Validate rejects unknown backends and non-positive SSR parameters. Missing credentials are
// reported by HasCredentials, not here, so the service can start and report its state.
func (c *Config) Validate() error {
	switch c.Response.Provider {
	case "cloudflare", "openai", "anthropic", "gemini", "ollama":
	default:
		return &core.ValidationError{Field: "RESPONSE_PROVIDER", Value: c.Response.Provider, Message: "unknown provider"}
	}
	switch c.Embedding.Provider {
	case "cloudflare", "openai", "ollama":
	default:
		return &core.ValidationError{Field: "EMBEDDING_PROVIDER", Value: c.Embedding.Provider, Message: "unknown provider"}
	}
	if err := core.ValidateBeta(c.SSR.Beta); err != nil {
		return err
	}
	if c.SSR.Trials < 1 {
		return &core.ValidationError{Field: "SSR_TRIALS", Value: c.SSR.Trials, Message: "must be at least 1"}
	}
	if c.SSR.MaxTrials < 1 {
		return &core.ValidationError{Field: "SSR_MAX_TRIALS", Value: c.SSR.MaxTrials, Message: "must be at least 1"}
	}
	if c.SSR.Trials > c.SSR.MaxTrials {
		return &core.ValidationError{Field: "SSR_TRIALS", Value: c.SSR.Trials, Message: fmt.Sprintf("must be at most SSR_MAX_TRIALS (%d)", c.SSR.MaxTrials)}
	}
	if c.SSR.Concurrency < 1 {
		return &core.ValidationError{Field: "SSR_CONCURRENCY", Value: c.SSR.Concurrency, Message: "must be at least 1"}
	}
	if c.SSR.MaxRetries < 0 {
		return &core.ValidationError{Field: "SSR_MAX_RETRIES", Value: c.SSR.MaxRetries, Message: "must not be negative"}
	}
	if c.SSR.BreakerThreshold < 0 || c.SSR.BreakerThreshold > 1 {
		return &core.ValidationError{Field: "SSR_BREAKER_THRESHOLD", Value: c.SSR.BreakerThreshold, Message: "must be within [0, 1]"}
	}
	if c.Response.PriceInputPer1K < 0 || c.Response.PriceOutputPer1K < 0 {
		return &core.ValidationError{Field: "RESPONSE_PRICE_INPUT_PER_1K", Message: "prices must not be negative"}
	}
	if c.Response.ImageTokens < 0 {
		return &core.ValidationError{Field: "RESPONSE_IMAGE_TOKENS", Value: c.Response.ImageTokens, Message: "must not be negative"}
	}
	if c.Chat.MaxHistory < 0 {
		return &core.ValidationError{Field: "CHAT_MAX_HISTORY", Value: c.Chat.MaxHistory, Message: "must not be negative"}
	}
	switch c.Analytics.Backend {
	case "memory", "none":
	case "redis":
		if c.Redis.URL == "" {
			return &core.ValidationError{Field: "REDIS_URL", Message: "required by the redis analytics backend"}
		}
	case "postgres":
		if c.Analytics.PostgresDSN == "" {
			return &core.ValidationError{Field: "ANALYTICS_POSTGRES_DSN", Message: "required by the postgres analytics backend"}
		}
	default:
		return &core.ValidationError{Field: "ANALYTICS_BACKEND", Value: c.Analytics.Backend, Message: "unknown backend"}
	}
	switch c.Archive.Backend {
	case "memory", "file", "none":
	case "s3":
		if c.Archive.Bucket == "" {
			return &core.ValidationError{Field: "ARCHIVE_S3_BUCKET", Message: "required by the s3 archive backend"}
		}
	default:
		return &core.ValidationError{Field: "ARCHIVE_BACKEND", Value: c.Archive.Backend, Message: "unknown backend"}
	}
	return nil
}

// HasCredentials reports whether the selected response and embedding providers are configured.
func (c *Config) HasCredentials() bool {
	return c.providerReady(c.Response.Provider) && c.providerReady(c.Embedding.Provider)
}

func (c *Config) providerReady(name string) bool {
	switch name {
	case "cloudflare":
		return c.Cloudflare.AccountID != "" && c.Cloudflare.APIToken != ""
	case "openai":
		return c.OpenAI.APIKey != ""
	case "anthropic":
		return c.Anthropic.APIKey != ""
	case "gemini":
		return c.Gemini.APIKey != ""
	case "ollama":
		return c.Ollama.BaseURL != ""
	}
	return false
}
