package synthpanel

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/klejdi94/synthpanel/analytics"
	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/archive/s3blob"
	"github.com/klejdi94/synthpanel/chat"
	"github.com/klejdi94/synthpanel/config"
	"github.com/klejdi94/synthpanel/cost"
	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/executor"
	"github.com/klejdi94/synthpanel/middleware"
	"github.com/klejdi94/synthpanel/persona"
	"github.com/klejdi94/synthpanel/provider"
	"github.com/klejdi94/synthpanel/rater"
)

// FromConfig builds a Panel from service configuration: providers with logging, metrics,
// rate limiting and circuit breaking; retries; the Redis anchor store; analytics and archive
// backends; and the optional panel file. Metrics register on reg (nil disables them).
// Call Panel.Close to release connections.
func FromConfig(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (_ *Panel, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	tracker, est := NewCostTracking(cfg)
	b := New().
		WithProvider(p).
		WithEmbedder(emb).
		WithBeta(cfg.SSR.Beta).
		WithTrials(cfg.SSR.Trials).
		WithMaxTrials(cfg.SSR.MaxTrials).
		WithConcurrency(cfg.SSR.Concurrency).
		WithRetry(NewExecutor(cfg)).
		WithCostTracker(tracker).
		WithEstimator(est).
		WithPersonaOptions(
			persona.WithModel(cfg.Response.Model),
			persona.WithTemperature(cfg.Response.Temperature),
			persona.WithMaxTokens(cfg.Response.MaxTokens),
		).
		WithChatOptions(
			chat.WithModel(cfg.Chat.Model),
			chat.WithTemperature(cfg.Chat.Temperature),
			chat.WithMaxTokens(cfg.Chat.MaxTokens),
			chat.WithMaxHistory(cfg.Chat.MaxHistory),
		)

	if reg != nil {
		m := middleware.NewMetrics(reg)
		b.WithProviderMiddleware(m.Provider())
		b.WithEmbedderMiddleware(m.Embedder())
	}
	b.WithProviderMiddleware(middleware.Logging(log.Logger))
	b.WithEmbedderMiddleware(middleware.LoggingEmbedder(log.Logger))
	if cfg.SSR.BreakerThreshold > 0 {
		b.WithProviderMiddleware(middleware.CircuitBreaker(cfg.SSR.BreakerThreshold, cfg.SSR.BreakerTimeout))
		b.WithEmbedderMiddleware(middleware.CircuitBreakerEmbedder(middleware.NewBreaker(cfg.SSR.BreakerThreshold, cfg.SSR.BreakerTimeout)))
	}
	if cfg.SSR.RateLimit > 0 {
		b.WithProviderMiddleware(middleware.RateLimit(cfg.SSR.RateLimit, time.Minute))
		b.WithEmbedderMiddleware(middleware.RateLimitEmbedder(middleware.NewLimiter(cfg.SSR.RateLimit, time.Minute)))
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("synthpanel: redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		closers = append(closers, rdb.Close)
		b.WithVectorStore(rater.NewRedisVectorStore(rdb, cfg.Redis.Prefix+":anchors"))
	}

	recorder, closeRecorder, err := newRecorder(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	if closeRecorder != nil {
		closers = append(closers, closeRecorder)
	}
	if recorder != nil {
		b.WithRecorder(recorder)
	}

	arc, err := newArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if arc != nil {
		b.WithArchive(arc)
	}

	if cfg.PanelFile != "" {
		pf, err := config.LoadPanel(cfg.PanelFile)
		if err != nil {
			return nil, err
		}
		pf = pf.WithDefaults()
		b.WithAnchorSets(pf.AnchorSets...).WithProfiles(pf.Profiles...).WithQuestion(pf.Question)
	}
	if cfg.SSR.Question != "" {
		b.WithQuestion(cfg.SSR.Question)
	}

	panel, err := b.Build()
	if err != nil {
		return nil, err
	}
	panel.closers = closers
	return panel, nil
}

// NewProvider constructs the configured response provider.
func NewProvider(cfg *config.Config) (provider.Provider, error) {
	timeout := cfg.Response.Timeout
	switch cfg.Response.Provider {
	case "cloudflare":
		return provider.NewCloudflare(provider.CloudflareConfig{
			AccountID: cfg.Cloudflare.AccountID,
			APIToken:  cfg.Cloudflare.APIToken,
			BaseURL:   cfg.Cloudflare.BaseURL,
			Timeout:   timeout,
		})
	case "openai":
		return provider.NewOpenAI(provider.OpenAIConfig{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL, Timeout: timeout})
	case "anthropic":
		return provider.NewAnthropic(provider.AnthropicConfig{APIKey: cfg.Anthropic.APIKey, BaseURL: cfg.Anthropic.BaseURL, Timeout: timeout})
	case "gemini":
		return provider.NewGemini(provider.GeminiConfig{APIKey: cfg.Gemini.APIKey, BaseURL: cfg.Gemini.BaseURL, Timeout: timeout})
	case "ollama":
		return provider.NewOllama(provider.OllamaConfig{BaseURL: cfg.Ollama.BaseURL, Timeout: timeout}), nil
	}
	return nil, fmt.Errorf("synthpanel: unknown response provider %q", cfg.Response.Provider)
}

// NewEmbedder constructs the configured embedding provider.
func NewEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	timeout := cfg.Embedding.Timeout
	switch cfg.Embedding.Provider {
	case "cloudflare":
		return embedding.NewCloudflare(embedding.CloudflareConfig{
			AccountID: cfg.Cloudflare.AccountID,
			APIToken:  cfg.Cloudflare.APIToken,
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Cloudflare.BaseURL,
			Timeout:   timeout,
		})
	case "openai":
		return embedding.NewOpenAI(embedding.OpenAIConfig{APIKey: cfg.OpenAI.APIKey, Model: cfg.Embedding.Model, BaseURL: cfg.OpenAI.BaseURL, Timeout: timeout})
	case "ollama":
		return embedding.NewOllama(embedding.OllamaConfig{BaseURL: cfg.Ollama.BaseURL, Model: cfg.Embedding.Model, Timeout: timeout}), nil
	}
	return nil, fmt.Errorf("synthpanel: unknown embedding provider %q", cfg.Embedding.Provider)
}

// NewCostTracking builds the usage tracker and the estimator from the configured response
// model prices. Every model the provider reports is charged at those prices.
func NewCostTracking(cfg *config.Config) (*cost.Tracker, *cost.Estimator) {
	pricing := cost.Pricing{InputPer1K: cfg.Response.PriceInputPer1K, OutputPer1K: cfg.Response.PriceOutputPer1K}
	tracker := cost.NewTracker()
	tracker.SetDefaultPricing(pricing)
	return tracker, cost.NewEstimator(pricing, cost.WithImageTokens(cfg.Response.ImageTokens))
}

// NewExecutor builds the retry policy for upstream calls.
func NewExecutor(cfg *config.Config) *executor.Executor {
	return executor.New(
		executor.WithRetry(cfg.SSR.MaxRetries, executor.ExponentialBackoff(cfg.SSR.RetryBackoff, cfg.SSR.RetryMaxBackoff)),
		executor.WithTimeout(cfg.SSR.AttemptTimeout),
		executor.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying upstream call")
		}),
	)
}

func newRecorder(ctx context.Context, cfg *config.Config, rdb *redis.Client) (analytics.Store, func() error, error) {
	switch cfg.Analytics.Backend {
	case "memory":
		return analytics.NewMemoryStore(cfg.Analytics.MaxRecords), nil, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("synthpanel: redis analytics backend needs REDIS_URL")
		}
		return analytics.NewRedisStore(rdb, cfg.Redis.Prefix+":analytics:items"), nil, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Analytics.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("synthpanel: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("synthpanel: ping postgres: %w", err)
		}
		s, err := analytics.NewPostgresStore(ctx, db, cfg.Analytics.Table)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	}
	return nil, nil, nil
}

func newArchive(ctx context.Context, cfg *config.Config) (*archive.Archive, error) {
	switch cfg.Archive.Backend {
	case "memory":
		return archive.New(archive.NewMemoryBlobStore(), cfg.Archive.Prefix), nil
	case "file":
		store, err := archive.NewFileBlobStore(cfg.Archive.Dir)
		if err != nil {
			return nil, err
		}
		return archive.New(store, cfg.Archive.Prefix), nil
	case "s3":
		store, err := s3blob.NewFromConfig(ctx, cfg.Archive.Bucket, "", cfg.Archive.Endpoint)
		if err != nil {
			return nil, err
		}
		return archive.New(store, cfg.Archive.Prefix), nil
	}
	return nil, nil
}
