// Package synthpanel estimates how a panel of demographically-profiled synthetic consumers
// would rate a product image, using Semantic Similarity Rating (SSR).
//
// Quick start:
//
//	panel, err := synthpanel.New().
//		WithProvider(visionProvider).
//		WithEmbedder(embedder).
//		WithTrials(2).
//		WithConcurrency(8).
//		Build()
//
//	report, err := panel.Run(ctx, synthpanel.Job{Image: img})
//	fmt.Println(report.Summary.Mean, report.Summary.Std)
package synthpanel

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/klejdi94/synthpanel/analytics"
	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/chat"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/cost"
	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/executor"
	"github.com/klejdi94/synthpanel/middleware"
	"github.com/klejdi94/synthpanel/persona"
	"github.com/klejdi94/synthpanel/provider"
	"github.com/klejdi94/synthpanel/rater"
)

// Builder constructs a Panel via a fluent API.
type Builder struct {
	provider    provider.Provider
	embedder    embedding.Embedder
	providerMW  []middleware.Middleware
	embedderMW  []middleware.EmbedderMiddleware
	personaOpts []persona.Option
	anchors     []core.AnchorSet
	profiles    []core.DemographicProfile
	question    string
	beta        float64
	trials      int
	maxTrials   int
	concurrency int
	retry       *executor.Executor
	store       rater.VectorStore
	recorder    analytics.Store
	archive     *archive.Archive
	tracker     *cost.Tracker
	estimator   *cost.Estimator
	chatOpts    []chat.Option
	logger      *zerolog.Logger
}

// New starts a panel builder with the built-in anchor sets and sample profiles.
func New() *Builder {
	return &Builder{
		anchors:     core.DefaultAnchorSets(),
		profiles:    core.DefaultProfiles(),
		beta:        rater.DefaultBeta,
		trials:      batch.DefaultTrials,
		maxTrials:   batch.DefaultMaxTrials,
		concurrency: batch.DefaultConcurrency,
	}
}

// WithProvider sets the vision response provider.
func (b *Builder) WithProvider(p provider.Provider) *Builder {
	b.provider = p
	return b
}

// WithEmbedder sets the embedding provider used for SSR.
func (b *Builder) WithEmbedder(e embedding.Embedder) *Builder {
	b.embedder = e
	return b
}

// WithProviderMiddleware wraps the provider; the first middleware is outermost.
func (b *Builder) WithProviderMiddleware(mws ...middleware.Middleware) *Builder {
	b.providerMW = append(b.providerMW, mws...)
	return b
}

// WithEmbedderMiddleware wraps the embedder; the first middleware is outermost.
func (b *Builder) WithEmbedderMiddleware(mws ...middleware.EmbedderMiddleware) *Builder {
	b.embedderMW = append(b.embedderMW, mws...)
	return b
}

// WithPersonaOptions configures the synthetic consumers (model, temperature, instruction).
func (b *Builder) WithPersonaOptions(opts ...persona.Option) *Builder {
	b.personaOpts = append(b.personaOpts, opts...)
	return b
}

// WithAnchorSets replaces the built-in anchor sets.
func (b *Builder) WithAnchorSets(sets ...core.AnchorSet) *Builder {
	b.anchors = append([]core.AnchorSet(nil), sets...)
	return b
}

// WithProfiles replaces the default panel used when a job names no profiles.
func (b *Builder) WithProfiles(profiles ...core.DemographicProfile) *Builder {
	b.profiles = append([]core.DemographicProfile(nil), profiles...)
	return b
}

// WithQuestion sets the default question.
func (b *Builder) WithQuestion(q string) *Builder {
	b.question = q
	return b
}

// WithBeta sets the SSR sharpening exponent.
func (b *Builder) WithBeta(beta float64) *Builder {
	b.beta = beta
	return b
}

// WithTrials sets the number of responses per profile.
func (b *Builder) WithTrials(n int) *Builder {
	b.trials = n
	return b
}

// WithMaxTrials caps the trial count a job may request; n <= 0 removes the cap.
func (b *Builder) WithMaxTrials(n int) *Builder {
	b.maxTrials = n
	return b
}

// WithConcurrency bounds in-flight upstream work.
func (b *Builder) WithConcurrency(n int) *Builder {
	b.concurrency = n
	return b
}

// WithRetry retries transient upstream failures.
func (b *Builder) WithRetry(e *executor.Executor) *Builder {
	b.retry = e
	return b
}

// WithVectorStore shares anchor embeddings through s (e.g. Redis).
func (b *Builder) WithVectorStore(s rater.VectorStore) *Builder {
	b.store = s
	return b
}

// WithRecorder records every evaluated item.
func (b *Builder) WithRecorder(s analytics.Store) *Builder {
	b.recorder = s
	return b
}

// WithArchive archives every batch report.
func (b *Builder) WithArchive(a *archive.Archive) *Builder {
	b.archive = a
	return b
}

// WithCostTracker records provider token usage and attaches it to reports.
func (b *Builder) WithCostTracker(t *cost.Tracker) *Builder {
	b.tracker = t
	return b
}

// WithEstimator prices Panel.Estimate; without one only token counts are estimated.
func (b *Builder) WithEstimator(e *cost.Estimator) *Builder {
	b.estimator = e
	return b
}

// WithChatOptions configures the analyst chat over archived runs (model, temperature).
func (b *Builder) WithChatOptions(opts ...chat.Option) *Builder {
	b.chatOpts = append(b.chatOpts, opts...)
	return b
}

// WithLogger replaces the global logger.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = &l
	return b
}

// Build wires provider → consumer, embedder → engine, and both → orchestrator.
func (b *Builder) Build() (*Panel, error) {
	if b.provider == nil {
		return nil, fmt.Errorf("synthpanel: response provider is required")
	}
	if b.embedder == nil {
		return nil, fmt.Errorf("synthpanel: embedder is required")
	}
	l := log.Logger
	if b.logger != nil {
		l = *b.logger
	}
	mws := b.providerMW
	if b.tracker != nil {
		mws = append(append([]middleware.Middleware(nil), mws...), middleware.Usage(b.tracker))
	}
	p := middleware.Chain(b.provider, mws...)
	emb := middleware.ChainEmbedder(b.embedder, b.embedderMW...)

	popts := b.personaOpts
	if b.question != "" {
		popts = append(append([]persona.Option(nil), popts...), persona.WithQuestion(b.question))
	}
	consumer, err := persona.New(p, popts...)
	if err != nil {
		return nil, err
	}
	var cacheOpts []rater.CacheOption
	if b.store != nil {
		cacheOpts = append(cacheOpts, rater.WithStore(b.store))
	}
	engine := rater.NewEngine(emb, rater.WithCacheOptions(cacheOpts...), rater.WithParallelism(b.concurrency))

	opts := []batch.Option{
		batch.WithTrials(b.trials),
		batch.WithMaxTrials(b.maxTrials),
		batch.WithConcurrency(b.concurrency),
		batch.WithBeta(b.beta),
		batch.WithRetry(b.retry),
		batch.WithLogger(l),
	}
	if b.question != "" {
		opts = append(opts, batch.WithQuestion(b.question))
	}
	if b.recorder != nil {
		opts = append(opts, batch.WithRecorder(b.recorder))
	}
	if b.tracker != nil {
		opts = append(opts, batch.WithCostTracker(b.tracker))
	}
	orch := batch.New(consumer, engine, b.anchors, opts...)

	est := b.estimator
	if est == nil {
		est = cost.NewEstimator(cost.Pricing{})
	}

	var analyst *chat.Analyst
	if b.archive != nil {
		copts := append([]chat.Option{chat.WithLogger(l)}, b.chatOpts...)
		if analyst, err = chat.New(p, b.archive, copts...); err != nil {
			return nil, err
		}
	}

	return &Panel{
		Consumer:     consumer,
		Engine:       engine,
		Orchestrator: orch,
		Recorder:     b.recorder,
		Archive:      b.archive,
		Tracker:      b.tracker,
		Estimator:    est,
		Analyst:      analyst,
		profiles:     append([]core.DemographicProfile(nil), b.profiles...),
		log:          l,
	}, nil
}

// Job is a batch request; empty Profiles uses the panel's default profiles.
type Job = batch.Job

// Panel is a wired evaluation pipeline.
type Panel struct {
	Consumer     *persona.Consumer
	Engine       *rater.Engine
	Orchestrator *batch.Orchestrator
	Recorder     analytics.Store
	Archive      *archive.Archive
	Tracker      *cost.Tracker
	Estimator    *cost.Estimator
	// Analyst is set when an archive is configured.
	Analyst      *chat.Analyst

	profiles []core.DemographicProfile
	log      zerolog.Logger
	closers  []func() error
}

// Profiles returns the default profiles.
func (p *Panel) Profiles() []core.DemographicProfile {
	return append([]core.DemographicProfile(nil), p.profiles...)
}

// Run evaluates job and archives the report when an archive is configured. An archive failure
// is logged; the report is still returned.
func (p *Panel) Run(ctx context.Context, job Job) (*batch.Report, error) {
	if len(job.Profiles) == 0 {
		job.Profiles = p.Profiles()
	}
	report, err := p.Orchestrator.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	if p.Archive != nil {
		if err := p.Archive.Save(context.WithoutCancel(ctx), report); err != nil {
			p.log.Warn().Err(err).Str("run_id", report.RunID).Msg("archive report failed")
		}
	}
	return report, nil
}

// Estimate predicts the response-generation usage of job without calling any provider. The job is
// validated as Run would validate it.
func (p *Panel) Estimate(ctx context.Context, job Job) (cost.Summary, error) {
	if len(job.Profiles) == 0 {
		job.Profiles = p.Profiles()
	}
	trials, err := p.Orchestrator.Plan(job)
	if err != nil {
		return cost.Summary{}, err
	}
	question := job.Question
	if strings.TrimSpace(question) == "" {
		question = p.Orchestrator.Question()
	}
	reqs := make([]provider.CompletionRequest, 0, len(job.Profiles))
	for _, profile := range job.Profiles {
		req, err := p.Consumer.Request(ctx, profile, job.Image, question)
		if err != nil {
			return cost.Summary{}, err
		}
		reqs = append(reqs, req)
	}
	per := p.Estimator.EstimateAll(reqs)
	return cost.Summary{
		Requests:     per.Requests * uint64(trials),
		InputTokens:  per.InputTokens * uint64(trials),
		OutputTokens: per.OutputTokens * uint64(trials),
		CostUSD:      per.CostUSD * float64(trials),
	}, nil
}

// Evaluate rates a single consumer once.
func (p *Panel) Evaluate(ctx context.Context, profile core.DemographicProfile, image core.Image, question string) (*batch.EvaluationResult, error) {
	return p.Orchestrator.Evaluate(ctx, profile, image, question)
}

// Close releases connections opened by FromConfig.
func (p *Panel) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
