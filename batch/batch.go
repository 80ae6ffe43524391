// Package batch runs synthetic consumer panels: N profiles × R trials, each response scored
// against K anchor sets with bounded concurrency, aggregated into a corpus summary.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/klejdi94/synthpanel/analytics"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/cost"
	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/executor"
	"github.com/klejdi94/synthpanel/persona"
	"github.com/klejdi94/synthpanel/rater"
)

// Defaults applied by New.
const (
	DefaultTrials      = 2
	DefaultMaxTrials   = 100
	DefaultConcurrency = 8
)

// Responder produces one consumer's free-text reaction to an image.
type Responder interface {
	Respond(ctx context.Context, profile core.DemographicProfile, image core.Image, question string) (string, error)
}

// Scorer embeds responses and scores embeddings against anchor sets.
type Scorer interface {
	EmbedResponse(ctx context.Context, text string) (embedding.Vector, error)
	RateEmbedding(ctx context.Context, vec embedding.Vector, set core.AnchorSet, beta float64) (rater.Rating, error)
}

var (
	_ Responder = (*persona.Consumer)(nil)
	_ Scorer    = (*rater.Engine)(nil)
)

// Job is one batch request.
type Job struct {
	Profiles []core.DemographicProfile
	Image    core.Image
	// Question defaults to the orchestrator's question.
	Question string
	// Trials overrides the orchestrator's trial count when positive.
	Trials int
}

// Orchestrator fans out response generation and scoring under a concurrency limit.
type Orchestrator struct {
	responder   Responder
	scorer      Scorer
	anchors     []core.AnchorSet
	trials      int
	maxTrials   int
	concurrency int
	beta        float64
	question    string
	retry       *executor.Executor
	recorder    analytics.Store
	tracker     *cost.Tracker
	log         zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTrials sets the number of independent responses per profile.
func WithTrials(n int) Option { return func(o *Orchestrator) { o.trials = n } }

// WithMaxTrials caps the per-job trial count; n <= 0 removes the cap.
func WithMaxTrials(n int) Option { return func(o *Orchestrator) { o.maxTrials = n } }

// WithConcurrency bounds in-flight generation tasks and, separately, in-flight scoring tasks.
func WithConcurrency(n int) Option { return func(o *Orchestrator) { o.concurrency = n } }

// WithBeta sets the transform sharpening exponent.
func WithBeta(beta float64) Option { return func(o *Orchestrator) { o.beta = beta } }

// WithQuestion sets the default question.
func WithQuestion(q string) Option { return func(o *Orchestrator) { o.question = q } }

// WithRetry retries transient upstream failures of each generation, embedding and scoring call.
func WithRetry(e *executor.Executor) Option { return func(o *Orchestrator) { o.retry = e } }

// WithRecorder records every attempted item.
func WithRecorder(s analytics.Store) Option { return func(o *Orchestrator) { o.recorder = s } }

// WithCostTracker attaches the usage of each run to its report. Completions are attributed to a
// run through the tracker cost.WithTracker puts on the run's context, so t must also be wired as
// the provider's usage middleware.
func WithCostTracker(t *cost.Tracker) Option { return func(o *Orchestrator) { o.tracker = t } }

// WithLogger replaces the global logger.
func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New creates an orchestrator scoring against anchors.
func New(r Responder, s Scorer, anchors []core.AnchorSet, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		responder:   r,
		scorer:      s,
		anchors:     append([]core.AnchorSet{}, anchors...),
		trials:      DefaultTrials,
		maxTrials:   DefaultMaxTrials,
		concurrency: DefaultConcurrency,
		beta:        rater.DefaultBeta,
		question:    persona.DefaultQuestion,
		log:         log.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AnchorSets returns the configured anchor sets.
func (o *Orchestrator) AnchorSets() []core.AnchorSet {
	return append([]core.AnchorSet{}, o.anchors...)
}

// Trials returns the configured trial count.
func (o *Orchestrator) Trials() int { return o.trials }

// Question returns the default question.
func (o *Orchestrator) Question() string { return o.question }

// Plan validates job as Run would and returns the trial count it would use.
func (o *Orchestrator) Plan(job Job) (int, error) {
	if _, err := o.validate(job); err != nil {
		return 0, err
	}
	return o.jobTrials(job), nil
}

func (o *Orchestrator) jobTrials(job Job) int {
	if job.Trials > 0 {
		return job.Trials
	}
	return o.trials
}

// item is the result slot of one (profile, trial). Only the goroutines owning the item write it,
// and it is read only after both group barriers.
type item struct {
	profile   int
	trial     int
	attempted bool
	started   time.Time
	latency   time.Duration
	response  string
	stage     string
	err       error
	ratings   []rater.Rating
	scoreErrs []error
}

// Run evaluates every profile of job R times. Per-item failures are recorded in the report and do
// not abort the batch. Cancelling ctx stops scheduling new work; the report then covers the items
// that completed and is marked partial. An error is returned only for an invalid job or configuration.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Report, error) {
	ids, err := o.validate(job)
	if err != nil {
		return nil, err
	}
	question := strings.TrimSpace(job.Question)
	if question == "" {
		question = o.question
	}

	trials := o.jobTrials(job)

	runID := uuid.NewString()
	started := time.Now()
	var usage *cost.Tracker
	if o.tracker != nil {
		usage = cost.NewTracker()
		ctx = cost.WithTracker(ctx, usage)
	}
	l := o.log.With().Str("run_id", runID).Logger()
	planned := len(job.Profiles) * trials
	l.Info().Int("profiles", len(job.Profiles)).Int("trials", trials).Int("anchor_sets", len(o.anchors)).
		Int("concurrency", o.concurrency).Msg("batch run started")

	items := make([]*item, 0, planned)
	for p := range job.Profiles {
		for t := 0; t < trials; t++ {
			items = append(items, &item{profile: p, trial: t})
		}
	}

	var gen, score errgroup.Group
	gen.SetLimit(o.concurrency)
	score.SetLimit(o.concurrency)
	for _, it := range items {
		it := it
		if ctx.Err() != nil {
			break
		}
		gen.Go(func() error {
			o.generate(ctx, &score, it, job.Profiles[it.profile], job.Image, question)
			return nil
		})
	}
	_ = gen.Wait()
	_ = score.Wait()

	report := o.collect(ctx, ids, items)
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	for i := range report.Profiles {
		report.Profiles[i].Description = job.Profiles[index[report.Profiles[i].ProfileID]].Describe()
	}
	report.RunID = runID
	report.StartedAt = started
	report.DurationMs = time.Since(started).Milliseconds()
	report.Question = question
	report.Trials = trials
	report.Beta = o.beta
	if usage != nil {
		u := usage.Snapshot()
		report.Usage = &u
	}
	o.record(ctx, l, runID, ids, items)

	ev := l.Info()
	if report.Summary.Partial {
		ev = l.Warn()
	}
	ev.Int("planned", planned).Int("attempted", report.Summary.Attempted).Int("succeeded", report.Summary.Succeeded).
		Float64("mean", report.Summary.Mean).Int64("duration_ms", report.DurationMs).Msg("batch run finished")
	return report, nil
}

// generate runs one item's response generation and embedding, then schedules its scoring tasks.
// An item whose turn comes after ctx is done stays unattempted.
func (o *Orchestrator) generate(ctx context.Context, score *errgroup.Group, it *item, profile core.DemographicProfile, image core.Image, question string) {
	if ctx.Err() != nil {
		return
	}
	it.attempted = true
	it.started = time.Now()
	defer func() { it.latency = time.Since(it.started) }()

	text, _, err := executor.Retry(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.responder.Respond(ctx, profile, image, question)
	})
	if err != nil {
		it.stage, it.err = StageGenerate, err
		return
	}
	it.response = text

	vec, _, err := executor.Retry(ctx, o.retry, func(ctx context.Context) (embedding.Vector, error) {
		return o.scorer.EmbedResponse(ctx, text)
	})
	if err != nil {
		it.stage, it.err = StageEmbed, err
		return
	}

	it.ratings = make([]rater.Rating, len(o.anchors))
	it.scoreErrs = make([]error, len(o.anchors))
	for k, set := range o.anchors {
		k, set := k, set
		if err := ctx.Err(); err != nil {
			it.scoreErrs[k] = err
			continue
		}
		score.Go(func() error {
			r, _, err := executor.Retry(ctx, o.retry, func(ctx context.Context) (rater.Rating, error) {
				return o.scorer.RateEmbedding(ctx, vec, set, o.beta)
			})
			it.ratings[k], it.scoreErrs[k] = r, err
			return nil
		})
	}
}

// collect turns finished items into a report. It must run after both barriers.
func (o *Orchestrator) collect(ctx context.Context, ids []string, items []*item) *Report {
	report := &Report{
		AnchorSets: make([]string, len(o.anchors)),
		Results:    []EvaluationResult{},
	}
	for i, s := range o.anchors {
		report.AnchorSets[i] = s.Name()
	}
	attempted, interrupted := 0, false
	for _, it := range items {
		if !it.attempted {
			continue
		}
		attempted++
		id := ids[it.profile]
		if it.err == nil {
			for _, err := range it.scoreErrs {
				if err != nil {
					it.stage, it.err = StageScore, err
					break
				}
			}
		}
		if it.err != nil {
			interrupted = interrupted || (ctx.Err() != nil && isContextErr(it.err))
			report.Failures = append(report.Failures, ItemFailure{ProfileID: id, Trial: it.trial, Stage: it.stage, Reason: it.err.Error()})
			continue
		}
		pmf, mean, _ := rater.Combine(it.ratings)
		report.Results = append(report.Results, EvaluationResult{
			ProfileID: id,
			Trial:     it.trial,
			Response:  it.response,
			Ratings:   it.ratings,
			PMF:       pmf,
			Rating:    mean,
			LatencyMs: it.latency.Milliseconds(),
		})
	}

	report.Profiles = aggregateProfiles(ids, report.Results)
	ratings := make([]float64, len(report.Profiles))
	for i, p := range report.Profiles {
		ratings[i] = p.Rating
	}
	report.Summary = Summarize(ratings)
	report.Summary.Planned = len(items)
	report.Summary.Attempted = attempted
	report.Summary.Succeeded = len(report.Results)
	report.Summary.Partial = interrupted || attempted < len(items)
	return report
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// record writes every attempted item to the analytics store. Completed items are recorded even
// when the run was cancelled.
func (o *Orchestrator) record(ctx context.Context, l zerolog.Logger, runID string, ids []string, items []*item) {
	if o.recorder == nil {
		return
	}
	rctx := context.WithoutCancel(ctx)
	for _, it := range items {
		if !it.attempted {
			continue
		}
		rec := analytics.ItemRecord{
			RunID:     runID,
			ProfileID: ids[it.profile],
			Trial:     it.trial,
			Success:   it.err == nil,
			Stage:     it.stage,
			LatencyMs: it.latency.Milliseconds(),
			At:        it.started,
		}
		if it.err == nil {
			_, rec.Rating, _ = rater.Combine(it.ratings)
			for _, r := range it.ratings {
				rec.Degenerate = rec.Degenerate || r.Degenerate
			}
		}
		if err := o.recorder.Record(rctx, rec); err != nil {
			l.Warn().Err(err).Str("profile_id", rec.ProfileID).Int("trial", rec.Trial).Msg("analytics record failed")
		}
	}
}

// Evaluate runs a single trial for one consumer and returns its scored result.
// Unlike Run, any failure is returned.
func (o *Orchestrator) Evaluate(ctx context.Context, profile core.DemographicProfile, image core.Image, question string) (*EvaluationResult, error) {
	if err := o.validateConfig(); err != nil {
		return nil, err
	}
	if profile.IsZero() {
		return nil, &core.ValidationError{Field: "demographic_profile", Message: "profile is required"}
	}
	if image.IsZero() {
		return nil, &core.ValidationError{Field: "image", Message: "image is required"}
	}
	if strings.TrimSpace(question) == "" {
		question = o.question
	}
	start := time.Now()
	text, _, err := executor.Retry(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.responder.Respond(ctx, profile, image, question)
	})
	if err != nil {
		return nil, fmt.Errorf("batch: %s: %w", StageGenerate, err)
	}
	vec, _, err := executor.Retry(ctx, o.retry, func(ctx context.Context) (embedding.Vector, error) {
		return o.scorer.EmbedResponse(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("batch: %s: %w", StageEmbed, err)
	}

	ratings := make([]rater.Rating, len(o.anchors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for k, set := range o.anchors {
		k, set := k, set
		g.Go(func() error {
			r, _, err := executor.Retry(gctx, o.retry, func(ctx context.Context) (rater.Rating, error) {
				return o.scorer.RateEmbedding(ctx, vec, set, o.beta)
			})
			if err != nil {
				return err
			}
			ratings[k] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch: %s: %w", StageScore, err)
	}
	pmf, mean, _ := rater.Combine(ratings)
	return &EvaluationResult{
		ProfileID: profile.ID(),
		Response:  text,
		Ratings:   ratings,
		PMF:       pmf,
		Rating:    mean,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (o *Orchestrator) validateConfig() error {
	if o.responder == nil || o.scorer == nil {
		return &core.ValidationError{Field: "orchestrator", Message: "responder and scorer are required"}
	}
	if len(o.anchors) == 0 {
		return &core.ValidationError{Field: "anchor_sets", Message: "at least one anchor set is required"}
	}
	for _, s := range o.anchors {
		if !s.Valid() {
			return &core.ValidationError{Field: "anchor_set", Value: s.Name(), Message: "anchor set must have 5 non-empty statements"}
		}
	}
	if err := core.ValidateBeta(o.beta); err != nil {
		return err
	}
	if o.trials < 1 {
		return &core.ValidationError{Field: "trials", Value: strconv.Itoa(o.trials), Message: "must be at least 1"}
	}
	if o.maxTrials > 0 && o.trials > o.maxTrials {
		return &core.ValidationError{Field: "trials", Value: strconv.Itoa(o.trials), Message: fmt.Sprintf("must be at most %d", o.maxTrials)}
	}
	if o.concurrency < 1 {
		return &core.ValidationError{Field: "concurrency", Value: strconv.Itoa(o.concurrency), Message: "must be at least 1"}
	}
	return nil
}

// validate rejects structurally invalid jobs before anything is scheduled and returns the
// report id of each profile. Profiles without an id are numbered from 1.
func (o *Orchestrator) validate(job Job) ([]string, error) {
	if err := o.validateConfig(); err != nil {
		return nil, err
	}
	if job.Trials < 0 {
		return nil, &core.ValidationError{Field: "trials", Value: strconv.Itoa(job.Trials), Message: "must not be negative"}
	}
	if len(job.Profiles) == 0 {
		return nil, &core.ValidationError{Field: "profiles", Message: "at least one profile is required"}
	}
	if job.Image.IsZero() {
		return nil, &core.ValidationError{Field: "image", Message: "image is required"}
	}
	trials := o.jobTrials(job)
	if o.maxTrials > 0 && trials > o.maxTrials {
		return nil, &core.ValidationError{Field: "trials", Value: strconv.Itoa(trials), Message: fmt.Sprintf("must be at most %d", o.maxTrials)}
	}
	if len(job.Profiles) > math.MaxInt/trials {
		return nil, &core.ValidationError{Field: "trials", Value: strconv.Itoa(trials), Message: "profiles × trials overflows"}
	}
	ids := make([]string, len(job.Profiles))
	seen := make(map[string]struct{}, len(job.Profiles))
	for i, p := range job.Profiles {
		if p.IsZero() {
			return nil, &core.ValidationError{Field: "profiles", Value: strconv.Itoa(i), Message: "profile has no attributes"}
		}
		id := p.ID()
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		if _, dup := seen[id]; dup {
			return nil, &core.ValidationError{Field: "profiles", Value: id, Message: "duplicate profile id"}
		}
		seen[id] = struct{}{}
		ids[i] = id
	}
	return ids, nil
}
