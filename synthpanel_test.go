package synthpanel

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/analytics"
	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/config"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/cost"
	"github.com/klejdi94/synthpanel/embedding"
	"github.com/klejdi94/synthpanel/provider"
)

var img = core.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png"}

// testEmbedder maps the i-th statement of every default anchor set to the i-th basis vector.
func testEmbedder() *embedding.MapEmbedder {
	vecs := map[string]embedding.Vector{"Take my money.": {0, 0, 0, 0, 1}}
	for _, set := range core.DefaultAnchorSets() {
		for i, s := range set.Statements() {
			v := make(embedding.Vector, 5)
			v[i] = 1
			vecs[s] = v
		}
	}
	return &embedding.MapEmbedder{Vectors: vecs}
}

func enthusiast() provider.Func {
	return func(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		return &provider.CompletionResponse{
			Content: "Take my money.",
			Model:   "test-model",
			Usage:   provider.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}
}

func TestBuild_RequiresProviderAndEmbedder(t *testing.T) {
	_, err := New().WithEmbedder(testEmbedder()).Build()
	assert.Error(t, err)
	_, err = New().WithProvider(enthusiast()).Build()
	assert.Error(t, err)
}

func TestPanel_RunUsesDefaultProfilesAndArchives(t *testing.T) {
	rec := analytics.NewMemoryStore(0)
	arc := archive.New(archive.NewMemoryBlobStore(), "")
	tracker := cost.NewTracker()
	tracker.RegisterModel("test-model", 1, 2)

	panel, err := New().
		WithProvider(enthusiast()).
		WithEmbedder(testEmbedder()).
		WithTrials(1).
		WithRecorder(rec).
		WithArchive(arc).
		WithCostTracker(tracker).
		Build()
	require.NoError(t, err)
	defer panel.Close()

	report, err := panel.Run(context.Background(), Job{Image: img})
	require.NoError(t, err)
	n := len(core.DefaultProfiles())
	assert.Equal(t, n, report.Summary.Succeeded)
	assert.InDelta(t, 5.0, report.Summary.Mean, 1e-9)
	require.NotNil(t, report.Usage)
	assert.Equal(t, uint64(n), report.Usage.Requests)
	assert.Greater(t, report.Usage.CostUSD, 0.0)

	saved, err := arc.Load(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Summary, saved.Summary)

	aggs, err := rec.Query(context.Background(), analytics.Query{RunID: report.RunID})
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, n, aggs[0].Items)
}

func TestPanel_Evaluate(t *testing.T) {
	panel, err := New().WithProvider(enthusiast()).WithEmbedder(testEmbedder()).Build()
	require.NoError(t, err)

	res, err := panel.Evaluate(context.Background(), panel.Profiles()[0], img, "")
	require.NoError(t, err)
	assert.Equal(t, "Take my money.", res.Response)
	assert.Len(t, res.Ratings, len(core.DefaultAnchorSets()))
	assert.InDelta(t, 5.0, res.Rating, 1e-9)
}

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadWith(context.Background(), envconfig.MapLookuper(env))
	require.NoError(t, err)
	return cfg
}

func TestFromConfig_Defaults(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"RESPONSE_PROVIDER":         "ollama",
		"EMBEDDING_PROVIDER":        "ollama",
		"SSR_RATE_LIMIT_PER_MINUTE": "600",
		"SSR_BREAKER_THRESHOLD":     "0.5",
	})
	panel, err := FromConfig(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer panel.Close()

	assert.NotNil(t, panel.Recorder)
	assert.NotNil(t, panel.Archive)
	assert.NotNil(t, panel.Tracker)
	assert.NotNil(t, panel.Analyst)
	assert.Equal(t, 2, panel.Orchestrator.Trials())
	assert.Len(t, panel.Orchestrator.AnchorSets(), len(core.DefaultAnchorSets()))
}

func TestFromConfig_PanelFile(t *testing.T) {
	path := t.TempDir() + "/panel.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
question: Would you buy this?
profiles:
  - id: p1
    attributes:
      age: 30
      interests: [tech]
`), 0o600))
	cfg := testConfig(t, map[string]string{
		"RESPONSE_PROVIDER":  "ollama",
		"EMBEDDING_PROVIDER": "ollama",
		"ANALYTICS_BACKEND":  "none",
		"ARCHIVE_BACKEND":    "none",
		"PANEL_FILE":         path,
	})
	panel, err := FromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, panel.Recorder)
	assert.Nil(t, panel.Archive)
	assert.Nil(t, panel.Analyst)
	require.Len(t, panel.Profiles(), 1)
	assert.Equal(t, "p1", panel.Profiles()[0].ID())
}

func TestFromConfig_BadRedisURL(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"RESPONSE_PROVIDER":  "ollama",
		"EMBEDDING_PROVIDER": "ollama",
		"REDIS_URL":          "not a url",
	})
	_, err := FromConfig(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "redis"))
}

func TestPanel_ConcurrentRunsReportOwnUsage(t *testing.T) {
	tracker := cost.NewTracker()
	tracker.RegisterModel("test-model", 1, 2)
	panel, err := New().
		WithProvider(enthusiast()).
		WithEmbedder(testEmbedder()).
		WithTrials(1).
		WithConcurrency(2).
		WithCostTracker(tracker).
		Build()
	require.NoError(t, err)

	all := core.DefaultProfiles()
	sizes := []int{1, len(all)}
	reports := make([]*batch.Report, len(sizes))
	var wg sync.WaitGroup
	for i, n := range sizes {
		i, n := i, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := panel.Run(context.Background(), Job{Profiles: all[:n], Image: img})
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	var total uint64
	for i, n := range sizes {
		require.NotNil(t, reports[i])
		require.NotNil(t, reports[i].Usage)
		assert.Equal(t, uint64(n), reports[i].Usage.Requests)
		assert.Equal(t, uint64(10*n), reports[i].Usage.InputTokens)
		total += reports[i].Usage.Requests
	}
	assert.Equal(t, total, tracker.Snapshot().Requests)
}

func TestPanel_Estimate(t *testing.T) {
	silent := provider.Func(func(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		t.Error("estimate must not call the provider")
		return nil, nil
	})
	panel, err := New().
		WithProvider(silent).
		WithEmbedder(testEmbedder()).
		WithTrials(3).
		WithEstimator(cost.NewEstimator(cost.Pricing{InputPer1K: 1, OutputPer1K: 2}, cost.WithImageTokens(1000))).
		Build()
	require.NoError(t, err)

	usage, err := panel.Estimate(context.Background(), Job{Image: img})
	require.NoError(t, err)
	n := uint64(len(core.DefaultProfiles()) * 3)
	assert.Equal(t, n, usage.Requests)
	assert.Greater(t, usage.InputTokens, n*1000)
	assert.Equal(t, n*500, usage.OutputTokens)
	assert.Greater(t, usage.CostUSD, float64(n)*2)

	two, err := panel.Estimate(context.Background(), Job{Image: img, Trials: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(len(core.DefaultProfiles())), two.Requests)

	_, err = panel.Estimate(context.Background(), Job{})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
	_, err = panel.Estimate(context.Background(), Job{Image: img, Trials: 1000})
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}

func TestNewCostTracking_UsesConfiguredPrices(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"RESPONSE_PRICE_INPUT_PER_1K":  "1",
		"RESPONSE_PRICE_OUTPUT_PER_1K": "2",
		"RESPONSE_IMAGE_TOKENS":        "100",
	})
	tracker, est := NewCostTracking(cfg)
	assert.InDelta(t, 3.0, tracker.Record("whatever-the-provider-says", provider.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000}), 1e-9)
	assert.Equal(t, cost.Pricing{InputPer1K: 1, OutputPer1K: 2}, est.Pricing())
	assert.EqualValues(t, 100, est.Estimate(provider.CompletionRequest{Image: img}).InputTokens)
}

func TestPanel_AnalystChatsAboutArchivedRun(t *testing.T) {
	p := provider.Func(func(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		if req.HasImage() {
			return &provider.CompletionResponse{Content: "Take my money."}, nil
		}
		return &provider.CompletionResponse{Content: "Everyone loved it."}, nil
	})
	panel, err := New().
		WithProvider(p).
		WithEmbedder(testEmbedder()).
		WithTrials(1).
		WithArchive(archive.New(archive.NewMemoryBlobStore(), "")).
		Build()
	require.NoError(t, err)
	require.NotNil(t, panel.Analyst)

	report, err := panel.Run(context.Background(), Job{Image: img})
	require.NoError(t, err)
	assert.NotEmpty(t, report.Profiles[0].Description)

	reply, err := panel.Analyst.Ask(context.Background(), report.RunID, "Summarise the panel")
	require.NoError(t, err)
	assert.Equal(t, "Everyone loved it.", reply.Content)
}
