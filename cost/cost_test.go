package cost

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/provider"
)

func TestTracker_Record(t *testing.T) {
	tr := NewTracker()
	tr.RegisterModel("m", 1, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("m", provider.TokenUsage{PromptTokens: 1000, CompletionTokens: 500})
		}()
	}
	wg.Wait()
	assert.Zero(t, tr.Record("unpriced", provider.TokenUsage{PromptTokens: 10}))

	s := tr.Snapshot()
	assert.Equal(t, uint64(11), s.Requests)
	assert.Equal(t, uint64(10010), s.InputTokens)
	assert.Equal(t, uint64(5000), s.OutputTokens)
	assert.InDelta(t, 20.0, s.CostUSD, 1e-9)

	before := s
	tr.Record("m", provider.TokenUsage{PromptTokens: 1000})
	d := tr.Snapshot().Sub(before)
	assert.Equal(t, uint64(1), d.Requests)
	assert.InDelta(t, 1.0, d.CostUSD, 1e-9)
}

func TestTracker_DefaultPricing(t *testing.T) {
	tr := NewTracker()
	tr.RegisterModel("cheap", 0, 0)
	tr.SetDefaultPricing(Pricing{InputPer1K: 0.5, OutputPer1K: 1})

	assert.InDelta(t, 1.5, tr.Record("any-model", provider.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000}), 1e-9)
	assert.Zero(t, tr.Record("cheap", provider.TokenUsage{PromptTokens: 1000}))
	assert.InDelta(t, 1.5, tr.TotalCostUSD(), 1e-9)
}

func TestTracker_RecordContext(t *testing.T) {
	global := NewTracker()
	global.RegisterModel("m", 1, 0)
	runA, runB := NewTracker(), NewTracker()
	ctxA := WithTracker(context.Background(), runA)
	ctxB := WithTracker(context.Background(), runB)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			global.RecordContext(ctxA, "m", provider.TokenUsage{PromptTokens: 1000})
		}()
		go func() {
			defer wg.Done()
			global.RecordContext(ctxB, "m", provider.TokenUsage{PromptTokens: 2000})
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8), global.Snapshot().Requests)
	a, b := runA.Snapshot(), runB.Snapshot()
	assert.Equal(t, uint64(4), a.Requests)
	assert.Equal(t, uint64(4000), a.InputTokens)
	assert.InDelta(t, 4.0, a.CostUSD, 1e-9)
	assert.Equal(t, uint64(4), b.Requests)
	assert.InDelta(t, 8.0, b.CostUSD, 1e-9)

	// The global tracker as its own run tracker does not double count.
	global.RecordContext(WithTracker(context.Background(), global), "m", provider.TokenUsage{})
	assert.Equal(t, uint64(9), global.Snapshot().Requests)
	assert.Nil(t, FromContext(context.Background()))
}

func TestEstimator(t *testing.T) {
	e := NewEstimator(Pricing{InputPer1K: 1, OutputPer1K: 2}, WithImageTokens(1000))
	req := provider.CompletionRequest{System: "abcd", Prompt: "abcd", Image: core.Image{Data: []byte{1}}, MaxTokens: 1000}

	one := e.Estimate(req)
	assert.Equal(t, uint64(1), one.Requests)
	assert.Equal(t, uint64(1002), one.InputTokens)
	assert.Equal(t, uint64(1000), one.OutputTokens)
	assert.InDelta(t, 3.002, one.CostUSD, 1e-9)

	text := provider.CompletionRequest{Prompt: "abcd", History: []provider.Message{{Role: provider.RoleUser, Content: "abcdefgh"}}}
	all := e.EstimateAll([]provider.CompletionRequest{req, req, text})
	require.Equal(t, uint64(3), all.Requests)
	assert.Equal(t, uint64(2004+3), all.InputTokens)
	assert.InDelta(t, 2*one.CostUSD+0.003, all.CostUSD, 1e-9)
	assert.Equal(t, 0, SimpleCounter{}.CountTokens(""))
	assert.EqualValues(t, DefaultImageTokens, NewEstimator(Pricing{}).Estimate(provider.CompletionRequest{Image: core.Image{Data: []byte{1}}}).InputTokens)
}
