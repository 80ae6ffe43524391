package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/provider"
)

var clock = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sampleReport() *batch.Report {
	return &batch.Report{
		RunID:    uuid.NewString(),
		Question: "How likely would you be to buy this product?",
		Summary:  batch.CorpusSummary{Mean: 3.5},
		Profiles: []batch.ProfileRating{
			{ProfileID: "1", Description: "age: 25; income: low", Rating: 2},
			{ProfileID: "2", Description: "age: 60; income: high", Rating: 5},
		},
		Results: []batch.EvaluationResult{
			{ProfileID: "1", Response: "Too expensive for me."},
			{ProfileID: "2", Response: "Looks great, I'd buy it."},
			{ProfileID: "2", Trial: 1, Response: "  "},
		},
	}
}

func setup(t *testing.T, p provider.Func, opts ...Option) (*Analyst, *archive.Archive, string) {
	t.Helper()
	arc := archive.New(archive.NewMemoryBlobStore(), "")
	r := sampleReport()
	require.NoError(t, arc.Save(context.Background(), r))
	a, err := New(p, arc, append([]Option{WithClock(func() time.Time { return clock })}, opts...)...)
	require.NoError(t, err)
	return a, arc, r.RunID
}

func TestResults(t *testing.T) {
	a, _, _ := setup(t, nil)
	out, err := a.Results(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Contains(t, out, `"How likely would you be to buy this product?", mean rating 3.50/5`)
	assert.Contains(t, out, "Consumer 1: age: 25; income: low\nRating: 2.00/5\nFeedback: Too expensive for me.")
	assert.Contains(t, out, "Consumer 2: age: 60; income: high\nRating: 5.00/5\nFeedback: Looks great, I'd buy it.")
	assert.NotContains(t, out, "Feedback: \n")

	empty, err := a.Results(context.Background(), &batch.Report{})
	require.NoError(t, err)
	assert.Equal(t, NoResults, empty)
}

func TestAsk_SendsContextAndHistory(t *testing.T) {
	var calls atomic.Int32
	var last provider.CompletionRequest
	a, arc, runID := setup(t, func(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		calls.Add(1)
		last = req
		return &provider.CompletionResponse{Content: " Price is the main objection. "}, nil
	}, WithModel("text-model"))
	ctx := context.Background()

	reply, err := a.Ask(ctx, runID, "Why did young buyers hesitate?")
	require.NoError(t, err)
	assert.Equal(t, "Price is the main objection.", reply.Content)
	assert.Equal(t, provider.RoleAssistant, reply.Role)
	assert.Contains(t, last.System, "1 to 5 purchase intent scale")
	assert.Contains(t, last.System, "Feedback: Too expensive for me.")
	assert.Empty(t, last.History)
	assert.False(t, last.HasImage())
	assert.Equal(t, "text-model", last.Model)
	assert.Equal(t, DefaultTemperature, last.Temperature)
	assert.Equal(t, DefaultMaxTokens, last.MaxTokens)

	_, err = a.Ask(ctx, runID, "And older buyers?")
	require.NoError(t, err)
	require.Len(t, last.History, 2)
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "Why did young buyers hesitate?"}, last.History[0])
	assert.Equal(t, provider.RoleAssistant, last.History[1].Role)
	assert.Equal(t, "And older buyers?", last.Prompt)

	history, err := a.History(ctx, runID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.True(t, clock.Equal(history[3].Timestamp))

	stored, err := arc.LoadChat(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, history, stored)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAsk_TrimsHistory(t *testing.T) {
	var last provider.CompletionRequest
	a, arc, runID := setup(t, func(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		last = req
		return &provider.CompletionResponse{Content: "ok"}, nil
	}, WithMaxHistory(3))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, arc.AppendChat(ctx, runID,
			archive.ChatMessage{Role: provider.RoleUser, Content: "q"},
			archive.ChatMessage{Role: provider.RoleAssistant, Content: "a"}))
	}
	_, err := a.Ask(ctx, runID, "again")
	require.NoError(t, err)
	require.Len(t, last.History, 3)
	assert.Equal(t, provider.RoleAssistant, last.History[0].Role)
}

func TestAsk_Errors(t *testing.T) {
	upstream := &core.UpstreamError{Provider: "cloudflare", Status: 503}
	fail := true
	a, arc, runID := setup(t, func(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
		if fail {
			return nil, upstream
		}
		return &provider.CompletionResponse{Content: "  "}, nil
	})
	ctx := context.Background()

	_, err := a.Ask(ctx, runID, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	_, err = a.Ask(ctx, uuid.NewString(), "hello")
	assert.ErrorIs(t, err, archive.ErrNotFound)

	_, err = a.History(ctx, uuid.NewString())
	assert.ErrorIs(t, err, archive.ErrNotFound)

	_, err = a.Ask(ctx, runID, "hello")
	var ue *core.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 503, ue.Status)

	fail = false
	_, err = a.Ask(ctx, runID, "hello")
	assert.ErrorIs(t, err, core.ErrUpstream)

	history, err := arc.LoadChat(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNew_Requirements(t *testing.T) {
	_, err := New(nil, archive.New(archive.NewMemoryBlobStore(), ""))
	assert.Error(t, err)
	_, err = New(provider.Func(nil), nil)
	assert.Error(t, err)
	_, err = New(provider.Func(nil), archive.New(archive.NewMemoryBlobStore(), ""), WithInstruction("{{.Results"))
	assert.Error(t, err)
}
