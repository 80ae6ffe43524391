package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/archive"
	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/cost"
)

func TestHistogram(t *testing.T) {
	bins := histogram([]float64{1, 1.5, 2, 5, 5})
	require.Len(t, bins, 3)
	total := 0
	for _, b := range bins {
		total += b.count
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 1.0, bins[0].lo)
	assert.Equal(t, 5.0, bins[2].hi)
	assert.Equal(t, 2, bins[2].count)
	assert.Equal(t, barWidth, bins[0].width)
}

func TestHistogram_SingleValue(t *testing.T) {
	bins := histogram([]float64{3, 3, 3})
	require.Len(t, bins, 1)
	assert.Equal(t, 3, bins[0].count)
}

func TestPrintReport(t *testing.T) {
	r := &batch.Report{
		RunID: "run-1",
		Profiles: []batch.ProfileRating{
			{ProfileID: "1", Rating: 4.25},
			{ProfileID: "2", Rating: 2.5},
		},
		Failures: []batch.ItemFailure{{ProfileID: "3", Trial: 0, Stage: batch.StageGenerate, Reason: "upstream 503"}},
		Summary:  batch.Summarize([]float64{4.25, 2.5}),
		Usage:    &cost.Summary{InputTokens: 100, OutputTokens: 40},
	}
	r.Summary.Partial = true

	var buf bytes.Buffer
	printReport(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Consumer 1: 4.25")
	assert.Contains(t, out, "Consumer 3 trial 1 (generate): upstream 503")
	assert.Contains(t, out, "Overall mean rating: 3.38")
	assert.Contains(t, out, "interrupted")
	assert.Contains(t, out, "Tokens: 100 in / 40 out\n")
	assert.Contains(t, out, "Run id: run-1")
}

func TestPrintEstimate(t *testing.T) {
	var buf bytes.Buffer
	printEstimate(&buf, 4, 2, cost.Summary{Requests: 8, InputTokens: 16000, OutputTokens: 4000, CostUSD: 0.0123})
	out := buf.String()
	assert.Contains(t, out, "4 consumers x 2 trials = 8 requests")
	assert.Contains(t, out, "16000 in, 4000 out")
	assert.Contains(t, out, "$0.0123")
}

func TestPrintChat(t *testing.T) {
	var buf bytes.Buffer
	printChat(&buf, nil)
	assert.Equal(t, "No messages yet.\n", buf.String())

	buf.Reset()
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	printChat(&buf, []archive.ChatMessage{
		{Role: "user", Content: "Why?", Timestamp: at},
		{Role: "assistant", Content: "Price.", Timestamp: at},
	})
	assert.Equal(t, "[2026-03-02 09:30] user: Why?\n[2026-03-02 09:30] assistant: Price.\n", buf.String())
}
