package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/core"
)

func sampleReport() *batch.Report {
	return &batch.Report{
		RunID:      uuid.NewString(),
		StartedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DurationMs: 1500,
		Question:   "How likely would you be to buy this product?",
		AnchorSets: []string{"1", "2"},
		Trials:     2,
		Beta:       1,
		Summary:    batch.CorpusSummary{Mean: 3, Std: 0.5, Min: 2.5, Max: 3.5, Planned: 4, Attempted: 4, Succeeded: 3, ProfilesRated: 2},
		Profiles: []batch.ProfileRating{
			{ProfileID: "1", Rating: 2.5, PMF: core.PMF{0.2, 0.3, 0.3, 0.1, 0.1}, Trials: 2},
			{ProfileID: "2", Rating: 3.5, PMF: core.PMF{0, 0.1, 0.4, 0.4, 0.1}, Trials: 1},
		},
		Failures: []batch.ItemFailure{{ProfileID: "2", Trial: 1, Stage: batch.StageGenerate, Reason: "timeout"}},
	}
}

func testArchiveRoundTrip(t *testing.T, a *Archive) {
	t.Helper()
	ctx := context.Background()
	r1, r2 := sampleReport(), sampleReport()
	require.NoError(t, a.Save(ctx, r1))
	require.NoError(t, a.Save(ctx, r2))

	got, err := a.Load(ctx, r1.RunID)
	require.NoError(t, err)
	assert.Equal(t, r1.RunID, got.RunID)
	assert.True(t, r1.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, r1.Summary, got.Summary)
	assert.Equal(t, r1.Profiles, got.Profiles)
	assert.Equal(t, r1.Failures, got.Failures)

	ids, err := a.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{r1.RunID, r2.RunID}, ids)

	require.NoError(t, a.Delete(ctx, r1.RunID))
	_, err = a.Load(ctx, r1.RunID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_Memory(t *testing.T) {
	testArchiveRoundTrip(t, New(NewMemoryBlobStore(), "synthpanel"))
}

func TestArchive_File(t *testing.T) {
	store, err := NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	testArchiveRoundTrip(t, New(store, ""))
}

func TestArchive_RejectsBadRunID(t *testing.T) {
	a := New(NewMemoryBlobStore(), "")
	_, err := a.Load(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)

	r := sampleReport()
	r.RunID = ""
	assert.ErrorIs(t, a.Save(context.Background(), r), core.ErrInvalidParameter)
	assert.ErrorIs(t, a.Save(context.Background(), nil), core.ErrInvalidParameter)
}

func TestFileBlobStore_InvalidKey(t *testing.T) {
	store, err := NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, store.Put(context.Background(), "../escape.json", []byte("x")))
	_, err = store.Get(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_Chat(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryBlobStore(), "")
	r := sampleReport()
	require.NoError(t, a.Save(ctx, r))

	msgs, err := a.LoadChat(ctx, r.RunID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, a.AppendChat(ctx, r.RunID, ChatMessage{Role: "user", Content: "why?", Timestamp: at}))
	require.NoError(t, a.AppendChat(ctx, r.RunID, ChatMessage{Role: "assistant", Content: "price", Timestamp: at}))
	msgs, err = a.LoadChat(ctx, r.RunID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "why?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.True(t, at.Equal(msgs[1].Timestamp))

	ids, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{r.RunID}, ids)

	require.NoError(t, a.Delete(ctx, r.RunID))
	msgs, err = a.LoadChat(ctx, r.RunID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = a.LoadChat(ctx, "../etc")
	assert.ErrorIs(t, err, core.ErrInvalidParameter)
}
