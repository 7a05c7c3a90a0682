package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/storage"
)

func sentences(texts ...string) []storage.Sentence {
	out := make([]storage.Sentence, len(texts))
	for i, text := range texts {
		out[i] = storage.Sentence{Normalized: text, Original: text}
	}
	return out
}

func successChunk(index int, overlap bool, texts ...string) *storage.Chunk {
	return &storage.Chunk{
		JobID:      "job-1",
		Index:      index,
		HasOverlap: overlap,
		State:      storage.ChunkStateSuccess,
		Result:     &storage.ChunkResult{Sentences: sentences(texts...), TokenCount: 100},
	}
}

func TestMergeTwoChunksWithOverlap(t *testing.T) {
	// A 40-page job split into two 20-page chunks sharing one overlap
	// page: the duplicated sentence survives exactly once.
	chunks := []*storage.Chunk{
		successChunk(0, false, "A.", "B.", "C."),
		successChunk(1, true, "C.", "D.", "E."),
	}

	merged := MergeChunks(chunks, DefaultDedupWindow)
	require.Len(t, merged.Sentences, 5)
	assert.Equal(t, "A.", merged.Sentences[0].Normalized)
	assert.Equal(t, "C.", merged.Sentences[2].Normalized)
	assert.Equal(t, "E.", merged.Sentences[4].Normalized)
	assert.Equal(t, 1, merged.DroppedDupes)
	assert.Empty(t, merged.FailedIndices)
	assert.Equal(t, 200, merged.TokenCount)
}

func TestMergeFingerprintIgnoresCaseAndWhitespace(t *testing.T) {
	chunks := []*storage.Chunk{
		successChunk(0, false, "Le chat dort."),
		successChunk(1, true, "LE  CHAT DORT.", "Il pleut."),
	}

	merged := MergeChunks(chunks, DefaultDedupWindow)
	require.Len(t, merged.Sentences, 2)
	assert.Equal(t, "Il pleut.", merged.Sentences[1].Normalized)
}

func TestMergeWindowBoundsLookback(t *testing.T) {
	first := make([]string, 12)
	for i := range first {
		first[i] = fmt.Sprintf("Sentence %d.", i)
	}
	chunks := []*storage.Chunk{
		successChunk(0, false, first...),
		// "Sentence 2." fell outside the window of 8; "Sentence 10." did not.
		successChunk(1, true, "Sentence 2.", "Sentence 10."),
	}

	merged := MergeChunks(chunks, 8)
	require.Len(t, merged.Sentences, 13)
	assert.Equal(t, "Sentence 2.", merged.Sentences[12].Normalized)
	assert.Equal(t, 1, merged.DroppedDupes)
}

func TestMergeSkipsFailedChunks(t *testing.T) {
	failed := &storage.Chunk{JobID: "job-1", Index: 1, State: storage.ChunkStateFailed}
	chunks := []*storage.Chunk{
		successChunk(0, false, "A."),
		failed,
		successChunk(2, true, "B."),
	}

	merged := MergeChunks(chunks, DefaultDedupWindow)
	assert.Len(t, merged.Sentences, 2)
	assert.Equal(t, []int{1}, merged.FailedIndices)
}

func TestMergeNoDedupAcrossSkippedChunk(t *testing.T) {
	// Chunk 2 overlaps chunk 1, which failed. With chunk 1 missing, the
	// repeated "B." is a genuine recurrence in the text, not an overlap
	// duplicate against chunk 0.
	chunks := []*storage.Chunk{
		successChunk(0, false, "A.", "B."),
		{JobID: "job-1", Index: 1, HasOverlap: true, State: storage.ChunkStateFailed},
		successChunk(2, true, "B.", "C."),
	}

	merged := MergeChunks(chunks, DefaultDedupWindow)
	require.Len(t, merged.Sentences, 4)
	assert.Equal(t, 0, merged.DroppedDupes)
	assert.Equal(t, []int{1}, merged.FailedIndices)
}

func TestMergePreservesInChunkDuplicates(t *testing.T) {
	chunks := []*storage.Chunk{
		successChunk(0, false, "Encore.", "Encore."),
	}
	merged := MergeChunks(chunks, DefaultDedupWindow)
	assert.Len(t, merged.Sentences, 2)
}

func newServiceFixture(t *testing.T) (*Service, *storage.ChunkStore) {
	t.Helper()
	histories := storage.NewHistoryStore(storage.NewMemKV(storage.BucketHistories))
	chunks := storage.NewChunkStore(storage.NewMemKV(storage.BucketChunks))
	return NewService(histories, chunks, 0, nil), chunks
}

// seedJobChunks persists two chunks and drives them to success.
func seedJobChunks(t *testing.T, chunks *storage.ChunkStore) {
	t.Helper()
	ctx := context.Background()
	batch := []*storage.Chunk{
		{JobID: "job-1", Index: 0, MaxRetries: 3},
		{JobID: "job-1", Index: 1, HasOverlap: true, MaxRetries: 3},
	}
	require.NoError(t, chunks.CreateBatch(ctx, batch))
	for i, texts := range [][]string{{"A.", "B.", "C."}, {"C.", "D.", "E."}} {
		_, err := chunks.Claim(ctx, "job-1", i, fmt.Sprintf("task-%d", i))
		require.NoError(t, err)
		_, err = chunks.MarkSuccess(ctx, "job-1", i, &storage.ChunkResult{Sentences: sentences(texts...)})
		require.NoError(t, err)
	}
}

func testJob() *storage.Job {
	return &storage.Job{ID: "job-1", Owner: "alice", Filename: "roman.pdf"}
}

func TestSnapshotAndRead(t *testing.T) {
	ctx := context.Background()
	svc, chunks := newServiceFixture(t)
	seedJobChunks(t, chunks)

	entry, err := svc.Snapshot(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, 5, entry.SentenceCount)
	assert.Equal(t, "alice", entry.Owner)
	require.Len(t, entry.ChunkIDs, 2)

	// Chunks still accessible: live view matches.
	view, err := svc.Read(ctx, entry.ID, true)
	require.NoError(t, err)
	assert.Equal(t, SourceLiveChunks, view.Source)
	assert.Equal(t, 5, view.History.SentenceCount)

	// use_live=false always serves the stored snapshot.
	view, err = svc.Read(ctx, entry.ID, false)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, view.Source)
}

func TestReadFallsBackWhenChunksGone(t *testing.T) {
	ctx := context.Background()
	svc, chunks := newServiceFixture(t)
	seedJobChunks(t, chunks)

	entry, err := svc.Snapshot(ctx, testJob())
	require.NoError(t, err)

	// Simulate chunk expiry by deleting the job's rows.
	require.NoError(t, chunks.DeleteByJob(ctx, "job-1"))

	view, err := svc.Read(ctx, entry.ID, true)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, view.Source)
	assert.Equal(t, 5, view.History.SentenceCount)
}

func TestRefreshRebuildsSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, chunks := newServiceFixture(t)

	// Chunk 0 succeeds, chunk 1 exhausts its retries.
	batch := []*storage.Chunk{
		{JobID: "job-1", Index: 0, MaxRetries: 3},
		{JobID: "job-1", Index: 1, HasOverlap: true, MaxRetries: 3},
	}
	require.NoError(t, chunks.CreateBatch(ctx, batch))
	_, err := chunks.Claim(ctx, "job-1", 0, "task-0")
	require.NoError(t, err)
	_, err = chunks.MarkSuccess(ctx, "job-1", 0, &storage.ChunkResult{Sentences: sentences("A.", "B.", "C.")})
	require.NoError(t, err)
	_, err = chunks.Claim(ctx, "job-1", 1, "task-1")
	require.NoError(t, err)
	_, err = chunks.MarkFailed(ctx, "job-1", 1, "upstream timeout", storage.ErrCodeTimeout)
	require.NoError(t, err)

	entry, err := svc.Snapshot(ctx, testJob())
	require.NoError(t, err)
	assert.Equal(t, 3, entry.SentenceCount)
	assert.NotEmpty(t, entry.ErrorSummary)

	// A manual retry later fills in the missing chunk.
	_, scheduled, err := chunks.ScheduleRetry(ctx, "job-1", 1, false)
	require.NoError(t, err)
	require.True(t, scheduled)
	_, err = chunks.Claim(ctx, "job-1", 1, "task-retry")
	require.NoError(t, err)
	_, err = chunks.MarkSuccess(ctx, "job-1", 1, &storage.ChunkResult{
		Sentences: sentences("C.", "D.", "E."),
	})
	require.NoError(t, err)

	updated, err := svc.Refresh(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.SentenceCount)
	assert.Empty(t, updated.ErrorSummary)

	stored, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.SentenceCount)
}

func TestSnapshotWithoutSuccessesFails(t *testing.T) {
	ctx := context.Background()
	svc, chunks := newServiceFixture(t)
	require.NoError(t, chunks.CreateBatch(ctx, []*storage.Chunk{{JobID: "job-1", Index: 0, MaxRetries: 3}}))

	_, err := svc.Snapshot(ctx, testJob())
	assert.Error(t, err)
}
