package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/history"
	"github.com/c360studio/phraseforge/normalize"
	"github.com/c360studio/phraseforge/progress"
	"github.com/c360studio/phraseforge/storage"
)

type serviceFixture struct {
	svc       *Service
	store     *storage.CoverageStore
	wordlists *storage.WordListStore
	jobs      *storage.JobStore
	chunks    *storage.ChunkStore
	queue     *dispatch.MemQueue
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := storage.NewCoverageStore(
		storage.NewMemKV(storage.BucketCoverage),
		storage.NewMemKV(storage.BucketAssignments),
	)
	wordlists := storage.NewWordListStore(storage.NewMemKV(storage.BucketWordLists))
	jobs := storage.NewJobStore(storage.NewMemKV(storage.BucketJobs))
	chunks := storage.NewChunkStore(storage.NewMemKV(storage.BucketChunks))
	historyStore := storage.NewHistoryStore(storage.NewMemKV(storage.BucketHistories))
	histories := history.NewService(historyStore, chunks, 0, nil)
	queue := dispatch.NewMemQueue(16)
	coord := dispatch.NewCoordinator(storage.NewMemKV(storage.BucketGroups), queue, nil)
	svc := NewService(store, wordlists, jobs, chunks, histories, coord, progress.NewMemBus(), nil)
	return &serviceFixture{svc: svc, store: store, wordlists: wordlists, jobs: jobs, chunks: chunks, queue: queue}
}

// seedSource persists a completed job whose chunks carry the fixture
// sentences, plus a word list.
func (f *serviceFixture) seedSource(t *testing.T, ctx context.Context) (jobID, wordlistID string) {
	t.Helper()
	job, err := f.jobs.Create(ctx, &storage.Job{Owner: "alice", Filename: "roman.pdf", TotalChunks: 1, MaxRetries: 3})
	require.NoError(t, err)
	require.NoError(t, f.chunks.CreateBatch(ctx, []*storage.Chunk{{JobID: job.ID, Index: 0, MaxRetries: 3}}))
	_, err = f.chunks.Claim(ctx, job.ID, 0, "task-0")
	require.NoError(t, err)
	_, err = f.chunks.MarkSuccess(ctx, job.ID, 0, &storage.ChunkResult{
		Sentences: sentenceList("Le chat mange.", "Le chien dort.", "Un oiseau chante."),
	})
	require.NoError(t, err)

	wordlist, err := f.wordlists.Ingest(ctx, "alice", "animaux",
		[]string{"chat", "chien", "manger", "dormir"}, normalize.NewDefault())
	require.NoError(t, err)
	return job.ID, wordlist.ID
}

func TestCoverageRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	jobID, wordlistID := f.seedSource(t, ctx)

	run, taskID, err := f.svc.StartRun(ctx, &storage.CoverageRun{
		Owner:      "alice",
		Mode:       storage.CoverageModeCover,
		SourceType: storage.CoverageSourceJob,
		SourceID:   jobID,
		WordListID: wordlistID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
	assert.Equal(t, storage.JobStatePending, run.State)
	assert.Equal(t, 1, f.queue.Len())

	task, err := f.queue.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.TaskCoverageRun, task.Type)
	require.NoError(t, f.svc.RunCoverage(ctx, task.RunID))

	finished, err := f.svc.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobStateCompleted, finished.State)
	require.NotNil(t, finished.Stats)
	assert.Equal(t, 4, finished.Stats.CoveredWords)
	assert.Equal(t, 2, finished.Stats.SelectedCount)

	result, err := f.svc.Result(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, result.Assignments, 4)
	assert.Empty(t, result.Selected)

	// Duplicate delivery of the task is a no-op.
	require.NoError(t, f.svc.RunCoverage(ctx, task.RunID))
}

func TestCoverageRunOverPartialJobCarriesCaveat(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	jobID, wordlistID := f.seedSource(t, ctx)

	_, err := f.jobs.Mutate(ctx, jobID, func(j *storage.Job) error {
		j.State = storage.JobStatePartial
		j.ProgressPercent = 100
		return nil
	})
	require.NoError(t, err)

	run, _, err := f.svc.StartRun(ctx, &storage.CoverageRun{
		Owner:      "alice",
		Mode:       storage.CoverageModeCover,
		SourceType: storage.CoverageSourceJob,
		SourceID:   jobID,
		WordListID: wordlistID,
	})
	require.NoError(t, err)
	_, _ = f.queue.Claim(ctx)
	require.NoError(t, f.svc.RunCoverage(ctx, run.ID))

	finished, err := f.svc.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial", finished.Stats.SourceState)
}

func TestStartRunValidation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	jobID, _ := f.seedSource(t, ctx)

	_, _, err := f.svc.StartRun(ctx, &storage.CoverageRun{
		Mode: "ranking", SourceType: storage.CoverageSourceJob, SourceID: jobID,
	})
	assert.Error(t, err)

	_, _, err = f.svc.StartRun(ctx, &storage.CoverageRun{
		Mode: storage.CoverageModeCover, SourceType: storage.CoverageSourceJob, SourceID: "missing",
	})
	assert.Error(t, err)

	_, _, err = f.svc.StartRun(ctx, &storage.CoverageRun{
		Mode: storage.CoverageModeCover, SourceType: storage.CoverageSourceJob, SourceID: jobID,
		WordListID: "missing",
	})
	assert.Error(t, err)
}

func TestSwapReassignsKey(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	jobID, wordlistID := f.seedSource(t, ctx)

	run, _, err := f.svc.StartRun(ctx, &storage.CoverageRun{
		Owner:      "alice",
		Mode:       storage.CoverageModeCover,
		SourceType: storage.CoverageSourceJob,
		SourceID:   jobID,
		WordListID: wordlistID,
	})
	require.NoError(t, err)
	_, _ = f.queue.Claim(ctx)
	require.NoError(t, f.svc.RunCoverage(ctx, run.ID))

	// "chat" lives in sentence 0; sentence 1 does not contain it.
	_, err = f.svc.Swap(ctx, run.ID, "chat", 1)
	assert.ErrorIs(t, err, ErrSwapTarget)

	// "manger" also lives in sentence 0, swapping it there is a no-op
	// but legal.
	result, err := f.svc.Swap(ctx, run.ID, "manger", 0)
	require.NoError(t, err)
	for _, assignment := range result.Assignments {
		if assignment.WordKey == "manger" {
			assert.Equal(t, 0, assignment.SentenceIndex)
		}
	}

	// Unknown key.
	_, err = f.svc.Swap(ctx, run.ID, "licorne", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSwapModeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	jobID, wordlistID := f.seedSource(t, ctx)

	run, _, err := f.svc.StartRun(ctx, &storage.CoverageRun{
		Owner:      "alice",
		Mode:       storage.CoverageModeFilter,
		SourceType: storage.CoverageSourceJob,
		SourceID:   jobID,
		WordListID: wordlistID,
	})
	require.NoError(t, err)

	_, err = f.svc.Swap(ctx, run.ID, "chat", 0)
	assert.ErrorIs(t, err, ErrModeMismatch)
}
