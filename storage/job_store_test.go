package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(owner string) *Job {
	return &Job{
		Owner:    owner,
		Filename: "roman.pdf",
		Settings: ProcessingSettings{
			SentenceLength: 8,
			ModelTier:      "balanced",
		},
	}
}

func TestJobStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	job, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatePending, job.State)
	assert.Equal(t, 3, job.MaxRetries)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "alice", got.Owner)
}

func TestJobStoreGetNotFound(t *testing.T) {
	store := NewJobStore(NewMemKV(BucketJobs))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStoreListFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	_, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)
	_, err = store.Create(ctx, newTestJob("bob"))
	require.NoError(t, err)

	jobs, err := store.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "alice", jobs[0].Owner)
}

func TestJobStoreListActive(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	pending, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)

	running, err := store.Create(ctx, newTestJob("bob"))
	require.NoError(t, err)
	_, err = store.Start(ctx, running.ID, "task-1")
	require.NoError(t, err)

	finished, err := store.Create(ctx, newTestJob("carol"))
	require.NoError(t, err)
	_, err = store.Start(ctx, finished.ID, "task-2")
	require.NoError(t, err)
	_, err = store.Finish(ctx, finished.ID, JobStateCompleted, "Done", "")
	require.NoError(t, err)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running.ID, active[0].ID)
	assert.NotEqual(t, pending.ID, active[0].ID)
}

func TestJobStoreStartAndFinish(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	job, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)

	started, err := store.Start(ctx, job.ID, "task-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateProcessing, started.State)
	assert.NotNil(t, started.StartedAt)
	assert.Equal(t, "task-1", started.TaskID)

	// Double start must be rejected.
	_, err = store.Start(ctx, job.ID, "task-2")
	assert.ErrorIs(t, err, ErrTerminal)

	done, err := store.Finish(ctx, job.ID, JobStateCompleted, "Done", "")
	require.NoError(t, err)
	assert.Equal(t, JobStateCompleted, done.State)
	assert.Equal(t, 100, done.ProgressPercent)
	assert.NotNil(t, done.CompletedAt)
}

func TestJobStoreTerminalImmutability(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	job, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)
	_, err = store.Start(ctx, job.ID, "task-1")
	require.NoError(t, err)
	_, err = store.Finish(ctx, job.ID, JobStateFailed, "Failed", "all chunks failed")
	require.NoError(t, err)

	// Any field mutation on a terminal job is rejected...
	_, err = store.Mutate(ctx, job.ID, func(j *Job) error {
		j.ProgressPercent = 50
		return nil
	})
	assert.ErrorIs(t, err, ErrTerminal)

	// ...except history_id.
	updated, err := store.SetHistoryID(ctx, job.ID, "hist-1")
	require.NoError(t, err)
	assert.Equal(t, "hist-1", updated.HistoryID)
}

func TestJobStoreProgressMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	job, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)
	_, err = store.Start(ctx, job.ID, "task-1")
	require.NoError(t, err)

	_, err = store.Mutate(ctx, job.ID, func(j *Job) error {
		j.ProgressPercent = 60
		return nil
	})
	require.NoError(t, err)

	_, err = store.Mutate(ctx, job.ID, func(j *Job) error {
		j.ProgressPercent = 40
		return nil
	})
	assert.Error(t, err)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.ProgressPercent)
}

func TestJobStoreProcessedBoundedByTotal(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	job, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)

	_, err = store.Mutate(ctx, job.ID, func(j *Job) error {
		j.TotalChunks = 2
		j.ProcessedChunks = 3
		return nil
	})
	assert.Error(t, err)
}

func TestJobStoreFinishRequiresTerminalState(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore(NewMemKV(BucketJobs))

	job, err := store.Create(ctx, newTestJob("alice"))
	require.NoError(t, err)

	_, err = store.Finish(ctx, job.ID, JobStateProcessing, "", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
