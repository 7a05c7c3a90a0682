package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/storage"
)

func newTestCoordinator() (*Coordinator, *MemQueue) {
	queue := NewMemQueue(16)
	return NewCoordinator(storage.NewMemKV(storage.BucketGroups), queue, nil), queue
}

func chunkTasks(jobID string, n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = &Task{Type: TaskProcessChunk, JobID: jobID, ChunkIndex: i}
	}
	return tasks
}

func TestDispatchSingle(t *testing.T) {
	ctx := context.Background()
	coord, queue := newTestCoordinator()

	taskID, err := coord.DispatchSingle(ctx, &Task{Type: TaskCoverageRun, RunID: "run-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := queue.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Empty(t, task.GroupID)
}

func TestChordFiresCallbackOnce(t *testing.T) {
	ctx := context.Background()
	coord, queue := newTestCoordinator()

	tasks := chunkTasks("job-1", 3)
	callback := &Task{Type: TaskFinalizeJob, JobID: "job-1"}
	groupID, err := coord.DispatchGroup(ctx, tasks, callback)
	require.NoError(t, err)
	assert.Equal(t, 3, queue.Len())

	// Drain the fan-out tasks.
	for range tasks {
		task, err := queue.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, groupID, task.GroupID)
	}

	// Report all but one: no callback yet.
	for _, task := range tasks[:2] {
		require.NoError(t, coord.ReportOutcome(ctx, groupID, Outcome{
			TaskID: task.ID, ChunkIndex: task.ChunkIndex, Success: true,
		}))
	}
	assert.Zero(t, queue.Len())

	// Last report fires the callback with positional outcomes.
	require.NoError(t, coord.ReportOutcome(ctx, groupID, Outcome{
		TaskID: tasks[2].ID, ChunkIndex: 2, Success: false, ErrorCode: "RATE_LIMIT",
	}))

	fired, err := queue.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, TaskFinalizeJob, fired.Type)
	require.Len(t, fired.Outcomes, 3)
	assert.True(t, fired.Outcomes[0].Success)
	assert.Equal(t, "RATE_LIMIT", fired.Outcomes[2].ErrorCode)
}

func TestChordDuplicateReportsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	coord, queue := newTestCoordinator()

	tasks := chunkTasks("job-1", 2)
	groupID, err := coord.DispatchGroup(ctx, tasks, &Task{Type: TaskFinalizeJob, JobID: "job-1"})
	require.NoError(t, err)
	for range tasks {
		_, _ = queue.Claim(ctx)
	}

	require.NoError(t, coord.ReportOutcome(ctx, groupID, Outcome{TaskID: tasks[0].ID, Success: true}))
	// Same task reporting twice must not complete the chord.
	require.NoError(t, coord.ReportOutcome(ctx, groupID, Outcome{TaskID: tasks[0].ID, Success: true}))
	assert.Zero(t, queue.Len())

	require.NoError(t, coord.ReportOutcome(ctx, groupID, Outcome{TaskID: tasks[1].ID, Success: true}))
	assert.Equal(t, 1, queue.Len())

	// Late duplicate after firing: still no second callback.
	require.NoError(t, coord.ReportOutcome(ctx, groupID, Outcome{TaskID: tasks[1].ID, Success: true}))
	assert.Equal(t, 1, queue.Len())
}

func TestReportOutcomeUnknownGroup(t *testing.T) {
	coord, _ := newTestCoordinator()

	err := coord.ReportOutcome(context.Background(), "missing", Outcome{TaskID: "t"})
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestReportOutcomeUnknownTask(t *testing.T) {
	ctx := context.Background()
	coord, queue := newTestCoordinator()

	tasks := chunkTasks("job-1", 1)
	groupID, err := coord.DispatchGroup(ctx, tasks, &Task{Type: TaskFinalizeJob, JobID: "job-1"})
	require.NoError(t, err)
	_, _ = queue.Claim(ctx)

	err = coord.ReportOutcome(ctx, groupID, Outcome{TaskID: "intruder"})
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	coord, queue := newTestCoordinator()

	tasks := chunkTasks("job-1", 2)
	groupID, err := coord.DispatchGroup(ctx, tasks, &Task{Type: TaskFinalizeJob, JobID: "job-1"})
	require.NoError(t, err)
	_ = queue

	ids, err := coord.GroupTaskIDs(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, coord.Revoke(ctx, ids[0]))
	assert.True(t, coord.IsRevoked(ctx, ids[0]))
	assert.False(t, coord.IsRevoked(ctx, ids[1]))

	// Revocation is idempotent.
	require.NoError(t, coord.Revoke(ctx, ids[0]))
}

func TestTaskEncodeDecode(t *testing.T) {
	task := &Task{ID: "t-1", Type: TaskProcessChunk, JobID: "job-1", ChunkIndex: 4, RetryRound: 1}

	data, err := task.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)

	_, err = DecodeTask([]byte(`{"id":""}`))
	assert.Error(t, err)
}

func TestMemQueueClose(t *testing.T) {
	queue := NewMemQueue(1)
	queue.Close()

	_, err := queue.Claim(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}
