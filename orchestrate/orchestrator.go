// Package orchestrate drives the job state machine: fan-out dispatch of
// chunk tasks bound to a finalizer, retry rounds for recoverable
// failures, cancellation, and the terminal transition that snapshots
// history. It is the sole writer of a job's progress fields.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/history"
	"github.com/c360studio/phraseforge/metrics"
	"github.com/c360studio/phraseforge/progress"
	"github.com/c360studio/phraseforge/storage"
)

// ErrJobAlreadyTerminal is returned when start or cancel hits a job that
// already left the required state.
var ErrJobAlreadyTerminal = errors.New("job already terminal")

// ChunkRunner processes one chunk task synchronously. Used for the
// single-chunk short circuit that skips the broker round trip.
type ChunkRunner interface {
	RunChunk(ctx context.Context, task *dispatch.Task) dispatch.Outcome
}

// Orchestrator owns job lifecycle transitions. Chunk rows remain the
// source of truth for finalization; task outcomes are advisory.
type Orchestrator struct {
	jobs      *storage.JobStore
	chunks    *storage.ChunkStore
	coord     *dispatch.Coordinator
	histories *history.Service
	bus       progress.Bus
	local     ChunkRunner
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates an orchestrator. local may be nil, which disables the
// single-chunk in-process short circuit.
func New(
	jobs *storage.JobStore,
	chunks *storage.ChunkStore,
	coord *dispatch.Coordinator,
	histories *history.Service,
	bus progress.Bus,
	local ChunkRunner,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs:      jobs,
		chunks:    chunks,
		coord:     coord,
		histories: histories,
		bus:       bus,
		local:     local,
		logger:    logger,
	}
}

// SetLocalRunner wires the in-process chunk runner after construction.
// Needed because the worker that runs chunks also reports back here.
func (o *Orchestrator) SetLocalRunner(runner ChunkRunner) {
	o.local = runner
}

// SetMetrics wires Prometheus collectors. Nil disables instrumentation.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// Job returns the current job row.
func (o *Orchestrator) Job(ctx context.Context, id string) (*storage.Job, error) {
	return o.jobs.Get(ctx, id)
}

// Start transitions a pending job to processing and dispatches one chunk
// task per persisted chunk as a group bound to a finalize callback.
// Returns the dispatched group id. A single-chunk job with a local
// runner is processed in-process and finalized immediately.
func (o *Orchestrator) Start(ctx context.Context, jobID string) (string, error) {
	chunks, err := o.chunks.ListByJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("job %s has no chunks", jobID)
	}

	job, err := o.jobs.Start(ctx, jobID, "")
	if err != nil {
		if errors.Is(err, storage.ErrTerminal) {
			return "", ErrJobAlreadyTerminal
		}
		return "", err
	}
	o.emit(ctx, job)
	if o.metrics != nil {
		o.metrics.JobsStarted.Inc()
	}

	if len(chunks) == 1 && o.local != nil {
		return o.startSingle(ctx, job, chunks[0])
	}

	tasks := chunkTasks(jobID, chunks, job.RetryRound)
	groupID, err := o.coord.DispatchGroup(ctx, tasks, &dispatch.Task{
		Type:  dispatch.TaskFinalizeJob,
		JobID: jobID,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch chunk group: %w", err)
	}

	if _, err := o.jobs.Mutate(ctx, jobID, func(j *storage.Job) error {
		j.TaskID = groupID
		return nil
	}); err != nil {
		o.logger.Warn("Failed to record group id on job", "job_id", jobID, "error", err)
	}

	o.logger.Info("Job dispatched", "job_id", jobID, "chunks", len(chunks), "group_id", groupID)
	return groupID, nil
}

// startSingle runs a one-chunk job in-process: no broker round trip, no
// chord document. The outcome feeds straight into finalize.
func (o *Orchestrator) startSingle(ctx context.Context, job *storage.Job, chunk *storage.Chunk) (string, error) {
	task := &dispatch.Task{
		ID:         singleTaskID(job.ID),
		Type:       dispatch.TaskProcessChunk,
		JobID:      job.ID,
		ChunkIndex: chunk.Index,
	}

	outcome := o.local.RunChunk(ctx, task)
	if err := o.Finalize(ctx, job.ID, []dispatch.Outcome{outcome}); err != nil {
		return "", err
	}
	return task.ID, nil
}

// RecordChunkDone bumps the job's processed counter and progress after
// one chunk reaches a per-round terminal state. Workers call this; the
// orchestrator remains the only writer of progress fields.
func (o *Orchestrator) RecordChunkDone(ctx context.Context, jobID string) {
	job, err := o.jobs.Mutate(ctx, jobID, func(j *storage.Job) error {
		if j.State.IsTerminal() {
			return storage.ErrTerminal
		}
		if j.ProcessedChunks < j.TotalChunks {
			j.ProcessedChunks++
		}
		j.ProgressPercent = chunkProgress(j.ProcessedChunks, j.TotalChunks)
		j.CurrentStep = fmt.Sprintf("Processing chunk %d/%d", j.ProcessedChunks, j.TotalChunks)
		return nil
	})
	if err != nil {
		// A cancelled job rejects the bump; the result is orphaned.
		if !errors.Is(err, storage.ErrTerminal) {
			o.logger.Warn("Failed to record chunk completion", "job_id", jobID, "error", err)
		}
		return
	}
	o.emit(ctx, job)
}

// Finalize runs after every chunk task of a round reported. Chunks are
// reloaded from the store; when recoverable failures remain and the
// retry budget allows, a new round is dispatched instead of going
// terminal. Otherwise the job lands on completed, partial or failed,
// and a history snapshot is created when at least one chunk succeeded.
func (o *Orchestrator) Finalize(ctx context.Context, jobID string, outcomes []dispatch.Outcome) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State == storage.JobStateCancelled {
		// Late results of a cancelled job are orphaned.
		o.logger.Info("Finalize on cancelled job, discarding results", "job_id", jobID)
		return nil
	}
	if job.State.IsTerminal() {
		// Either a duplicate finalize or a manual retry round that ran
		// after the job settled. Fold any late successes into history.
		return o.reconcile(ctx, job)
	}

	chunks, err := o.chunks.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}

	var succeeded, failed, retryable []*storage.Chunk
	for _, chunk := range chunks {
		switch chunk.State {
		case storage.ChunkStateSuccess:
			succeeded = append(succeeded, chunk)
		case storage.ChunkStateFailed:
			failed = append(failed, chunk)
			if chunk.Attempts < chunk.MaxRetries {
				retryable = append(retryable, chunk)
			}
		case storage.ChunkStateProcessing, storage.ChunkStateRetryScheduled, storage.ChunkStatePending:
			// Outcome reported but store not settled: count as failed for
			// this round, a retry round will pick it up.
			failed = append(failed, chunk)
			if chunk.Attempts < chunk.MaxRetries {
				retryable = append(retryable, chunk)
			}
		}
	}

	if len(retryable) > 0 && job.RetryRound < job.MaxRetries {
		return o.retryRound(ctx, job, retryable)
	}
	return o.finish(ctx, job, chunks, succeeded, failed)
}

// retryRound re-dispatches the recoverable chunks as a new chord with
// finalize as its callback again.
func (o *Orchestrator) retryRound(ctx context.Context, job *storage.Job, retryable []*storage.Chunk) error {
	scheduled := make([]*storage.Chunk, 0, len(retryable))
	for _, chunk := range retryable {
		if chunk.State != storage.ChunkStateFailed {
			continue
		}
		_, ok, err := o.chunks.ScheduleRetry(ctx, job.ID, chunk.Index, false)
		if err != nil || !ok {
			continue
		}
		scheduled = append(scheduled, chunk)
	}
	if len(scheduled) == 0 {
		// Every candidate raced away; settle the round from current state.
		chunks, err := o.chunks.ListByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		var succeeded, failed []*storage.Chunk
		for _, chunk := range chunks {
			switch chunk.State {
			case storage.ChunkStateSuccess:
				succeeded = append(succeeded, chunk)
			case storage.ChunkStateFailed:
				failed = append(failed, chunk)
			}
		}
		return o.finish(ctx, job, chunks, succeeded, failed)
	}

	round := job.RetryRound + 1
	tasks := chunkTasks(job.ID, scheduled, round)
	groupID, err := o.coord.DispatchGroup(ctx, tasks, &dispatch.Task{
		Type:  dispatch.TaskFinalizeJob,
		JobID: job.ID,
	})
	if err != nil {
		return fmt.Errorf("dispatch retry round: %w", err)
	}

	updated, err := o.jobs.Mutate(ctx, job.ID, func(j *storage.Job) error {
		j.RetryRound = round
		j.TaskID = groupID
		j.CurrentStep = fmt.Sprintf("Retrying %d chunk(s), round %d/%d", len(scheduled), round, j.MaxRetries)
		return nil
	})
	if err != nil {
		return err
	}
	o.emit(ctx, updated)
	if o.metrics != nil {
		o.metrics.RetryRounds.Inc()
	}

	o.logger.Info("Retry round dispatched",
		"job_id", job.ID, "round", round, "chunks", len(scheduled), "group_id", groupID)
	return nil
}

// finish performs the terminal transition and, when results exist,
// creates the history snapshot exactly once.
func (o *Orchestrator) finish(ctx context.Context, job *storage.Job, chunks, succeeded, failed []*storage.Chunk) error {
	var state storage.JobState
	var step, errMsg string
	switch {
	case len(failed) == 0 && len(succeeded) == len(chunks):
		state, step = storage.JobStateCompleted, "Completed"
	case len(succeeded) > 0:
		state, step = storage.JobStatePartial, "Partial"
		errMsg = fmt.Sprintf("%d of %d chunks failed", len(failed), len(chunks))
	default:
		state, step = storage.JobStateFailed, "Failed"
		errMsg = firstChunkError(failed)
	}

	tokens := 0
	for _, chunk := range succeeded {
		if chunk.Result != nil {
			tokens += chunk.Result.TokenCount
		}
	}

	finished, err := o.jobs.Mutate(ctx, job.ID, func(j *storage.Job) error {
		if j.State.IsTerminal() {
			return storage.ErrTerminal
		}
		now := nowPtr()
		j.State = state
		j.CurrentStep = step
		j.ErrorMessage = errMsg
		j.CompletedAt = now
		j.ProgressPercent = 100
		j.ProcessedChunks = len(succeeded)
		j.TokenCount = tokens
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrTerminal) {
			return nil // another finalizer won the transition
		}
		return err
	}

	if len(succeeded) > 0 && finished.HistoryID == "" {
		entry, err := o.histories.Snapshot(ctx, finished)
		if err != nil {
			o.logger.Error("History snapshot failed", "job_id", job.ID, "error", err)
		} else {
			finished, err = o.jobs.SetHistoryID(ctx, job.ID, entry.ID)
			if err != nil {
				o.logger.Error("Failed to record history id", "job_id", job.ID, "error", err)
			}
		}
	}

	o.emit(ctx, finished)
	o.observeFinished(finished)
	o.logger.Info("Job finalized",
		"job_id", job.ID,
		"state", state,
		"succeeded", len(succeeded),
		"failed", len(failed),
		"tokens", tokens)
	return nil
}

// reconcile handles a finalize on an already-terminal job: a manual
// retry may have turned failed chunks into successes, so the history
// snapshot is created or rebuilt from the current chunk rows. The job's
// terminal state itself never changes.
func (o *Orchestrator) reconcile(ctx context.Context, job *storage.Job) error {
	if job.HistoryID != "" {
		if _, err := o.histories.Refresh(ctx, job.HistoryID); err != nil {
			return fmt.Errorf("refresh history after retry: %w", err)
		}
		return nil
	}

	chunks, err := o.chunks.ListByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	anySuccess := false
	for _, chunk := range chunks {
		if chunk.State == storage.ChunkStateSuccess {
			anySuccess = true
			break
		}
	}
	if !anySuccess {
		return nil
	}

	entry, err := o.histories.Snapshot(ctx, job)
	if err != nil {
		return fmt.Errorf("snapshot after retry: %w", err)
	}
	if _, err := o.jobs.SetHistoryID(ctx, job.ID, entry.ID); err != nil {
		return fmt.Errorf("record history id: %w", err)
	}
	return nil
}

// Cancel stops a pending or processing job. In-flight tasks are revoked
// best effort; chunks already processing may finish but their results
// are orphaned.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*storage.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != storage.JobStatePending && job.State != storage.JobStateProcessing {
		return nil, ErrJobAlreadyTerminal
	}

	cancelled, err := o.jobs.Mutate(ctx, jobID, func(j *storage.Job) error {
		if j.State != storage.JobStatePending && j.State != storage.JobStateProcessing {
			return storage.ErrTerminal
		}
		j.State = storage.JobStateCancelled
		j.CurrentStep = "Cancelled"
		j.CompletedAt = nowPtr()
		j.ProgressPercent = 100
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrTerminal) {
			return nil, ErrJobAlreadyTerminal
		}
		return nil, err
	}

	if cancelled.TaskID != "" {
		if ids, err := o.coord.GroupTaskIDs(ctx, cancelled.TaskID); err == nil {
			for _, taskID := range ids {
				if err := o.coord.Revoke(ctx, taskID); err != nil {
					o.logger.Warn("Failed to revoke task", "task_id", taskID, "error", err)
				}
			}
		}
	}

	o.emit(ctx, cancelled)
	o.observeFinished(cancelled)
	o.logger.Info("Job cancelled", "job_id", jobID)
	return cancelled, nil
}

func (o *Orchestrator) observeFinished(job *storage.Job) {
	if o.metrics == nil {
		return
	}
	o.metrics.JobsFinished.WithLabelValues(string(job.State)).Inc()
	if job.StartedAt != nil && job.CompletedAt != nil {
		o.metrics.JobDuration.Observe(job.CompletedAt.Sub(*job.StartedAt).Seconds())
	}
}

// emit publishes the job's current state on the progress bus.
func (o *Orchestrator) emit(ctx context.Context, job *storage.Job) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, progress.EventFromJob(job)); err != nil {
		o.logger.Warn("Failed to publish progress", "job_id", job.ID, "error", err)
	}
}

// chunkProgress maps chunk completion onto the 10..90 band; the ends are
// reserved for setup and finalization.
func chunkProgress(processed, total int) int {
	if total == 0 {
		return 10
	}
	return 10 + (80*processed)/total
}

func chunkTasks(jobID string, chunks []*storage.Chunk, round int) []*dispatch.Task {
	tasks := make([]*dispatch.Task, len(chunks))
	for i, chunk := range chunks {
		tasks[i] = &dispatch.Task{
			Type:       dispatch.TaskProcessChunk,
			JobID:      jobID,
			ChunkIndex: chunk.Index,
			RetryRound: round,
		}
	}
	return tasks
}

func nowPtr() *time.Time {
	now := time.Now()
	return &now
}

func singleTaskID(jobID string) string {
	return "inline-" + jobID
}

func firstChunkError(failed []*storage.Chunk) string {
	for _, chunk := range failed {
		if chunk.LastError != "" {
			return chunk.LastError
		}
	}
	return "all chunks failed"
}
