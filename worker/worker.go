// Package worker runs the task loop: it claims tasks from the queue,
// processes chunk payloads through the extraction cascade, reports
// outcomes to the chord coordinator, and executes finalize and coverage
// tasks.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/phraseforge/config"
	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/extract"
	"github.com/c360studio/phraseforge/llm"
	"github.com/c360studio/phraseforge/metrics"
	"github.com/c360studio/phraseforge/orchestrate"
	"github.com/c360studio/phraseforge/storage"
)

// claimLostCode marks an outcome produced by a duplicate delivery that
// lost the chunk row lock. Never reported to the chord: the winning
// worker reports for this task.
const claimLostCode = "CLAIM_LOST"

// revokedCode marks an outcome for a task revoked by cancel.
const revokedCode = "REVOKED"

// CoverageRunner executes a dispatched coverage build.
type CoverageRunner interface {
	RunCoverage(ctx context.Context, runID string) error
}

// Worker consumes tasks from the queue. One Worker spawns MaxWorkers
// claim loops.
type Worker struct {
	cfg      config.WorkerConfig
	queue    dispatch.Queue
	coord    *dispatch.Coordinator
	chunks   *storage.ChunkStore
	orch     *orchestrate.Orchestrator
	engine   *extract.Engine
	coverage CoverageRunner
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a worker. coverage may be nil when the deployment runs no
// coverage builds.
func New(
	cfg config.WorkerConfig,
	queue dispatch.Queue,
	coord *dispatch.Coordinator,
	chunks *storage.ChunkStore,
	orch *orchestrate.Orchestrator,
	engine *extract.Engine,
	coverage CoverageRunner,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		coord:    coord,
		chunks:   chunks,
		orch:     orch,
		engine:   engine,
		coverage: coverage,
		logger:   logger,
	}
}

// SetMetrics wires Prometheus collectors. Nil disables instrumentation.
func (w *Worker) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

// Run blocks, claiming and executing tasks until the context ends.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.claimLoop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) claimLoop(ctx context.Context, slot int) {
	for {
		task, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, dispatch.ErrQueueClosed) {
				return
			}
			w.logger.Error("Task claim failed", "slot", slot, "error", err)
			continue
		}
		w.handle(ctx, task)
	}
}

// handle dispatches one claimed task to its handler.
func (w *Worker) handle(ctx context.Context, task *dispatch.Task) {
	switch task.Type {
	case dispatch.TaskProcessChunk:
		outcome := w.RunChunk(ctx, task)
		if outcome.ErrorCode == claimLostCode {
			return
		}
		if task.GroupID != "" {
			if err := w.coord.ReportOutcome(ctx, task.GroupID, outcome); err != nil {
				w.logger.Error("Outcome report failed",
					"task_id", task.ID, "group_id", task.GroupID, "error", err)
			}
		}
	case dispatch.TaskFinalizeJob:
		if err := w.orch.Finalize(ctx, task.JobID, task.Outcomes); err != nil {
			w.logger.Error("Finalize failed", "job_id", task.JobID, "error", err)
		}
	case dispatch.TaskCoverageRun:
		if w.coverage == nil {
			w.logger.Error("Coverage task with no runner configured", "run_id", task.RunID)
			return
		}
		if err := w.coverage.RunCoverage(ctx, task.RunID); err != nil {
			w.logger.Error("Coverage run failed", "run_id", task.RunID, "error", err)
		}
	default:
		w.logger.Error("Unknown task type", "type", task.Type, "task_id", task.ID)
	}
}

// RunChunk claims the chunk row, runs the extraction cascade on its
// payload, and persists the result. Also the in-process path for
// single-chunk jobs.
func (w *Worker) RunChunk(ctx context.Context, task *dispatch.Task) dispatch.Outcome {
	outcome := dispatch.Outcome{TaskID: task.ID, ChunkIndex: task.ChunkIndex}

	if w.coord != nil && w.coord.IsRevoked(ctx, task.ID) {
		outcome.ErrorCode = revokedCode
		outcome.Error = "task revoked"
		return outcome
	}

	chunk, err := w.chunks.Claim(ctx, task.JobID, task.ChunkIndex, task.ID)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Duplicate delivery: another worker holds the row lock.
			w.logger.Debug("Chunk claim lost",
				"job_id", task.JobID, "chunk_index", task.ChunkIndex)
			outcome.ErrorCode = claimLostCode
			return outcome
		}
		outcome.Error = err.Error()
		outcome.ErrorCode = storage.ErrCodeProcessingError
		return outcome
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()
	taskCtx = llm.WithJobID(taskCtx, task.JobID)
	taskCtx = llm.WithChunkID(taskCtx, chunk.ID)

	softTimer := time.AfterFunc(w.cfg.SoftTimeout, func() {
		w.logger.Warn("Chunk task passed soft timeout",
			"job_id", task.JobID, "chunk_index", task.ChunkIndex)
	})
	defer softTimer.Stop()

	started := time.Now()
	result, err := w.processPayload(taskCtx, chunk)
	if err != nil {
		code := errorCode(err)
		w.observeChunk("failed", code, started, 0)
		if _, markErr := w.chunks.MarkFailed(ctx, task.JobID, task.ChunkIndex, err.Error(), code); markErr != nil {
			w.logger.Error("Failed to persist chunk error",
				"job_id", task.JobID, "chunk_index", task.ChunkIndex, "error", markErr)
		}
		w.orch.RecordChunkDone(ctx, task.JobID)
		outcome.Error = err.Error()
		outcome.ErrorCode = code
		return outcome
	}

	if _, err := w.chunks.MarkSuccess(ctx, task.JobID, task.ChunkIndex, result); err != nil {
		outcome.Error = err.Error()
		outcome.ErrorCode = storage.ErrCodeProcessingError
		return outcome
	}
	w.orch.RecordChunkDone(ctx, task.JobID)
	w.observeChunk("success", "", started, result.TokenCount)

	outcome.Success = true
	return outcome
}

func (w *Worker) observeChunk(result, code string, started time.Time, tokens int) {
	if w.metrics == nil {
		return
	}
	w.metrics.ChunkOutcomes.WithLabelValues(result, code).Inc()
	w.metrics.ChunkDuration.Observe(time.Since(started).Seconds())
	if tokens > 0 {
		w.metrics.LLMTokens.Add(float64(tokens))
	}
}

// processPayload decodes the chunk payload and runs the cascade,
// loading job settings from the chunk's job.
func (w *Worker) processPayload(ctx context.Context, chunk *storage.Chunk) (*storage.ChunkResult, error) {
	if chunk.Payload == "" {
		return nil, extract.ErrNoText
	}
	text, err := base64.StdEncoding.DecodeString(chunk.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode chunk payload: %w", err)
	}

	settings, err := w.jobSettings(ctx, chunk.JobID)
	if err != nil {
		return nil, err
	}

	extracted, err := w.engine.Extract(ctx, string(text), settings)
	if err != nil {
		return nil, err
	}

	return &storage.ChunkResult{
		Sentences:      extracted.Sentences,
		TokenCount:     extracted.TokenCount,
		StartPage:      chunk.StartPage,
		EndPage:        chunk.EndPage,
		FallbackMarker: extracted.FallbackMarker,
	}, nil
}

// jobSettings resolves the processing settings for a chunk's job.
func (w *Worker) jobSettings(ctx context.Context, jobID string) (storage.ProcessingSettings, error) {
	job, err := w.orch.Job(ctx, jobID)
	if err != nil {
		return storage.ProcessingSettings{}, fmt.Errorf("load job settings: %w", err)
	}
	return job.Settings, nil
}

// errorCode maps a processing error to its stable chunk error code.
func errorCode(err error) string {
	if errors.Is(err, extract.ErrNoText) {
		return storage.ErrCodeNoText
	}
	return llm.ErrorCode(err)
}
