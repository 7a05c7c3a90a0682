package coverage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/phraseforge/dispatch"
	"github.com/c360studio/phraseforge/history"
	"github.com/c360studio/phraseforge/metrics"
	"github.com/c360studio/phraseforge/normalize"
	"github.com/c360studio/phraseforge/progress"
	"github.com/c360studio/phraseforge/storage"
)

// ErrModeMismatch is returned when an operation requires the other
// coverage mode.
var ErrModeMismatch = errors.New("operation not valid for this coverage mode")

// ErrSwapTarget is returned when a swap targets a sentence that does not
// contain the word key.
var ErrSwapTarget = errors.New("target sentence does not contain the word key")

// Service runs the coverage engine against persisted runs: dispatching,
// execution, and manual assignment swaps.
type Service struct {
	store     *storage.CoverageStore
	wordlists *storage.WordListStore
	jobs      *storage.JobStore
	chunks    *storage.ChunkStore
	histories *history.Service
	coord     *dispatch.Coordinator
	bus       progress.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService creates a coverage service. bus may be nil when no progress
// push is wanted.
func NewService(
	store *storage.CoverageStore,
	wordlists *storage.WordListStore,
	jobs *storage.JobStore,
	chunks *storage.ChunkStore,
	histories *history.Service,
	coord *dispatch.Coordinator,
	bus progress.Bus,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		wordlists: wordlists,
		jobs:      jobs,
		chunks:    chunks,
		histories: histories,
		coord:     coord,
		bus:       bus,
		logger:    logger,
	}
}

// SetMetrics wires Prometheus collectors. Nil disables instrumentation.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// StartRun validates and persists a new run, then dispatches its build
// task. Returns the created run and the task id.
func (s *Service) StartRun(ctx context.Context, run *storage.CoverageRun) (*storage.CoverageRun, string, error) {
	if run.Mode != storage.CoverageModeCover && run.Mode != storage.CoverageModeFilter {
		return nil, "", fmt.Errorf("unknown coverage mode %q", run.Mode)
	}
	if run.SourceType != storage.CoverageSourceJob && run.SourceType != storage.CoverageSourceHistory {
		return nil, "", fmt.Errorf("unknown source type %q", run.SourceType)
	}
	if run.SourceID == "" {
		return nil, "", fmt.Errorf("missing source id")
	}
	applyConfigDefaults(&run.Config)

	if run.WordListID != "" {
		if _, err := s.wordlists.Get(ctx, run.WordListID); err != nil {
			return nil, "", fmt.Errorf("word list %s: %w", run.WordListID, err)
		}
	}
	if _, _, err := s.loadSource(ctx, run); err != nil {
		return nil, "", err
	}

	created, err := s.store.CreateRun(ctx, run)
	if err != nil {
		return nil, "", err
	}

	taskID, err := s.coord.DispatchSingle(ctx, &dispatch.Task{
		Type:  dispatch.TaskCoverageRun,
		RunID: created.ID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("dispatch coverage task: %w", err)
	}

	updated, err := s.store.MutateRun(ctx, created.ID, func(r *storage.CoverageRun) error {
		r.TaskID = taskID
		return nil
	})
	if err != nil {
		return created, taskID, nil
	}
	return updated, taskID, nil
}

// RunCoverage executes a dispatched run end to end. Implements the
// worker's coverage runner contract.
func (s *Service) RunCoverage(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.State.IsTerminal() {
		return nil // duplicate delivery
	}

	run, err = s.store.MutateRun(ctx, runID, func(r *storage.CoverageRun) error {
		if r.State != storage.JobStatePending {
			return storage.ErrInvalidTransition
		}
		now := time.Now()
		r.State = storage.JobStateProcessing
		r.StartedAt = &now
		r.CurrentStep = "Loading sentences"
		r.ProgressPercent = 10
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			return nil // another worker claimed the run
		}
		return err
	}
	s.emitRun(ctx, run)

	sentences, sourceState, err := s.loadSource(ctx, run)
	if err != nil {
		return s.fail(ctx, runID, fmt.Errorf("load sentences: %w", err))
	}

	listKeys, wordlist, err := s.loadKeys(ctx, run)
	if err != nil {
		return s.fail(ctx, runID, err)
	}
	n := s.normalizerFor(wordlist)

	run, err = s.store.MutateRun(ctx, runID, func(r *storage.CoverageRun) error {
		r.CurrentStep = "Selecting sentences"
		r.ProgressPercent = 40
		return nil
	})
	if err != nil {
		return err
	}
	s.emitRun(ctx, run)

	result := &storage.CoverageResult{RunID: runID}
	var stats *storage.CoverageStats
	switch run.Mode {
	case storage.CoverageModeCover:
		result.Assignments, stats = Cover(sentences, listKeys, run.Config, n)
	case storage.CoverageModeFilter:
		result.Selected, stats = Filter(sentences, listKeys, run.Config, n)
	}
	stats.SourceState = sourceState

	if err := s.store.PutResult(ctx, result); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return s.fail(ctx, runID, fmt.Errorf("persist result: %w", err))
		}
	}

	finished, err := s.store.FinishRun(ctx, runID, storage.JobStateCompleted, stats, "")
	if err != nil {
		return err
	}
	s.emitRun(ctx, finished)
	if s.metrics != nil {
		s.metrics.CoverageRuns.WithLabelValues(string(run.Mode), string(storage.JobStateCompleted)).Inc()
	}

	s.logger.Info("Coverage run finished",
		"run_id", runID,
		"mode", run.Mode,
		"selected", stats.SelectedCount,
		"covered", stats.CoveredWords,
		"runtime_ms", stats.RuntimeMs)
	return nil
}

// Swap reassigns one word key to a different selected sentence. Coverage
// mode only; the target sentence must contain the key.
func (s *Service) Swap(ctx context.Context, runID, wordKey string, newIndex int) (*storage.CoverageResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Mode != storage.CoverageModeCover {
		return nil, ErrModeMismatch
	}

	result, err := s.store.GetResult(ctx, runID)
	if err != nil {
		return nil, err
	}

	var target *storage.CoverageAssignment
	var targetText string
	for i := range result.Assignments {
		assignment := &result.Assignments[i]
		if assignment.WordKey == wordKey {
			target = assignment
		}
		if assignment.SentenceIndex == newIndex {
			targetText = assignment.SentenceText
		}
	}
	if target == nil {
		return nil, storage.ErrNotFound
	}
	if targetText == "" {
		return nil, ErrSwapTarget
	}

	_, wordlist, err := s.loadKeys(ctx, run)
	if err != nil {
		return nil, err
	}
	n := s.normalizerFor(wordlist)
	if !sentenceHasKey(n, targetText, wordKey) {
		return nil, ErrSwapTarget
	}

	target.SentenceIndex = newIndex
	target.SentenceText = targetText
	if err := s.store.UpdateResult(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Run returns the run row.
func (s *Service) Run(ctx context.Context, runID string) (*storage.CoverageRun, error) {
	return s.store.GetRun(ctx, runID)
}

// Runs lists an owner's runs, newest first.
func (s *Service) Runs(ctx context.Context, owner string) ([]*storage.CoverageRun, error) {
	return s.store.ListRuns(ctx, owner)
}

// Result returns a run's result document.
func (s *Service) Result(ctx context.Context, runID string) (*storage.CoverageResult, error) {
	return s.store.GetResult(ctx, runID)
}

// fail lands the run on its failed terminal state.
func (s *Service) fail(ctx context.Context, runID string, cause error) error {
	s.logger.Error("Coverage run failed", "run_id", runID, "error", cause)
	finished, err := s.store.FinishRun(ctx, runID, storage.JobStateFailed, nil, cause.Error())
	if err != nil {
		return err
	}
	s.emitRun(ctx, finished)
	if s.metrics != nil {
		s.metrics.CoverageRuns.WithLabelValues(string(finished.Mode), string(storage.JobStateFailed)).Inc()
	}
	return cause
}

// loadSource resolves the run's sentence corpus and the source's
// terminal state (a partial job is allowed, the caveat lands in stats).
func (s *Service) loadSource(ctx context.Context, run *storage.CoverageRun) ([]storage.Sentence, string, error) {
	switch run.SourceType {
	case storage.CoverageSourceJob:
		job, err := s.jobs.Get(ctx, run.SourceID)
		if err != nil {
			return nil, "", err
		}
		chunks, err := s.chunks.ListByJob(ctx, job.ID)
		if err != nil {
			return nil, "", err
		}
		merged := history.MergeChunks(chunks, history.DefaultDedupWindow)
		if len(merged.Sentences) == 0 {
			return nil, "", fmt.Errorf("job %s has no sentences", job.ID)
		}
		return merged.Sentences, string(job.State), nil

	case storage.CoverageSourceHistory:
		view, err := s.histories.Read(ctx, run.SourceID, true)
		if err != nil {
			return nil, "", err
		}
		if len(view.History.Sentences) == 0 {
			return nil, "", fmt.Errorf("history %s has no sentences", run.SourceID)
		}
		return view.History.Sentences, "", nil
	}
	return nil, "", fmt.Errorf("unknown source type %q", run.SourceType)
}

// loadKeys resolves the run's word list. A run without a word list gets
// an empty key set; filter mode then scores by length only.
func (s *Service) loadKeys(ctx context.Context, run *storage.CoverageRun) ([]string, *storage.WordList, error) {
	if run.WordListID == "" {
		return nil, nil, nil
	}
	wordlist, err := s.wordlists.Get(ctx, run.WordListID)
	if err != nil {
		return nil, nil, fmt.Errorf("word list %s: %w", run.WordListID, err)
	}
	return wordlist.Keys(), wordlist, nil
}

// normalizerFor builds a normalizer matching the word list's ingestion
// settings so sentence tokens and list keys agree.
func (s *Service) normalizerFor(wordlist *storage.WordList) *normalize.Normalizer {
	if wordlist == nil {
		return normalize.NewDefault()
	}
	var lemmatizer normalize.Lemmatizer
	if wordlist.Mode == normalize.ModeLemma {
		lemmatizer = normalize.NewDictLemmatizer()
	}
	return normalize.New(normalize.Options{
		Mode:           wordlist.Mode,
		FoldDiacritics: wordlist.FoldDiacritics,
	}, lemmatizer)
}

func sentenceHasKey(n *normalize.Normalizer, text, key string) bool {
	for _, token := range n.TokenizeSentence(text) {
		if token == key {
			return true
		}
	}
	return false
}

// emitRun publishes run progress in the run's own room.
func (s *Service) emitRun(ctx context.Context, run *storage.CoverageRun) {
	if s.bus == nil {
		return
	}
	event := &progress.Event{
		JobID:           run.ID,
		State:           run.State,
		ProgressPercent: run.ProgressPercent,
		CurrentStep:     run.CurrentStep,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish coverage progress", "run_id", run.ID, "error", err)
	}
}

func applyConfigDefaults(cfg *storage.CoverageConfig) {
	defaults := storage.DefaultCoverageConfig()
	if cfg.Alpha == 0 && cfg.Beta == 0 && cfg.Gamma == 0 && cfg.TargetLength == 0 {
		cfg.Alpha, cfg.Beta, cfg.Gamma = defaults.Alpha, defaults.Beta, defaults.Gamma
	}
	if cfg.TargetLength == 0 {
		cfg.TargetLength = defaults.TargetLength
	}
	if cfg.MaxSentences == 0 {
		cfg.MaxSentences = defaults.MaxSentences
	}
	if cfg.MinInListRatio == 0 {
		cfg.MinInListRatio = defaults.MinInListRatio
	}
	if cfg.LenMin == 0 {
		cfg.LenMin = defaults.LenMin
	}
	if cfg.LenMax == 0 {
		cfg.LenMax = defaults.LenMax
	}
	if cfg.TargetCount == 0 {
		cfg.TargetCount = defaults.TargetCount
	}
}
