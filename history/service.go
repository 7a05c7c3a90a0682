package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/phraseforge/storage"
)

// Source labels where a history view's sentences came from.
const (
	SourceLiveChunks = "live_chunks"
	SourceSnapshot   = "snapshot"
)

// View is a history read: the entry plus where its sentences were
// resolved from.
type View struct {
	History *storage.History
	Source  string
}

// Service builds, reads and refreshes History snapshots.
type Service struct {
	histories   *storage.HistoryStore
	chunks      *storage.ChunkStore
	dedupWindow int
	logger      *slog.Logger
}

// NewService creates a history service. window <= 0 selects the default
// overlap dedup window.
func NewService(histories *storage.HistoryStore, chunks *storage.ChunkStore, window int, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{histories: histories, chunks: chunks, dedupWindow: window, logger: logger}
}

// Snapshot merges the job's chunks and persists the result as a new
// History. The finalizer calls this once, on the first
// terminal-with-results transition.
func (s *Service) Snapshot(ctx context.Context, job *storage.Job) (*storage.History, error) {
	chunks, err := s.chunks.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load chunks for snapshot: %w", err)
	}

	merged := MergeChunks(chunks, s.dedupWindow)
	if len(merged.Sentences) == 0 {
		return nil, fmt.Errorf("job %s has no successful sentences to snapshot", job.ID)
	}

	chunkIDs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunkIDs = append(chunkIDs, chunk.ID)
	}

	entry := &storage.History{
		Owner:        job.Owner,
		JobID:        job.ID,
		Filename:     job.Filename,
		Sentences:    merged.Sentences,
		ChunkIDs:     chunkIDs,
		Settings:     job.Settings,
		ErrorSummary: failureSummary(merged.FailedIndices),
	}
	created, err := s.histories.Create(ctx, entry)
	if err != nil {
		return nil, err
	}

	s.logger.Info("History snapshot created",
		"history_id", created.ID,
		"job_id", job.ID,
		"sentences", created.SentenceCount,
		"dropped_dupes", merged.DroppedDupes,
		"failed_chunks", len(merged.FailedIndices))
	return created, nil
}

// Read returns a history view. With useLive, and when every referenced
// chunk is still accessible, sentences are rebuilt from current chunk
// state; otherwise the stored snapshot is served.
func (s *Service) Read(ctx context.Context, historyID string, useLive bool) (*View, error) {
	entry, err := s.histories.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}

	if useLive && len(entry.ChunkIDs) > 0 {
		if live, ok := s.rebuild(ctx, entry); ok {
			rebuilt := *entry
			rebuilt.Sentences = live.Sentences
			rebuilt.SentenceCount = len(live.Sentences)
			return &View{History: &rebuilt, Source: SourceLiveChunks}, nil
		}
	}
	return &View{History: entry, Source: SourceSnapshot}, nil
}

// Refresh rebuilds the snapshot from current chunks and overwrites the
// stored sentences. Returns the updated entry.
func (s *Service) Refresh(ctx context.Context, historyID string) (*storage.History, error) {
	entry, err := s.histories.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}

	live, ok := s.rebuild(ctx, entry)
	if !ok {
		return nil, fmt.Errorf("chunks for history %s are no longer accessible", historyID)
	}

	entry.Sentences = live.Sentences
	entry.ErrorSummary = failureSummary(live.FailedIndices)
	return s.histories.Update(ctx, entry)
}

// MarkExported records a finished export artifact on the entry.
func (s *Service) MarkExported(ctx context.Context, historyID, url string) (*storage.History, error) {
	entry, err := s.histories.Get(ctx, historyID)
	if err != nil {
		return nil, err
	}
	entry.Exported = true
	entry.ExportURL = url
	return s.histories.Update(ctx, entry)
}

// Delete removes a history entry.
func (s *Service) Delete(ctx context.Context, historyID string) error {
	return s.histories.Delete(ctx, historyID)
}

// Get returns the stored entry without source resolution.
func (s *Service) Get(ctx context.Context, historyID string) (*storage.History, error) {
	return s.histories.Get(ctx, historyID)
}

// List returns an owner's histories, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]*storage.History, error) {
	return s.histories.List(ctx, owner)
}

// rebuild re-merges from the job's current chunks. ok is false when any
// referenced chunk cannot be loaded, in which case callers fall back to
// the snapshot.
func (s *Service) rebuild(ctx context.Context, entry *storage.History) (*MergeResult, bool) {
	chunks, err := s.chunks.ListByJob(ctx, entry.JobID)
	if err != nil || len(chunks) == 0 {
		return nil, false
	}

	present := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		present[chunk.ID] = struct{}{}
	}
	for _, id := range entry.ChunkIDs {
		if _, ok := present[id]; !ok {
			return nil, false
		}
	}
	return MergeChunks(chunks, s.dedupWindow), true
}

func failureSummary(failed []int) string {
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, len(failed))
	for i, index := range failed {
		parts[i] = fmt.Sprintf("%d", index)
	}
	return fmt.Sprintf("%d chunk(s) failed: indices %s", len(failed), strings.Join(parts, ", "))
}
