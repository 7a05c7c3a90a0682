package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ChunkStore provides durable per-chunk state with serialized transitions.
// Every transition acquires the row via a KV revision and commits with
// compare-and-swap; conflicting writers observe one winner and the loser
// receives ErrConflict.
//
// State machine:
//
//	pending ──dispatch──► processing ──ok──► success     (terminal-ok)
//	                            │
//	                            └──err──► failed ──schedule──► retry_scheduled ──dispatch──► processing
type ChunkStore struct {
	kv KV

	// Jobs whose batch the durable bucket rejected keep their rows in a
	// process-local fallback bucket (degraded persistence mode).
	mu        sync.Mutex
	fallback  KV
	ephemeral map[string]struct{}
}

// NewChunkStore creates a ChunkStore over the given bucket.
func NewChunkStore(kv KV) *ChunkStore {
	return &ChunkStore{kv: kv}
}

// ChunkKey builds the KV key for a chunk. The zero-padded index keeps
// lexicographic ordering equal to chunk order.
func ChunkKey(jobID string, index int) string {
	return fmt.Sprintf("%s.%06d", jobID, index)
}

// CreateBatch persists all chunks of a job before any dispatch. When the
// durable bucket rejects the batch the rows move to a process-local
// fallback store and the job runs in degraded persistence mode;
// IsEphemeral reports that. A conflict (the batch was already created)
// still fails: a replayed upload is not a broken bucket.
func (s *ChunkStore) CreateBatch(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	err := s.createAll(ctx, s.kv, chunks)
	if err == nil || isConflict(err) {
		return err
	}

	jobID := chunks[0].JobID
	s.mu.Lock()
	if s.fallback == nil {
		s.fallback = NewMemKV(BucketChunks)
	}
	if s.ephemeral == nil {
		s.ephemeral = make(map[string]struct{})
	}
	s.ephemeral[jobID] = struct{}{}
	fallback := s.fallback
	s.mu.Unlock()

	if fbErr := s.createAll(ctx, fallback, chunks); fbErr != nil {
		s.forget(jobID)
		return fbErr
	}
	return nil
}

func (s *ChunkStore) createAll(ctx context.Context, kv KV, chunks []*Chunk) error {
	created := make([]string, 0, len(chunks))
	now := time.Now()

	for _, chunk := range chunks {
		chunk.ID = ChunkKey(chunk.JobID, chunk.Index)
		chunk.State = ChunkStatePending
		chunk.CreatedAt = now
		chunk.UpdatedAt = now
		if chunk.MaxRetries == 0 {
			chunk.MaxRetries = 3
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			s.rollback(ctx, kv, created)
			return fmt.Errorf("marshal chunk %d: %w", chunk.Index, err)
		}
		if _, err := kv.Create(ctx, chunk.ID, data); err != nil {
			s.rollback(ctx, kv, created)
			return fmt.Errorf("store chunk %d: %w", chunk.Index, err)
		}
		created = append(created, chunk.ID)
	}
	return nil
}

func (s *ChunkStore) rollback(ctx context.Context, kv KV, keys []string) {
	for _, key := range keys {
		_ = kv.Delete(ctx, key)
	}
}

// IsEphemeral reports whether the job's chunk rows live in the
// process-local fallback store rather than the durable bucket.
func (s *ChunkStore) IsEphemeral(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ephemeral[jobID]
	return ok
}

// bucketFor returns the KV bucket holding the job's chunk rows.
func (s *ChunkStore) bucketFor(jobID string) KV {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ephemeral[jobID]; ok {
		return s.fallback
	}
	return s.kv
}

func (s *ChunkStore) forget(jobID string) {
	s.mu.Lock()
	delete(s.ephemeral, jobID)
	s.mu.Unlock()
}

// Get retrieves one chunk.
func (s *ChunkStore) Get(ctx context.Context, jobID string, index int) (*Chunk, error) {
	chunk, _, err := s.load(ctx, s.bucketFor(jobID), ChunkKey(jobID, index))
	return chunk, err
}

// ListByJob returns all chunks of a job ordered by chunk_index.
func (s *ChunkStore) ListByJob(ctx context.Context, jobID string) ([]*Chunk, error) {
	kv := s.bucketFor(jobID)
	keys, err := kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list chunk keys: %w", err)
	}

	prefix := jobID + "."
	var chunks []*Chunk
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		chunk, _, err := s.load(ctx, kv, key)
		if err != nil {
			continue
		}
		chunks = append(chunks, chunk)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// Claim transitions pending|retry_scheduled -> processing, incrementing
// the attempt counter and recording the dispatched task id. A concurrent
// claimer loses with ErrConflict.
func (s *ChunkStore) Claim(ctx context.Context, jobID string, index int, taskID string) (*Chunk, error) {
	return s.transition(ctx, jobID, index, func(c *Chunk) error {
		if c.State != ChunkStatePending && c.State != ChunkStateRetryScheduled {
			return fmt.Errorf("claim chunk in state %s: %w", c.State, ErrInvalidTransition)
		}
		c.State = ChunkStateProcessing
		c.Attempts++
		c.TaskID = taskID
		return nil
	})
}

// MarkSuccess transitions processing -> success, writing the result and
// clearing error fields. A chunk already in success keeps its original
// result (at-most-once successful persistence); the duplicate report is a
// no-op.
func (s *ChunkStore) MarkSuccess(ctx context.Context, jobID string, index int, result *ChunkResult) (*Chunk, error) {
	chunk, _, err := s.load(ctx, s.bucketFor(jobID), ChunkKey(jobID, index))
	if err != nil {
		return nil, err
	}
	if chunk.State == ChunkStateSuccess {
		return chunk, nil
	}

	return s.transition(ctx, jobID, index, func(c *Chunk) error {
		if c.State == ChunkStateSuccess {
			return nil // duplicate completion report
		}
		if c.State != ChunkStateProcessing {
			return fmt.Errorf("complete chunk in state %s: %w", c.State, ErrInvalidTransition)
		}
		now := time.Now()
		c.State = ChunkStateSuccess
		c.Result = result
		c.ProcessedAt = &now
		c.LastError = ""
		c.LastErrorCode = ""
		return nil
	})
}

// MarkFailed transitions processing -> failed with a classified error.
func (s *ChunkStore) MarkFailed(ctx context.Context, jobID string, index int, errMsg, errCode string) (*Chunk, error) {
	return s.transition(ctx, jobID, index, func(c *Chunk) error {
		if c.State == ChunkStateFailed {
			return nil // duplicate failure report
		}
		if c.State != ChunkStateProcessing {
			return fmt.Errorf("fail chunk in state %s: %w", c.State, ErrInvalidTransition)
		}
		c.State = ChunkStateFailed
		c.LastError = errMsg
		c.LastErrorCode = errCode
		return nil
	})
}

// ScheduleRetry transitions failed -> retry_scheduled without touching the
// attempt counter. Without force the chunk must have attempts left.
// Scheduling a chunk already in retry_scheduled is a no-op, so repeated
// manual retries do not re-dispatch.
func (s *ChunkStore) ScheduleRetry(ctx context.Context, jobID string, index int, force bool) (*Chunk, bool, error) {
	scheduled := false
	chunk, err := s.transition(ctx, jobID, index, func(c *Chunk) error {
		if c.State == ChunkStateRetryScheduled {
			return nil // already scheduled, idempotent
		}
		if c.State != ChunkStateFailed {
			return fmt.Errorf("retry chunk in state %s: %w", c.State, ErrInvalidTransition)
		}
		if !force && c.Attempts >= c.MaxRetries {
			return ErrRetriesExhausted
		}
		c.State = ChunkStateRetryScheduled
		scheduled = true
		return nil
	})
	return chunk, scheduled, err
}

// SweepStuck transitions chunks stuck in processing longer than threshold
// to failed with a worker-timeout error. Returns the swept chunks.
func (s *ChunkStore) SweepStuck(ctx context.Context, jobID string, threshold time.Duration) ([]*Chunk, error) {
	chunks, err := s.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-threshold)
	var swept []*Chunk
	for _, chunk := range chunks {
		if chunk.State != ChunkStateProcessing || chunk.UpdatedAt.After(cutoff) {
			continue
		}
		updated, err := s.transition(ctx, jobID, chunk.Index, func(c *Chunk) error {
			if c.State != ChunkStateProcessing || c.UpdatedAt.After(cutoff) {
				return nil // another observer got there first
			}
			c.State = ChunkStateFailed
			c.LastError = "worker timeout"
			c.LastErrorCode = ErrCodeTimeout
			return nil
		})
		if err != nil {
			continue
		}
		if updated.State == ChunkStateFailed && updated.LastErrorCode == ErrCodeTimeout {
			swept = append(swept, updated)
		}
	}
	return swept, nil
}

// DeleteByJob removes all chunk rows of a job. Used by retention cleanup
// once the job's history snapshot exists.
func (s *ChunkStore) DeleteByJob(ctx context.Context, jobID string) error {
	kv := s.bucketFor(jobID)
	chunks, err := s.ListByJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := kv.Delete(ctx, chunk.ID); err != nil {
			return fmt.Errorf("delete chunk %s: %w", chunk.ID, err)
		}
	}
	s.forget(jobID)
	return nil
}

// load reads a chunk and its revision.
func (s *ChunkStore) load(ctx context.Context, kv KV, key string) (*Chunk, uint64, error) {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get chunk: %w", err)
	}
	var chunk Chunk
	if err := json.Unmarshal(entry.Value(), &chunk); err != nil {
		return nil, 0, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &chunk, entry.Revision(), nil
}

// transition applies fn to the chunk under the row lock and commits once.
// There is deliberately no CAS retry loop: a lost race means another
// writer changed the chunk's state, and the transition precondition must
// be re-evaluated by the caller, not replayed blindly.
func (s *ChunkStore) transition(ctx context.Context, jobID string, index int, fn func(*Chunk) error) (*Chunk, error) {
	kv := s.bucketFor(jobID)
	key := ChunkKey(jobID, index)
	chunk, revision, err := s.load(ctx, kv, key)
	if err != nil {
		return nil, err
	}

	before := *chunk
	if err := fn(chunk); err != nil {
		return nil, err
	}
	if chunk.State == before.State && chunk.Attempts == before.Attempts {
		// fn declined to change anything (idempotent no-op).
		return chunk, nil
	}
	if before.Attempts > chunk.Attempts {
		return nil, fmt.Errorf("attempt counter must be monotonic: %w", ErrInvalidTransition)
	}

	chunk.UpdatedAt = time.Now()
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk: %w", err)
	}
	if _, err := kv.Update(ctx, key, data, revision); err != nil {
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update chunk: %w", err)
	}
	return chunk, nil
}
