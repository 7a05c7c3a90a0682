package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// CoverageStore persists coverage runs and their result documents. Runs
// live in one bucket; the (potentially large) assignment/selection result
// lives in a second bucket keyed by run ID, written exactly once when the
// run finishes.
type CoverageStore struct {
	runs    KV
	results KV
}

// NewCoverageStore creates a CoverageStore over the two buckets.
func NewCoverageStore(runs, results KV) *CoverageStore {
	return &CoverageStore{runs: runs, results: results}
}

// CreateRun persists a new coverage run in state pending.
func (s *CoverageStore) CreateRun(ctx context.Context, run *CoverageRun) (*CoverageRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.State = JobStatePending
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt

	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal coverage run: %w", err)
	}
	if _, err := s.runs.Create(ctx, run.ID, data); err != nil {
		return nil, fmt.Errorf("store coverage run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a coverage run by ID.
func (s *CoverageStore) GetRun(ctx context.Context, id string) (*CoverageRun, error) {
	entry, err := s.runs.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get coverage run: %w", err)
	}
	var run CoverageRun
	if err := json.Unmarshal(entry.Value(), &run); err != nil {
		return nil, fmt.Errorf("unmarshal coverage run: %w", err)
	}
	return &run, nil
}

// ListRuns returns all coverage runs for an owner, newest first.
func (s *CoverageStore) ListRuns(ctx context.Context, owner string) ([]*CoverageRun, error) {
	keys, err := s.runs.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list coverage run keys: %w", err)
	}

	runs := make([]*CoverageRun, 0, len(keys))
	for _, key := range keys {
		entry, err := s.runs.Get(ctx, key)
		if err != nil {
			continue
		}
		var run CoverageRun
		if err := json.Unmarshal(entry.Value(), &run); err != nil {
			continue
		}
		if run.Owner == owner {
			runs = append(runs, &run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// MutateRun applies fn to the run under optimistic locking. The same
// terminal-immutability and progress-monotonicity rules as jobs apply.
func (s *CoverageStore) MutateRun(ctx context.Context, id string, fn func(*CoverageRun) error) (*CoverageRun, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		entry, err := s.runs.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("get coverage run: %w", err)
		}

		var current CoverageRun
		if err := json.Unmarshal(entry.Value(), &current); err != nil {
			return nil, fmt.Errorf("unmarshal coverage run: %w", err)
		}

		updated := current
		if err := fn(&updated); err != nil {
			return nil, err
		}
		if current.State.IsTerminal() {
			return nil, ErrTerminal
		}
		if updated.ProgressPercent < current.ProgressPercent {
			return nil, fmt.Errorf("progress must not decrease (%d -> %d)", current.ProgressPercent, updated.ProgressPercent)
		}

		updated.UpdatedAt = time.Now()
		data, err := json.Marshal(&updated)
		if err != nil {
			return nil, fmt.Errorf("marshal coverage run: %w", err)
		}
		if _, err := s.runs.Update(ctx, id, data, entry.Revision()); err != nil {
			if isConflict(err) {
				continue
			}
			return nil, fmt.Errorf("update coverage run: %w", err)
		}
		return &updated, nil
	}
	return nil, ErrConflict
}

// FinishRun transitions a run to a terminal state with stats.
func (s *CoverageStore) FinishRun(ctx context.Context, id string, state JobState, stats *CoverageStats, errMsg string) (*CoverageRun, error) {
	if !state.IsTerminal() {
		return nil, fmt.Errorf("finish with non-terminal state %s: %w", state, ErrInvalidTransition)
	}
	return s.MutateRun(ctx, id, func(r *CoverageRun) error {
		now := time.Now()
		r.State = state
		r.Stats = stats
		r.ErrorMessage = errMsg
		r.CompletedAt = &now
		r.ProgressPercent = 100
		return nil
	})
}

// PutResult persists the run's result document exactly once.
func (s *CoverageStore) PutResult(ctx context.Context, result *CoverageResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal coverage result: %w", err)
	}
	if _, err := s.results.Create(ctx, result.RunID, data); err != nil {
		if isConflict(err) {
			return ErrConflict
		}
		return fmt.Errorf("store coverage result: %w", err)
	}
	return nil
}

// UpdateResult overwrites a run's result document. Used by manual
// assignment swaps.
func (s *CoverageStore) UpdateResult(ctx context.Context, result *CoverageResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal coverage result: %w", err)
	}
	if _, err := s.results.Put(ctx, result.RunID, data); err != nil {
		return fmt.Errorf("update coverage result: %w", err)
	}
	return nil
}

// GetResult retrieves a run's result document.
func (s *CoverageStore) GetResult(ctx context.Context, runID string) (*CoverageResult, error) {
	entry, err := s.results.Get(ctx, runID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get coverage result: %w", err)
	}
	var result CoverageResult
	if err := json.Unmarshal(entry.Value(), &result); err != nil {
		return nil, fmt.Errorf("unmarshal coverage result: %w", err)
	}
	return &result, nil
}
