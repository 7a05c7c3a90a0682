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

// maxCASRetries bounds optimistic-lock retry loops.
const maxCASRetries = 5

// JobStore provides durable Job persistence with invariant enforcement:
// terminal jobs accept no mutation except history_id, and progress is
// monotonic non-decreasing until terminal.
type JobStore struct {
	kv KV
}

// NewJobStore creates a JobStore over the given bucket.
func NewJobStore(kv KV) *JobStore {
	return &JobStore{kv: kv}
}

// Create persists a new Job in state pending and returns it.
func (s *JobStore) Create(ctx context.Context, job *Job) (*Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.State = JobStatePending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.kv.Create(ctx, job.ID, data); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}
	return job, nil
}

// Get retrieves a Job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// List returns all jobs for an owner, newest first.
func (s *JobStore) List(ctx context.Context, owner string) ([]*Job, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	jobs := make([]*Job, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(entry.Value(), &job); err != nil {
			continue
		}
		if job.Owner == owner {
			jobs = append(jobs, &job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// ListActive returns every job currently in the processing state,
// regardless of owner. The stuck-chunk watchdog scans these.
func (s *JobStore) ListActive(ctx context.Context) ([]*Job, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	var jobs []*Job
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(entry.Value(), &job); err != nil {
			continue
		}
		if job.State == JobStateProcessing {
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}

// Mutate applies fn to the current Job under optimistic locking and
// persists the result. Invariants are enforced after fn runs:
//   - a terminal job may only change its history_id
//   - progress_percent never decreases before terminal
//
// fn may be retried on CAS conflicts and must be side-effect free.
func (s *JobStore) Mutate(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		entry, err := s.kv.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("get job: %w", err)
		}

		var current Job
		if err := json.Unmarshal(entry.Value(), &current); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}

		updated := current
		if err := fn(&updated); err != nil {
			return nil, err
		}

		if err := checkJobInvariants(&current, &updated); err != nil {
			return nil, err
		}

		updated.UpdatedAt = time.Now()
		data, err := json.Marshal(&updated)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}

		if _, err := s.kv.Update(ctx, id, data, entry.Revision()); err != nil {
			if isConflict(err) {
				continue
			}
			return nil, fmt.Errorf("update job: %w", err)
		}
		return &updated, nil
	}
	return nil, ErrConflict
}

// checkJobInvariants validates a mutation against the frozen pre-image.
func checkJobInvariants(before, after *Job) error {
	if before.State.IsTerminal() {
		// Only history_id may change once terminal.
		frozen := *after
		frozen.HistoryID = before.HistoryID
		frozen.UpdatedAt = before.UpdatedAt
		beforeJSON, _ := json.Marshal(before)
		frozenJSON, _ := json.Marshal(&frozen)
		if string(beforeJSON) != string(frozenJSON) {
			return ErrTerminal
		}
		return nil
	}
	if after.ProgressPercent < before.ProgressPercent {
		return fmt.Errorf("progress must not decrease (%d -> %d)", before.ProgressPercent, after.ProgressPercent)
	}
	if after.ProcessedChunks > after.TotalChunks {
		return fmt.Errorf("processed_chunks %d exceeds total_chunks %d", after.ProcessedChunks, after.TotalChunks)
	}
	return nil
}

// Start transitions pending -> processing. Returns ErrTerminal if the job
// already left pending.
func (s *JobStore) Start(ctx context.Context, id, taskID string) (*Job, error) {
	return s.Mutate(ctx, id, func(j *Job) error {
		if j.State != JobStatePending {
			return ErrTerminal
		}
		now := time.Now()
		j.State = JobStateProcessing
		j.StartedAt = &now
		j.TaskID = taskID
		j.CurrentStep = "Processing"
		return nil
	})
}

// Finish transitions a processing job to a terminal state.
func (s *JobStore) Finish(ctx context.Context, id string, state JobState, step, errMsg string) (*Job, error) {
	if !state.IsTerminal() {
		return nil, fmt.Errorf("finish with non-terminal state %s: %w", state, ErrInvalidTransition)
	}
	return s.Mutate(ctx, id, func(j *Job) error {
		if j.State.IsTerminal() {
			return ErrTerminal
		}
		now := time.Now()
		j.State = state
		j.CurrentStep = step
		j.CompletedAt = &now
		j.ErrorMessage = errMsg
		j.ProgressPercent = 100
		return nil
	})
}

// SetHistoryID records the history reference. Allowed on terminal jobs.
func (s *JobStore) SetHistoryID(ctx context.Context, id, historyID string) (*Job, error) {
	return s.Mutate(ctx, id, func(j *Job) error {
		j.HistoryID = historyID
		return nil
	})
}

