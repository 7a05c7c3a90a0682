// Package dispatch binds the job orchestrator to a broker. It provides a
// work queue for chunk tasks, a chord primitive (fan-out group with an
// exactly-once callback), and best-effort task revocation.
package dispatch

import (
	"encoding/json"
	"fmt"
)

// Task types understood by workers.
const (
	TaskProcessChunk = "process_chunk"
	TaskFinalizeJob  = "finalize_job"
	TaskCoverageRun  = "coverage_run"
)

// Task is one unit of work on the queue.
type Task struct {
	// ID uniquely identifies this dispatch. A re-dispatched chunk gets a
	// new task ID.
	ID string `json:"id"`

	// Type selects the worker handler.
	Type string `json:"type"`

	// JobID is the owning job (process_chunk, finalize_job).
	JobID string `json:"job_id,omitempty"`

	// ChunkIndex identifies the chunk for process_chunk tasks.
	ChunkIndex int `json:"chunk_index,omitempty"`

	// GroupID ties the task to its chord, empty for singles.
	GroupID string `json:"group_id,omitempty"`

	// RetryRound is the orchestrator retry round that dispatched this task.
	RetryRound int `json:"retry_round,omitempty"`

	// RunID identifies the coverage run for coverage_run tasks.
	RunID string `json:"run_id,omitempty"`

	// Outcomes carries the positional chunk outcomes into a finalize
	// callback. Empty for all other task types.
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Outcome is one task's terminal report inside a chord. Advisory only:
// the chunk store remains the source of truth.
type Outcome struct {
	TaskID     string `json:"task_id"`
	ChunkIndex int    `json:"chunk_index"`
	Success    bool   `json:"success"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Encode serializes a task for the wire.
func (t *Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

// DecodeTask deserializes a task from the wire.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	if t.ID == "" || t.Type == "" {
		return nil, fmt.Errorf("task missing id or type")
	}
	return &t, nil
}
