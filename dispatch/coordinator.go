package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/phraseforge/storage"
)

// maxReportRetries bounds the CAS loop when many workers report outcomes
// against the same group document at once.
const maxReportRetries = 10

// ErrUnknownGroup is returned when an outcome targets a group that was
// never dispatched.
var ErrUnknownGroup = errors.New("unknown task group")

// groupDoc is the durable chord state. Outcomes are keyed by task ID so
// duplicate completion reports collapse onto one entry.
type groupDoc struct {
	GroupID   string             `json:"group_id"`
	JobID     string             `json:"job_id"`
	TaskIDs   []string           `json:"task_ids"`
	Callback  *Task              `json:"callback"`
	Outcomes  map[string]Outcome `json:"outcomes"`
	CreatedAt time.Time          `json:"created_at"`
}

// Coordinator implements the chord primitive: a fan-out group of tasks
// bound to a single callback invoked exactly once when every task has
// reported. Group state lives in KV; the fired marker is an atomic Create
// so only one reporter wins the right to publish the callback.
type Coordinator struct {
	kv     storage.KV
	queue  Queue
	logger *slog.Logger
}

// NewCoordinator creates a chord coordinator.
func NewCoordinator(kv storage.KV, queue Queue, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{kv: kv, queue: queue, logger: logger}
}

// DispatchSingle publishes one task outside any group and returns its id.
func (c *Coordinator) DispatchSingle(ctx context.Context, task *Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if err := c.queue.Publish(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// DispatchGroup persists the group document, then publishes every task
// with its group id set. The callback fires exactly once after all tasks
// report an outcome.
func (c *Coordinator) DispatchGroup(ctx context.Context, tasks []*Task, callback *Task) (string, error) {
	if len(tasks) == 0 {
		return "", fmt.Errorf("empty task group")
	}

	groupID := uuid.New().String()
	doc := &groupDoc{
		GroupID:   groupID,
		JobID:     callback.JobID,
		TaskIDs:   make([]string, len(tasks)),
		Callback:  callback,
		Outcomes:  make(map[string]Outcome),
		CreatedAt: time.Now(),
	}
	for i, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		task.GroupID = groupID
		doc.TaskIDs[i] = task.ID
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal group: %w", err)
	}
	if _, err := c.kv.Create(ctx, groupKey(groupID), data); err != nil {
		return "", fmt.Errorf("store group: %w", err)
	}

	for _, task := range tasks {
		if err := c.queue.Publish(ctx, task); err != nil {
			return "", fmt.Errorf("publish group task %s: %w", task.ID, err)
		}
	}
	return groupID, nil
}

// ReportOutcome records one task's terminal outcome. When the last
// outstanding task reports, the reporter that wins the fired-marker
// Create publishes the callback with the positional outcome list.
// Duplicate reports for the same task ID are no-ops.
func (c *Coordinator) ReportOutcome(ctx context.Context, groupID string, outcome Outcome) error {
	for attempt := 0; attempt < maxReportRetries; attempt++ {
		entry, err := c.kv.Get(ctx, groupKey(groupID))
		if err != nil {
			return ErrUnknownGroup
		}

		var doc groupDoc
		if err := json.Unmarshal(entry.Value(), &doc); err != nil {
			return fmt.Errorf("unmarshal group: %w", err)
		}

		if _, seen := doc.Outcomes[outcome.TaskID]; seen {
			return nil // duplicate completion report
		}
		if !containsTask(doc.TaskIDs, outcome.TaskID) {
			return fmt.Errorf("task %s not in group %s", outcome.TaskID, groupID)
		}

		doc.Outcomes[outcome.TaskID] = outcome
		data, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("marshal group: %w", err)
		}
		if _, err := c.kv.Update(ctx, groupKey(groupID), data, entry.Revision()); err != nil {
			continue // lost the race, re-read and retry
		}

		if len(doc.Outcomes) == len(doc.TaskIDs) {
			return c.fire(ctx, &doc)
		}
		return nil
	}
	return storage.ErrConflict
}

// fire publishes the callback exactly once per group via an atomic
// marker Create.
func (c *Coordinator) fire(ctx context.Context, doc *groupDoc) error {
	if _, err := c.kv.Create(ctx, firedKey(doc.GroupID), []byte(time.Now().Format(time.RFC3339))); err != nil {
		// Another reporter already fired the callback.
		return nil
	}

	callback := *doc.Callback
	callback.GroupID = doc.GroupID
	callback.Outcomes = make([]Outcome, 0, len(doc.TaskIDs))
	for _, taskID := range doc.TaskIDs {
		callback.Outcomes = append(callback.Outcomes, doc.Outcomes[taskID])
	}

	c.logger.Debug("Chord complete, dispatching callback",
		"group_id", doc.GroupID,
		"job_id", doc.JobID,
		"tasks", len(doc.TaskIDs))

	return c.queue.Publish(ctx, &callback)
}

// Revoke marks a task revoked. Best effort: a task already claimed may
// finish, its writes are reconciled by the finalizer.
func (c *Coordinator) Revoke(ctx context.Context, taskID string) error {
	if _, err := c.kv.Put(ctx, revokedKey(taskID), []byte("1")); err != nil {
		return fmt.Errorf("revoke task %s: %w", taskID, err)
	}
	return nil
}

// IsRevoked reports whether a task was revoked. Workers check this
// before starting work on a claimed task.
func (c *Coordinator) IsRevoked(ctx context.Context, taskID string) bool {
	_, err := c.kv.Get(ctx, revokedKey(taskID))
	return err == nil
}

// GroupTaskIDs returns the task ids of a dispatched group, in dispatch
// order. Used by cancel to revoke in-flight tasks.
func (c *Coordinator) GroupTaskIDs(ctx context.Context, groupID string) ([]string, error) {
	entry, err := c.kv.Get(ctx, groupKey(groupID))
	if err != nil {
		return nil, ErrUnknownGroup
	}
	var doc groupDoc
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal group: %w", err)
	}
	return doc.TaskIDs, nil
}

func groupKey(groupID string) string   { return "group." + groupID }
func firedKey(groupID string) string   { return "fired." + groupID }
func revokedKey(taskID string) string  { return "revoked." + taskID }

func containsTask(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
