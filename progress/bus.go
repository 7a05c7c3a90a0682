// Package progress implements the room-scoped progress push channel:
// a broker-backed bus so any orchestrator replica's emit reaches every
// subscriber, and a websocket hub that forwards room events to
// authenticated connections.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/phraseforge/storage"
)

// Event is one progress update for a job. Intermediate events carry the
// counters; terminal events carry the full job snapshot.
type Event struct {
	JobID           string           `json:"job_id"`
	State           storage.JobState `json:"state"`
	ProgressPercent int              `json:"progress_percent"`
	CurrentStep     string           `json:"current_step"`
	ProcessedChunks int              `json:"processed_chunks,omitempty"`
	TotalChunks     int              `json:"total_chunks,omitempty"`

	// Job is the full snapshot, set on terminal events only.
	Job *storage.Job `json:"job,omitempty"`
}

// Terminal reports whether this event closes the job's progress stream.
func (e *Event) Terminal() bool {
	return e.State.IsTerminal()
}

// EventFromJob builds a progress event from a job's current state,
// attaching the snapshot when the state is terminal.
func EventFromJob(job *storage.Job) *Event {
	e := &Event{
		JobID:           job.ID,
		State:           job.State,
		ProgressPercent: job.ProgressPercent,
		CurrentStep:     job.CurrentStep,
		ProcessedChunks: job.ProcessedChunks,
		TotalChunks:     job.TotalChunks,
	}
	if job.State.IsTerminal() {
		e.Job = job
	}
	return e
}

// Bus fans progress events out to room subscribers. Within one room,
// events reach each subscriber in emit order.
type Bus interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(jobID string, fn func(*Event)) (func(), error)
}

// progressSubject builds the broker subject for a job's room.
func progressSubject(jobID string) string {
	return fmt.Sprintf("phraseforge.progress.job.%s", jobID)
}

// NATSBus is the shared substrate: rooms are core NATS subjects, so
// events published by any replica reach the hubs of all replicas.
type NATSBus struct {
	nc *nats.Conn
}

// NewNATSBus creates a bus over a core NATS connection.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := b.nc.Publish(progressSubject(event.JobID), data); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Subscribe implements Bus. The returned function cancels the
// subscription.
func (b *NATSBus) Subscribe(jobID string, fn func(*Event)) (func(), error) {
	sub, err := b.nc.Subscribe(progressSubject(jobID), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		fn(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe progress room: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// MemBus is an in-process bus for tests and embedded single-node mode.
// Delivery is synchronous in emit order.
type MemBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(*Event)
}

// NewMemBus creates an empty in-memory bus.
func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[string]map[int]func(*Event))}
}

// Publish implements Bus.
func (b *MemBus) Publish(_ context.Context, event *Event) error {
	b.mu.RLock()
	handlers := make([]func(*Event), 0, len(b.subs[event.JobID]))
	for _, fn := range b.subs[event.JobID] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
	return nil
}

// SubscriberCount reports the live subscriptions for a room. Test helper.
func (b *MemBus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

// Subscribe implements Bus.
func (b *MemBus) Subscribe(jobID string, fn func(*Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]func(*Event))
	}
	id := b.nextID
	b.nextID++
	b.subs[jobID][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[jobID], id)
	}, nil
}
