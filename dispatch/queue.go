package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Queue is the broker surface the dispatcher and workers share. Publish
// enqueues a task; Claim blocks until a task is available or the context
// ends.
type Queue interface {
	Publish(ctx context.Context, task *Task) error
	Claim(ctx context.Context) (*Task, error)
}

// ErrQueueClosed is returned by Claim on a closed in-memory queue.
var ErrQueueClosed = errors.New("task queue closed")

const (
	taskStreamName  = "PHRASE_TASKS"
	taskSubjects    = "phraseforge.tasks.>"
	taskConsumer    = "phraseforge-workers"
	claimExpiry     = 30 * time.Second
	taskMaxDeliver  = 3
	taskAckWait     = 35 * time.Minute // past the hard chunk timeout
)

// JetStreamQueue is the durable work queue on a JetStream stream with a
// shared pull consumer. Each published task is delivered to exactly one
// worker; unacked tasks are redelivered after AckWait.
type JetStreamQueue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
}

// NewJetStreamQueue creates (or binds) the task stream and its shared
// worker consumer.
func NewJetStreamQueue(ctx context.Context, js jetstream.JetStream) (*JetStreamQueue, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      taskStreamName,
		Subjects:  []string{taskSubjects},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create task stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    taskConsumer,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    taskAckWait,
		MaxDeliver: taskMaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("create worker consumer: %w", err)
	}

	return &JetStreamQueue{js: js, consumer: consumer}, nil
}

// Publish enqueues a task on the stream.
func (q *JetStreamQueue) Publish(ctx context.Context, task *Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("phraseforge.tasks.%s", task.Type)
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}

// Claim pulls the next task, acking it immediately. At-least-once
// delivery is acceptable: chunk claims are serialized by the chunk
// store's row lock, so a duplicate delivery loses the claim and aborts.
func (q *JetStreamQueue) Claim(ctx context.Context) (*Task, error) {
	for {
		msg, err := q.consumer.Next(jetstream.FetchMaxWait(claimExpiry))
		if err != nil {
			if errors.Is(err, jetstream.ErrNoMessages) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, fmt.Errorf("fetch task: %w", err)
		}

		task, err := DecodeTask(msg.Data())
		if err != nil {
			// Poison message: ack it away and keep claiming.
			_ = msg.Ack()
			continue
		}
		if err := msg.Ack(); err != nil {
			return nil, fmt.Errorf("ack task %s: %w", task.ID, err)
		}
		return task, nil
	}
}

// Depth reports the number of tasks not yet delivered to any worker.
func (q *JetStreamQueue) Depth(ctx context.Context) (int, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("consumer info: %w", err)
	}
	return int(info.NumPending), nil
}

// MemQueue is a channel-backed queue for tests, embedded mode and the
// single-process deployment.
type MemQueue struct {
	tasks chan *Task
}

// NewMemQueue creates an in-memory queue with the given buffer.
func NewMemQueue(buffer int) *MemQueue {
	return &MemQueue{tasks: make(chan *Task, buffer)}
}

// Publish implements Queue.
func (q *MemQueue) Publish(ctx context.Context, task *Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Claim implements Queue.
func (q *MemQueue) Claim(ctx context.Context) (*Task, error) {
	select {
	case task, ok := <-q.tasks:
		if !ok {
			return nil, ErrQueueClosed
		}
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the in-memory queue; pending Claims return ErrQueueClosed.
func (q *MemQueue) Close() {
	close(q.tasks)
}

// Len reports the number of buffered tasks. Test helper.
func (q *MemQueue) Len() int {
	return len(q.tasks)
}
