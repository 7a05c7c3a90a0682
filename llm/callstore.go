package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

var (
	globalRecorder   *CallRecorder
	globalRecorderMu sync.RWMutex
	initOnce         sync.Once
	initErr          error // Package-level error for sync.Once pattern
)

// callSubjectPrefix is the NATS subject prefix for LLM call records.
const callSubjectPrefix = "phraseforge.llm.calls"

// CallRecord represents a single LLM API call with enough context for
// per-job cost accounting.
type CallRecord struct {
	// RequestID uniquely identifies this LLM call.
	RequestID string `json:"request_id"`

	// JobID is the processing job that initiated this call (if any).
	JobID string `json:"job_id,omitempty"`

	// ChunkID is the chunk being extracted (if any).
	ChunkID string `json:"chunk_id,omitempty"`

	// Tier is the requested tier (speed, balanced, quality).
	Tier string `json:"tier"`

	// Model is the actual model that was used for this call.
	Model string `json:"model"`

	// Endpoint is the registry endpoint name.
	Endpoint string `json:"endpoint"`

	// Provider is the LLM provider (openai, ollama).
	Provider string `json:"provider"`

	// PromptTokens is the number of input/prompt tokens consumed.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of output/completion tokens generated.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total tokens consumed (prompt + completion).
	TotalTokens int `json:"total_tokens"`

	// FinishReason indicates why generation stopped (stop, length, etc.).
	FinishReason string `json:"finish_reason,omitempty"`

	// StartedAt is when the LLM call began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the LLM call finished.
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the call duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Error contains any error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// FallbacksUsed lists endpoints tried before success (if fallback was needed).
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`
}

// CallRecorder publishes LLM call records to a JetStream subject so the
// accounting consumer can aggregate token spend per job.
type CallRecorder struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// CallRecorderOption configures a CallRecorder.
type CallRecorderOption func(*CallRecorder)

// WithRecorderLogger sets the logger for the LLM call recorder.
func WithRecorderLogger(logger *slog.Logger) CallRecorderOption {
	return func(r *CallRecorder) {
		r.logger = logger
	}
}

// NewCallRecorder creates a new LLM call recorder.
func NewCallRecorder(js jetstream.JetStream, opts ...CallRecorderOption) (*CallRecorder, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}

	r := &CallRecorder{
		js:     js,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// InitGlobalRecorder initializes the global LLM call recorder.
// This should be called once during application startup after NATS connection.
// It's safe to call multiple times - subsequent calls return the cached result.
// If initialization fails, all callers receive the same error and
// GlobalRecorder() returns nil (which gracefully disables call recording).
func InitGlobalRecorder(js jetstream.JetStream, opts ...CallRecorderOption) error {
	initOnce.Do(func() {
		recorder, err := NewCallRecorder(js, opts...)
		if err != nil {
			initErr = err
			return
		}
		globalRecorderMu.Lock()
		globalRecorder = recorder
		globalRecorderMu.Unlock()
	})
	return initErr
}

// GlobalRecorder returns the global LLM call recorder.
// Returns nil if InitGlobalRecorder hasn't been called.
func GlobalRecorder() *CallRecorder {
	globalRecorderMu.RLock()
	defer globalRecorderMu.RUnlock()
	return globalRecorder
}

// Record publishes an LLM call record.
func (r *CallRecorder) Record(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if record.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	subject := callSubjectPrefix
	if record.JobID != "" {
		subject = fmt.Sprintf("%s.%s", callSubjectPrefix, record.JobID)
	}

	if _, err := r.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}

	r.logger.Debug("Published LLM call record",
		"request_id", record.RequestID,
		"job_id", record.JobID,
		"tier", record.Tier,
		"total_tokens", record.TotalTokens)

	return nil
}

// SortByStartTime sorts records chronologically by StartedAt.
func SortByStartTime(records []*CallRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

// Context keys for threading job/chunk identity through LLM calls.
type jobIDKey struct{}
type chunkIDKey struct{}

// WithJobID tags a context with the job initiating LLM calls.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext extracts the job ID, if any.
func JobIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithChunkID tags a context with the chunk being extracted.
func WithChunkID(ctx context.Context, chunkID string) context.Context {
	return context.WithValue(ctx, chunkIDKey{}, chunkID)
}

// ChunkIDFromContext extracts the chunk ID, if any.
func ChunkIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(chunkIDKey{}).(string); ok {
		return id
	}
	return ""
}
