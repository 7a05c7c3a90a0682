package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a compare-and-swap update lost against
	// a concurrent writer. The caller aborts idempotently.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrTerminal is returned when mutating a job that already reached a
	// terminal state.
	ErrTerminal = errors.New("job is terminal")

	// ErrInvalidTransition is returned when a chunk state transition
	// violates the state machine.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrRetriesExhausted is returned when scheduling a retry for a chunk
	// whose attempts reached max_retries without force.
	ErrRetriesExhausted = errors.New("chunk retries exhausted")

	// ErrEmptyWordList is returned when word-list ingestion produces no
	// entries after normalization. No partial row is persisted.
	ErrEmptyWordList = errors.New("word list empty after normalization")
)
