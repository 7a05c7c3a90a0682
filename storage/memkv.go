package storage

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// MemKV is an in-memory KV implementation with the same CAS semantics as
// JetStream KV. It backs the degraded persistence mode (when bulk chunk
// creation fails the chunk store keeps the job's rows in a process-local
// bucket) and the unit tests.
type MemKV struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	bucket  string
	seq     uint64
}

type memEntry struct {
	value    []byte
	revision uint64
	created  time.Time
}

// NewMemKV creates an empty in-memory KV bucket.
func NewMemKV(bucket string) *MemKV {
	return &MemKV{
		entries: make(map[string]*memEntry),
		bucket:  bucket,
	}
}

// NewMemBuckets creates a full set of in-memory buckets.
func NewMemBuckets() *Buckets {
	return &Buckets{
		Jobs:        NewMemKV(BucketJobs),
		Chunks:      NewMemKV(BucketChunks),
		Histories:   NewMemKV(BucketHistories),
		WordLists:   NewMemKV(BucketWordLists),
		Coverage:    NewMemKV(BucketCoverage),
		Assignments: NewMemKV(BucketAssignments),
		Groups:      NewMemKV(BucketGroups),
	}
}

// Get implements KV.
func (m *MemKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &memKVEntry{
		bucket:   m.bucket,
		key:      key,
		value:    append([]byte(nil), entry.value...),
		revision: entry.revision,
		created:  entry.created,
	}, nil
}

// Create implements KV. It fails if the key already exists.
func (m *MemKV) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; exists {
		return 0, jetstream.ErrKeyExists
	}
	m.seq++
	m.entries[key] = &memEntry{
		value:    append([]byte(nil), value...),
		revision: m.seq,
		created:  time.Now(),
	}
	return m.seq, nil
}

// Put implements KV.
func (m *MemKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	created := time.Now()
	if existing, ok := m.entries[key]; ok {
		created = existing.created
	}
	m.entries[key] = &memEntry{
		value:    append([]byte(nil), value...),
		revision: m.seq,
		created:  created,
	}
	return m.seq, nil
}

// Update implements KV with compare-and-swap on the revision.
func (m *MemKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return 0, jetstream.ErrKeyNotFound
	}
	if entry.revision != revision {
		return 0, errConflictCAS
	}
	m.seq++
	m.entries[key] = &memEntry{
		value:    append([]byte(nil), value...),
		revision: m.seq,
		created:  entry.created,
	}
	return m.seq, nil
}

// Delete implements KV.
func (m *MemKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Keys implements KV.
func (m *MemKV) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// errConflictCAS mirrors the JetStream wrong-last-sequence error text so
// isConflict classifies it the same way.
var errConflictCAS = &casConflictError{}

type casConflictError struct{}

func (*casConflictError) Error() string { return "wrong last sequence" }

// memKVEntry implements jetstream.KeyValueEntry.
type memKVEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
}

func (e *memKVEntry) Bucket() string                  { return e.bucket }
func (e *memKVEntry) Key() string                     { return e.key }
func (e *memKVEntry) Value() []byte                   { return e.value }
func (e *memKVEntry) Revision() uint64                { return e.revision }
func (e *memKVEntry) Created() time.Time              { return e.created }
func (e *memKVEntry) Delta() uint64                   { return 0 }
func (e *memKVEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }
