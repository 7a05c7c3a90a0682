// Package storage provides durable entity storage for Phraseforge on NATS
// JetStream KV. Chunk state transitions use KV revision compare-and-swap as
// the row lock: conflicting writers observe one winner and the loser aborts
// idempotently.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for each entity type.
const (
	BucketJobs        = "PHRASE_JOBS"
	BucketChunks      = "PHRASE_CHUNKS"
	BucketHistories   = "PHRASE_HISTORIES"
	BucketWordLists   = "PHRASE_WORDLISTS"
	BucketCoverage    = "PHRASE_COVERAGE"
	BucketAssignments = "PHRASE_ASSIGNMENTS"
	BucketGroups      = "PHRASE_GROUPS"
)

// KV is the subset of jetstream.KeyValue the stores rely on. It is narrow
// enough for an in-memory implementation (MemKV) used in tests and in the
// degraded persistence mode.
type KV interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Both the real bucket type and the in-memory fallback satisfy KV.
var (
	_ KV = (jetstream.KeyValue)(nil)
	_ KV = (*MemKV)(nil)
)

// Buckets groups the KV buckets used by the stores.
type Buckets struct {
	Jobs        KV
	Chunks      KV
	Histories   KV
	WordLists   KV
	Coverage    KV
	Assignments KV
	Groups      KV
}

// OpenBuckets creates (or opens) all Phraseforge KV buckets.
func OpenBuckets(ctx context.Context, js jetstream.JetStream) (*Buckets, error) {
	names := []string{
		BucketJobs, BucketChunks, BucketHistories,
		BucketWordLists, BucketCoverage, BucketAssignments,
		BucketGroups,
	}
	kvs := make([]KV, len(names))
	for i, name := range names {
		kv, err := getOrCreateBucket(ctx, js, name)
		if err != nil {
			return nil, fmt.Errorf("create %s bucket: %w", strings.ToLower(name), err)
		}
		kvs[i] = kv
	}
	return &Buckets{
		Jobs:        kvs[0],
		Chunks:      kvs[1],
		Histories:   kvs[2],
		WordLists:   kvs[3],
		Coverage:    kvs[4],
		Assignments: kvs[5],
		Groups:      kvs[6],
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Phraseforge %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// isNotFound checks if an error indicates a missing key.
func isNotFound(err error) bool {
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "key not found")
}

// isConflict checks if an error indicates a CAS revision mismatch or a
// Create against an existing key.
func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
