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

// HistoryStore persists History snapshots.
type HistoryStore struct {
	kv KV
}

// NewHistoryStore creates a HistoryStore over the given bucket.
func NewHistoryStore(kv KV) *HistoryStore {
	return &HistoryStore{kv: kv}
}

// Create persists a new History snapshot and returns it.
func (s *HistoryStore) Create(ctx context.Context, h *History) (*History, error) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.SentenceCount = len(h.Sentences)
	h.CreatedAt = time.Now()
	h.UpdatedAt = h.CreatedAt

	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	if _, err := s.kv.Create(ctx, h.ID, data); err != nil {
		return nil, fmt.Errorf("store history: %w", err)
	}
	return h, nil
}

// Get retrieves a History by ID.
func (s *HistoryStore) Get(ctx context.Context, id string) (*History, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	var h History
	if err := json.Unmarshal(entry.Value(), &h); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &h, nil
}

// List returns all histories for an owner, newest first.
func (s *HistoryStore) List(ctx context.Context, owner string) ([]*History, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list history keys: %w", err)
	}

	histories := make([]*History, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var h History
		if err := json.Unmarshal(entry.Value(), &h); err != nil {
			continue
		}
		if h.Owner == owner {
			histories = append(histories, &h)
		}
	}
	sort.Slice(histories, func(i, j int) bool { return histories[i].CreatedAt.After(histories[j].CreatedAt) })
	return histories, nil
}

// Update replaces a History's sentences and metadata. Used by refresh.
func (s *HistoryStore) Update(ctx context.Context, h *History) (*History, error) {
	entry, err := s.kv.Get(ctx, h.ID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}

	h.SentenceCount = len(h.Sentences)
	h.UpdatedAt = time.Now()
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	if _, err := s.kv.Update(ctx, h.ID, data, entry.Revision()); err != nil {
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update history: %w", err)
	}
	return h, nil
}

// Delete removes a History.
func (s *HistoryStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
