package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/phraseforge/normalize"
)

// WordListStore persists normalized word lists. Ingestion is atomic: a
// list that normalizes to zero keys is rejected before any row is written.
type WordListStore struct {
	kv KV
}

// NewWordListStore creates a WordListStore over the given bucket.
func NewWordListStore(kv KV) *WordListStore {
	return &WordListStore{kv: kv}
}

// Ingest normalizes the raw rows with the given normalizer and persists
// the resulting list. An empty result returns ErrEmptyWordList and writes
// nothing.
func (s *WordListStore) Ingest(ctx context.Context, owner, name string, rows []string, n *normalize.Normalizer) (*WordList, error) {
	entries, report := n.IngestList(rows)
	if len(entries) == 0 {
		return nil, ErrEmptyWordList
	}

	list := &WordList{
		ID:             uuid.New().String(),
		Owner:          owner,
		Name:           name,
		SourceRows:     rows,
		Entries:        entries,
		Report:         report,
		Mode:           n.Mode(),
		FoldDiacritics: n.FoldDiacritics(),
		CreatedAt:      time.Now(),
	}
	list.UpdatedAt = list.CreatedAt

	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal word list: %w", err)
	}
	if _, err := s.kv.Create(ctx, list.ID, data); err != nil {
		return nil, fmt.Errorf("store word list: %w", err)
	}
	return list, nil
}

// Get retrieves a WordList by ID.
func (s *WordListStore) Get(ctx context.Context, id string) (*WordList, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get word list: %w", err)
	}
	var list WordList
	if err := json.Unmarshal(entry.Value(), &list); err != nil {
		return nil, fmt.Errorf("unmarshal word list: %w", err)
	}
	return &list, nil
}

// List returns the lists visible to an owner: their own plus global lists
// (empty owner), newest first.
func (s *WordListStore) List(ctx context.Context, owner string) ([]*WordList, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list word list keys: %w", err)
	}

	lists := make([]*WordList, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var list WordList
		if err := json.Unmarshal(entry.Value(), &list); err != nil {
			continue
		}
		if list.Owner == owner || list.Owner == "" {
			lists = append(lists, &list)
		}
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].CreatedAt.After(lists[j].CreatedAt) })
	return lists, nil
}

// Rename changes a list's display name.
func (s *WordListStore) Rename(ctx context.Context, id, name string) (*WordList, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get word list: %w", err)
	}
	var list WordList
	if err := json.Unmarshal(entry.Value(), &list); err != nil {
		return nil, fmt.Errorf("unmarshal word list: %w", err)
	}

	list.Name = name
	list.UpdatedAt = time.Now()
	data, err := json.Marshal(&list)
	if err != nil {
		return nil, fmt.Errorf("marshal word list: %w", err)
	}
	if _, err := s.kv.Update(ctx, id, data, entry.Revision()); err != nil {
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update word list: %w", err)
	}
	return &list, nil
}

// Refresh re-normalizes the stored source rows with a (possibly updated)
// normalizer, replacing entries and report in place. The refreshed list
// must still be non-empty.
func (s *WordListStore) Refresh(ctx context.Context, id string, n *normalize.Normalizer) (*WordList, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get word list: %w", err)
	}
	var list WordList
	if err := json.Unmarshal(entry.Value(), &list); err != nil {
		return nil, fmt.Errorf("unmarshal word list: %w", err)
	}

	entries, report := n.IngestList(list.SourceRows)
	if len(entries) == 0 {
		return nil, ErrEmptyWordList
	}
	list.Entries = entries
	list.Report = report
	list.Mode = n.Mode()
	list.FoldDiacritics = n.FoldDiacritics()
	list.UpdatedAt = time.Now()

	data, err := json.Marshal(&list)
	if err != nil {
		return nil, fmt.Errorf("marshal word list: %w", err)
	}
	if _, err := s.kv.Update(ctx, id, data, entry.Revision()); err != nil {
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update word list: %w", err)
	}
	return &list, nil
}

// Delete removes a WordList.
func (s *WordListStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete word list: %w", err)
	}
	return nil
}
