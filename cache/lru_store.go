package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore layers a bounded in-memory LRU in front of another EntryStore.
// Reads served from the LRU skip the backing store entirely; writes go
// through to the backing store first so its first-write-wins semantics hold.
type LRUStore struct {
	inner EntryStore
	lru   *lru.Cache[string, *Entry]
}

// NewLRUStore wraps an entry store with an LRU of the given size
func NewLRUStore(inner EntryStore, size int) (*LRUStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner entry store is required")
	}
	cache, err := lru.New[string, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	return &LRUStore{inner: inner, lru: cache}, nil
}

func (s *LRUStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	if entry, found := s.lru.Get(fingerprint); found {
		return entry, true, nil
	}
	entry, found, err := s.inner.Get(ctx, fingerprint)
	if err != nil || !found {
		return nil, found, err
	}
	s.lru.Add(fingerprint, entry)
	return entry, true, nil
}

func (s *LRUStore) Put(ctx context.Context, entry *Entry) error {
	if err := s.inner.Put(ctx, entry); err != nil {
		return err
	}
	// Reload through Get on demand rather than caching here, so the LRU only
	// ever holds what the backing store accepted.
	s.lru.Remove(entry.Fingerprint)
	return nil
}

func (s *LRUStore) Delete(ctx context.Context, fingerprint string) error {
	s.lru.Remove(fingerprint)
	return s.inner.Delete(ctx, fingerprint)
}
