package cache

import (
	"context"
	"sync"
)

// MemoryStore is an in-process EntryStore. It is primarily useful in tests
// and single-process setups; entries do not survive a restart.
type MemoryStore struct {
	entries map[string]*Entry
	mutex   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory entry store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	entry, found := s.entries[fingerprint]
	return entry, found, nil
}

// Put stores the entry unless one already exists for the fingerprint
// (first write wins).
func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.entries[entry.Fingerprint]; exists {
		return nil
	}
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, fingerprint string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}
