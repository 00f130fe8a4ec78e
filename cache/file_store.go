package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore implements EntryStore using one JSON file per fingerprint.
// Writes go through a temporary file and an atomic rename so readers never
// observe a torn entry.
type FileStore struct {
	basePath string
	mutex    sync.RWMutex
}

// NewFileStore creates a file-based entry store rooted at basePath
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

func (s *FileStore) entryPath(fingerprint string) string {
	return filepath.Join(s.basePath, fingerprint+".json")
}

func (s *FileStore) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	file, err := os.Open(s.entryPath(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to open entry file: %w", err)
	}
	defer file.Close()

	var entry Entry
	if err := json.NewDecoder(file).Decode(&entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, true, nil
}

// Put writes the entry unless one already exists (first write wins).
// Concurrent writers racing on the same fingerprint carry identical
// content-addressed payloads, so the surviving rename is always a complete,
// equivalent entry.
func (s *FileStore) Put(ctx context.Context, entry *Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	target := s.entryPath(entry.Fingerprint)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	tempFile := target + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp entry file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entry); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close temp entry file: %w", err)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename entry file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, fingerprint string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.entryPath(fingerprint)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete entry file: %w", err)
	}
	return nil
}
