package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deepnoodle-ai/reflow"
)

// FileStore implements Store using one directory per run: an append-only
// JSON Lines event log plus a snapshot.json updated via atomic rename.
type FileStore struct {
	basePath string
	mutex    sync.RWMutex
}

// NewFileStore creates a file-based journal store rooted at basePath
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

// BasePath returns the directory the store writes under
func (f *FileStore) BasePath() string {
	return f.basePath
}

// AppendEvents appends events to the run's event log file
func (f *FileStore) AppendEvents(ctx context.Context, events []*RunEvent) error {
	if len(events) == 0 {
		return nil
	}

	runID := events[0].RunID
	f.mutex.Lock()
	defer f.mutex.Unlock()

	runDir := filepath.Join(f.basePath, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	eventsFile := filepath.Join(runDir, "events.jsonl")
	file, err := os.OpenFile(eventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// GetEvents retrieves a run's events starting from a sequence number
func (f *FileStore) GetEvents(ctx context.Context, runID string, fromSeq int64) ([]*RunEvent, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	eventsFile := filepath.Join(f.basePath, runID, "events.jsonl")
	file, err := os.Open(eventsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return []*RunEvent{}, nil
		}
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	var events []*RunEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event RunEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		if event.Sequence >= fromSeq {
			events = append(events, &event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return events, nil
}

// GetHistory retrieves the complete event history for a run
func (f *FileStore) GetHistory(ctx context.Context, runID string) ([]*RunEvent, error) {
	return f.GetEvents(ctx, runID, 1)
}

// SaveSnapshot writes a run snapshot via a temporary file and atomic rename
func (f *FileStore) SaveSnapshot(ctx context.Context, snapshot *RunSnapshot) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	runDir := filepath.Join(f.basePath, snapshot.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	snapshot.UpdatedAt = reflow.Timestamp()
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = snapshot.UpdatedAt
	}

	snapshotFile := filepath.Join(runDir, "snapshot.json")
	tempFile := snapshotFile + ".tmp"

	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}

	if err := os.Rename(tempFile, snapshotFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a run snapshot
func (f *FileStore) GetSnapshot(ctx context.Context, runID string) (*RunSnapshot, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	snapshotFile := filepath.Join(f.basePath, runID, "snapshot.json")
	file, err := os.Open(snapshotFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot not found for run %s", runID)
		}
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	var snapshot RunSnapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListRuns returns runs matching the filter, newest first
func (f *FileStore) ListRuns(ctx context.Context, filter Filter) ([]*RunSnapshot, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	f.mutex.RLock()
	entries, err := os.ReadDir(f.basePath)
	f.mutex.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return []*RunSnapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var snapshots []*RunSnapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snapshot, err := f.GetSnapshot(ctx, entry.Name())
		if err != nil {
			// Skip runs without snapshots
			continue
		}
		if !filter.matches(snapshot) {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	start := filter.Offset
	if start >= len(snapshots) {
		return []*RunSnapshot{}, nil
	}
	end := len(snapshots)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return snapshots[start:end], nil
}

// DeleteRun removes all files associated with a run
func (f *FileStore) DeleteRun(ctx context.Context, runID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := os.RemoveAll(filepath.Join(f.basePath, runID)); err != nil {
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}

// CleanupFinishedRuns removes terminal runs that ended before the given time
func (f *FileStore) CleanupFinishedRuns(ctx context.Context, olderThan time.Time) error {
	snapshots, err := f.ListRuns(ctx, Filter{})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	for _, snapshot := range snapshots {
		if snapshot.Status.IsTerminal() && snapshot.EndTime.Before(olderThan) {
			if err := f.DeleteRun(ctx, snapshot.ID); err != nil {
				return fmt.Errorf("failed to delete run %s: %w", snapshot.ID, err)
			}
		}
	}
	return nil
}
