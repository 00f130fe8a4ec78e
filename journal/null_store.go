package journal

import (
	"context"
	"fmt"
	"time"
)

// NullStore implements Store but persists nothing. Useful for tests and for
// callers that do not need run history.
type NullStore struct{}

// NewNullStore returns a new NullStore instance
func NewNullStore() *NullStore {
	return &NullStore{}
}

func (n *NullStore) AppendEvents(ctx context.Context, events []*RunEvent) error {
	return nil
}

func (n *NullStore) GetEvents(ctx context.Context, runID string, fromSeq int64) ([]*RunEvent, error) {
	return []*RunEvent{}, nil
}

func (n *NullStore) GetHistory(ctx context.Context, runID string) ([]*RunEvent, error) {
	return []*RunEvent{}, nil
}

func (n *NullStore) SaveSnapshot(ctx context.Context, snapshot *RunSnapshot) error {
	return nil
}

func (n *NullStore) GetSnapshot(ctx context.Context, runID string) (*RunSnapshot, error) {
	return nil, fmt.Errorf("snapshot not found for run %s", runID)
}

func (n *NullStore) ListRuns(ctx context.Context, filter Filter) ([]*RunSnapshot, error) {
	return []*RunSnapshot{}, nil
}

func (n *NullStore) DeleteRun(ctx context.Context, runID string) error {
	return nil
}

func (n *NullStore) CleanupFinishedRuns(ctx context.Context, olderThan time.Time) error {
	return nil
}
