package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/deepnoodle-ai/reflow"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func testStores() map[string]storeFactory {
	return map[string]storeFactory{
		"file": func(t *testing.T) Store {
			return NewFileStore(t.TempDir())
		},
		"sqlite": func(t *testing.T) Store {
			store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"), SQLiteStoreOptions{})
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestAppendAndGetEvents(t *testing.T) {
	for name, factory := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			runID := NewRunID()

			events := []*RunEvent{
				NewEvent(runID, 1, EventRunStarted, 0, map[string]any{"work_item": "relax-si"}),
				NewEvent(runID, 2, EventAttemptStarted, 1, nil),
				NewEvent(runID, 3, EventAttemptFailed, 1, map[string]any{"status": float64(410)}),
				NewEvent(runID, 4, EventHandlerInvoked, 1, map[string]any{"handler": "reduce_mixing"}),
				NewEvent(runID, 5, EventAttemptStarted, 2, nil),
				NewEvent(runID, 6, EventAttemptCompleted, 2, nil),
				NewEvent(runID, 7, EventRunCompleted, 2, nil),
			}
			require.NoError(t, store.AppendEvents(ctx, events))

			history, err := store.GetHistory(ctx, runID)
			require.NoError(t, err)
			require.Len(t, history, 7)
			require.Equal(t, EventRunStarted, history[0].EventType)
			require.Equal(t, EventRunCompleted, history[6].EventType)
			require.Equal(t, "reduce_mixing", history[3].Data["handler"])

			tail, err := store.GetEvents(ctx, runID, 5)
			require.NoError(t, err)
			require.Len(t, tail, 3)
			require.Equal(t, int64(5), tail[0].Sequence)

			// Unknown runs have empty history
			none, err := store.GetHistory(ctx, "no-such-run")
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	for name, factory := range testStores() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			err := store.AppendEvents(context.Background(), []*RunEvent{
				{RunID: "run-1", Sequence: 1, EventType: EventRunStarted},
			})
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid event")
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, factory := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			runID := NewRunID()

			_, err := store.GetSnapshot(ctx, runID)
			require.Error(t, err)

			snapshot := &RunSnapshot{
				ID:           runID,
				WorkItemName: "relax-si",
				Fingerprint:  "abc123",
				Status:       reflow.RunStatusRunning,
				StartTime:    reflow.Timestamp(),
				AttemptCount: 1,
				LastEventSeq: 2,
			}
			require.NoError(t, store.SaveSnapshot(ctx, snapshot))

			got, err := store.GetSnapshot(ctx, runID)
			require.NoError(t, err)
			require.Equal(t, runID, got.ID)
			require.Equal(t, "relax-si", got.WorkItemName)
			require.Equal(t, reflow.RunStatusRunning, got.Status)
			require.False(t, got.CreatedAt.IsZero())

			// Save again with updated state
			snapshot.Status = reflow.RunStatusCompleted
			snapshot.EndTime = reflow.Timestamp()
			snapshot.AttemptCount = 2
			snapshot.Outputs = map[string]any{"energy": -123.4}
			require.NoError(t, store.SaveSnapshot(ctx, snapshot))

			got, err = store.GetSnapshot(ctx, runID)
			require.NoError(t, err)
			require.Equal(t, reflow.RunStatusCompleted, got.Status)
			require.Equal(t, 2, got.AttemptCount)
			require.Equal(t, -123.4, got.Outputs["energy"])
		})
	}
}

func TestListRunsFiltering(t *testing.T) {
	for name, factory := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			base := reflow.Timestamp().Add(-time.Hour)
			seed := []struct {
				name   string
				status reflow.RunStatus
			}{
				{"relax-si", reflow.RunStatusCompleted},
				{"relax-ge", reflow.RunStatusFailed},
				{"bands-si", reflow.RunStatusCompleted},
				{"relax-c", reflow.RunStatusPaused},
			}
			for i, s := range seed {
				require.NoError(t, store.SaveSnapshot(ctx, &RunSnapshot{
					ID:           NewRunID(),
					WorkItemName: s.name,
					Status:       s.status,
					StartTime:    base.Add(time.Duration(i) * time.Minute),
					CreatedAt:    base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := store.ListRuns(ctx, Filter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			// Newest first
			require.Equal(t, "relax-c", all[0].WorkItemName)
			require.Equal(t, "relax-si", all[3].WorkItemName)

			completed := reflow.RunStatusCompleted
			byStatus, err := store.ListRuns(ctx, Filter{Status: &completed})
			require.NoError(t, err)
			require.Len(t, byStatus, 2)

			byGlob, err := store.ListRuns(ctx, Filter{NameGlob: "relax-*"})
			require.NoError(t, err)
			require.Len(t, byGlob, 3)

			paged, err := store.ListRuns(ctx, Filter{Limit: 2, Offset: 1})
			require.NoError(t, err)
			require.Len(t, paged, 2)
			require.Equal(t, "bands-si", paged[0].WorkItemName)

			_, err = store.ListRuns(ctx, Filter{NameGlob: "[bad"})
			require.Error(t, err)
		})
	}
}

func TestDeleteRun(t *testing.T) {
	for name, factory := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			runID := NewRunID()

			require.NoError(t, store.AppendEvents(ctx, []*RunEvent{
				NewEvent(runID, 1, EventRunStarted, 0, nil),
			}))
			require.NoError(t, store.SaveSnapshot(ctx, &RunSnapshot{
				ID:           runID,
				WorkItemName: "relax-si",
				Status:       reflow.RunStatusRunning,
			}))

			require.NoError(t, store.DeleteRun(ctx, runID))

			_, err := store.GetSnapshot(ctx, runID)
			require.Error(t, err)
			events, err := store.GetHistory(ctx, runID)
			require.NoError(t, err)
			require.Empty(t, events)
		})
	}
}

func TestCleanupFinishedRuns(t *testing.T) {
	for name, factory := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)
			now := reflow.Timestamp()

			oldDone := NewRunID()
			require.NoError(t, store.SaveSnapshot(ctx, &RunSnapshot{
				ID: oldDone, WorkItemName: "old-done",
				Status:  reflow.RunStatusCompleted,
				EndTime: now.Add(-48 * time.Hour),
			}))
			recentDone := NewRunID()
			require.NoError(t, store.SaveSnapshot(ctx, &RunSnapshot{
				ID: recentDone, WorkItemName: "recent-done",
				Status:  reflow.RunStatusCompleted,
				EndTime: now.Add(-time.Hour),
			}))
			oldPaused := NewRunID()
			require.NoError(t, store.SaveSnapshot(ctx, &RunSnapshot{
				ID: oldPaused, WorkItemName: "old-paused",
				Status: reflow.RunStatusPaused,
			}))

			require.NoError(t, store.CleanupFinishedRuns(ctx, now.Add(-24*time.Hour)))

			_, err := store.GetSnapshot(ctx, oldDone)
			require.Error(t, err, "old terminal runs are cleaned up")
			_, err = store.GetSnapshot(ctx, recentDone)
			require.NoError(t, err)
			_, err = store.GetSnapshot(ctx, oldPaused)
			require.NoError(t, err, "non-terminal runs are never cleaned up")
		})
	}
}

func TestNewRunIDsSortChronologically(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()
	require.Less(t, a, b)
}
