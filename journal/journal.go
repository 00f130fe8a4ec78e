// Package journal records the attempt history of controlled runs. Every
// terminal state carries the full sequence of attempts and handler decisions
// so an operator can audit why an automatic recovery did or did not succeed.
package journal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"

	"github.com/deepnoodle-ai/reflow"
)

// RunEvent is a single event in a run's history
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	EventType RunEventType   `json:"event_type"`
	Attempt   int            `json:"attempt,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// RunEventType represents the type of run event
type RunEventType string

const (
	EventRunStarted       RunEventType = "run_started"
	EventAttemptStarted   RunEventType = "attempt_started"
	EventAttemptCompleted RunEventType = "attempt_completed"
	EventAttemptFailed    RunEventType = "attempt_failed"
	EventHandlerInvoked   RunEventType = "handler_invoked"
	EventCacheHit         RunEventType = "cache_hit"
	EventRunPaused        RunEventType = "run_paused"
	EventRunResumed       RunEventType = "run_resumed"
	EventResumeRequested  RunEventType = "resume_requested"
	EventRunCompleted     RunEventType = "run_completed"
	EventRunFailed        RunEventType = "run_failed"
	EventRunCancelled     RunEventType = "run_cancelled"
)

// RunSnapshot is the current state of a run, updated as the run progresses
type RunSnapshot struct {
	ID           string           `json:"id"`
	WorkItemName string           `json:"work_item_name"`
	Fingerprint  string           `json:"fingerprint,omitempty"`
	Status       reflow.RunStatus `json:"status"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	AttemptCount int              `json:"attempt_count"`
	LastEventSeq int64            `json:"last_event_seq"`
	Outputs      map[string]any   `json:"outputs,omitempty"`
	FromCache    bool             `json:"from_cache,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Filter specifies criteria for listing runs
type Filter struct {
	Status   *reflow.RunStatus `json:"status,omitempty"`
	NameGlob string            `json:"name_glob,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

// Store persists run events and snapshots
type Store interface {
	AppendEvents(ctx context.Context, events []*RunEvent) error
	GetEvents(ctx context.Context, runID string, fromSeq int64) ([]*RunEvent, error)
	GetHistory(ctx context.Context, runID string) ([]*RunEvent, error)

	SaveSnapshot(ctx context.Context, snapshot *RunSnapshot) error
	GetSnapshot(ctx context.Context, runID string) (*RunSnapshot, error)

	ListRuns(ctx context.Context, filter Filter) ([]*RunSnapshot, error)
	DeleteRun(ctx context.Context, runID string) error
	CleanupFinishedRuns(ctx context.Context, olderThan time.Time) error
}

// Validate validates the run event
func (e *RunEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if e.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if e.Sequence <= 0 {
		return fmt.Errorf("sequence must be positive")
	}
	if e.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Validate validates the filter
func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if f.Offset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	if f.NameGlob != "" {
		if _, err := glob.Compile(f.NameGlob); err != nil {
			return fmt.Errorf("invalid name glob: %w", err)
		}
	}
	return nil
}

// matches reports whether a snapshot passes the filter criteria. The filter
// must have been validated first; an invalid glob matches nothing.
func (f *Filter) matches(snapshot *RunSnapshot) bool {
	if f.Status != nil && snapshot.Status != *f.Status {
		return false
	}
	if f.NameGlob != "" {
		g, err := glob.Compile(f.NameGlob)
		if err != nil {
			return false
		}
		if !g.Match(snapshot.WorkItemName) {
			return false
		}
	}
	return true
}

// NewRunID returns a ULID string. Run IDs sort lexicographically by creation
// time, which keeps listings in chronological order for free.
func NewRunID() string {
	return ulid.Make().String()
}

// NewEvent creates a run event with a generated ID and current timestamp
func NewEvent(runID string, seq int64, eventType RunEventType, attempt int, data map[string]any) *RunEvent {
	return &RunEvent{
		ID:        newEventID(),
		RunID:     runID,
		Sequence:  seq,
		Timestamp: reflow.Timestamp(),
		EventType: eventType,
		Attempt:   attempt,
		Data:      data,
	}
}

func newEventID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
