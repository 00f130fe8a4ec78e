package cache

import (
	"context"
	"time"
)

// Entry records the outputs of one prior successful execution, keyed by the
// fingerprint of its resolved inputs.
type Entry struct {
	Fingerprint string         `json:"fingerprint"`
	Outputs     map[string]any `json:"outputs"`
	SourceRunID string         `json:"source_run_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EntryStore persists cache entries. Put has first-write-wins semantics:
// when two writers race on the same fingerprint, exactly one write takes
// effect and readers never observe a partial entry.
type EntryStore interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, fingerprint string) error
}
