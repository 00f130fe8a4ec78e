package cache

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/log"
)

// Cache decides hit/miss/clone for work items. Persistence belongs to the
// configured EntryStore; the cache only computes fingerprints and applies the
// hit and store policies. Caching applies per unit of work: a composite of
// five work items gets five independent cache checks, never one aggregate
// check, so caching can only skip computation, never change the logical
// shape of the produced results.
type Cache struct {
	store  EntryStore
	logger log.Logger
}

// Options configures a Cache
type Options struct {
	Store  EntryStore
	Logger log.Logger
}

// New creates a Cache backed by the given entry store
func New(opts Options) (*Cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	return &Cache{store: opts.Store, logger: opts.Logger}, nil
}

// Lookup fingerprints the work item and queries the store for a prior
// successful execution with the same resolved inputs.
func (c *Cache) Lookup(ctx context.Context, item *reflow.WorkItem) (string, *Entry, bool, error) {
	fingerprint, err := Fingerprint(item)
	if err != nil {
		return "", nil, false, err
	}
	entry, found, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		return fingerprint, nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}
	if found {
		c.logger.Debug("cache hit",
			"work_item", item.Name,
			"fingerprint", fingerprint,
			"source_run_id", entry.SourceRunID)
	}
	return fingerprint, entry, found, nil
}

// Clone produces a fresh, independently-owned copy of a stored entry's
// outputs as the result of the current logical execution. Apart from the
// FromCache marker the result is indistinguishable from a freshly computed
// one: same output shape, same logical links.
func (c *Cache) Clone(entry *Entry) *reflow.TerminationSignal {
	return &reflow.TerminationSignal{
		Status:    reflow.StatusOK,
		Message:   "restored from cached run " + entry.SourceRunID,
		Outputs:   reflow.CopyValues(entry.Outputs),
		FromCache: true,
	}
}

// Store records the outputs of a successful run under the given fingerprint.
// Failed or partial outputs are never stored.
func (c *Cache) Store(ctx context.Context, fingerprint, runID string, signal *reflow.TerminationSignal) error {
	if !signal.OK() {
		return fmt.Errorf("refusing to cache non-successful result (status %d)", signal.Status)
	}
	entry := &Entry{
		Fingerprint: fingerprint,
		Outputs:     reflow.CopyValues(signal.Outputs),
		SourceRunID: runID,
		CreatedAt:   reflow.Timestamp(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache store failed: %w", err)
	}
	c.logger.Debug("cached result", "fingerprint", fingerprint, "run_id", runID)
	return nil
}
