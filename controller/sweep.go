package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/cache"
	"github.com/deepnoodle-ai/reflow/journal"
	"github.com/deepnoodle-ai/reflow/log"
)

// SweepOptions configures a parameter sweep over independent work items
type SweepOptions struct {
	Items       []*reflow.WorkItem
	Runner      reflow.Runner
	Handlers    *Registry
	MaxRetries  int
	Concurrency int
	Cache       *cache.Cache
	Journal     journal.Store
	Logger      log.Logger
}

// SweepResult aggregates the terminal outcome of every item in a sweep,
// keyed by work item name. An item appears in exactly one of the two maps.
type SweepResult struct {
	Signals map[string]*reflow.TerminationSignal
	RunIDs  map[string]string
	Errors  map[string]error
}

// RunSweep executes each work item under its own controller, bounding
// parallelism with Concurrency. Items never share mutable state; one item
// failing terminally does not affect the others. The items share the cache,
// so duplicate inputs within a sweep resolve to a single execution once the
// first one completes.
func RunSweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	if len(opts.Items) == 0 {
		return nil, fmt.Errorf("no work items given")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = len(opts.Items)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	names := make(map[string]bool, len(opts.Items))
	for _, item := range opts.Items {
		if names[item.Name] {
			return nil, fmt.Errorf("duplicate work item name: %q", item.Name)
		}
		names[item.Name] = true
	}

	result := &SweepResult{
		Signals: make(map[string]*reflow.TerminationSignal, len(opts.Items)),
		RunIDs:  make(map[string]string, len(opts.Items)),
		Errors:  make(map[string]error),
	}

	var wg sync.WaitGroup
	var mutex sync.Mutex
	semaphore := make(chan struct{}, opts.Concurrency)

	for _, item := range opts.Items {
		wg.Add(1)
		go func(item *reflow.WorkItem) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			ctrl, err := New(Options{
				Item:       item,
				Runner:     opts.Runner,
				Handlers:   opts.Handlers,
				MaxRetries: opts.MaxRetries,
				Cache:      opts.Cache,
				Journal:    opts.Journal,
				Logger:     opts.Logger,
			})
			if err != nil {
				mutex.Lock()
				result.Errors[item.Name] = err
				mutex.Unlock()
				return
			}

			signal, runErr := ctrl.Run(ctx)

			mutex.Lock()
			defer mutex.Unlock()
			result.RunIDs[item.Name] = ctrl.ID()
			if runErr != nil {
				result.Errors[item.Name] = runErr
				return
			}
			result.Signals[item.Name] = signal
		}(item)
	}
	wg.Wait()

	opts.Logger.Info("sweep finished",
		"items", len(opts.Items),
		"succeeded", len(result.Signals),
		"failed", len(result.Errors))
	return result, nil
}
