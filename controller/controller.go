// Package controller implements the automatic restart controller: it
// executes a work item to completion, retrying through recoverable failures
// using caller-registered error handlers, and records every attempt to the
// run journal.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/cache"
	"github.com/deepnoodle-ai/reflow/journal"
	"github.com/deepnoodle-ai/reflow/log"
)

// DefaultMaxRetries bounds the retry budget when none is configured
const DefaultMaxRetries = 5

// Options configures a Controller
type Options struct {
	Item       *reflow.WorkItem
	Runner     reflow.Runner
	Handlers   *Registry
	MaxRetries int
	Cache      *cache.Cache
	Journal    journal.Store
	Logger     log.Logger
}

// Controller drives one work item through the restart state machine:
// pending → running → evaluating → {retrying → running} | completed |
// failed, with paused as a non-terminal, operator-resumable state. One
// controller instance exclusively owns one run; many instances may be
// active concurrently, each independent.
type Controller struct {
	id      string
	item    *reflow.WorkItem
	runner  reflow.Runner
	reg     *Registry
	rc      *RunContext
	cache   *cache.Cache
	store   journal.Store
	logger  log.Logger
	snap    *journal.RunSnapshot
	seq     int64
	resume  chan struct{}
	cancel  chan struct{}
	reason  string
	once    sync.Once
	mutex   sync.RWMutex
	status  reflow.RunStatus
	started bool
}

// New creates a Controller for one work item
func New(opts Options) (*Controller, error) {
	if opts.Item == nil {
		return nil, fmt.Errorf("work item is required")
	}
	if err := opts.Item.Validate(); err != nil {
		return nil, fmt.Errorf("invalid work item: %w", err)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if opts.Handlers == nil {
		opts.Handlers = NewRegistry()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Journal == nil {
		opts.Journal = journal.NewNullStore()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}

	id := journal.NewRunID()
	return &Controller{
		id:     id,
		item:   opts.Item.Clone(),
		runner: opts.Runner,
		reg:    opts.Handlers,
		rc:     newRunContext(opts.Item, opts.MaxRetries),
		cache:  opts.Cache,
		store:  opts.Journal,
		logger: opts.Logger.With("run_id", id, "work_item", opts.Item.Name),
		resume: make(chan struct{}, 1),
		cancel: make(chan struct{}),
		status: reflow.RunStatusPending,
	}, nil
}

// ID returns the run ID
func (c *Controller) ID() string {
	return c.id
}

// Status returns the current run status
func (c *Controller) Status() reflow.RunStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.status
}

// History returns the executed attempts, oldest first
func (c *Controller) History() []*Attempt {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	history := make([]*Attempt, len(c.rc.Attempts))
	copy(history, c.rc.Attempts)
	return history
}

// Cancel requests cancellation of the run. It takes effect between attempts
// (never mid-attempt), transitions directly to the cancelled terminal state,
// and bypasses handler dispatch.
func (c *Controller) Cancel(reason string) {
	c.once.Do(func() {
		c.mutex.Lock()
		c.reason = reason
		c.mutex.Unlock()
		close(c.cancel)
	})
}

// Resume re-enters the running state with the last pending inputs. It only
// applies to a paused run; callers such as an operator tool invoke it after
// resolving the transient transport issue that caused the pause.
func (c *Controller) Resume() error {
	if c.Status() != reflow.RunStatusPaused {
		return fmt.Errorf("run %s is not paused (status %s)", c.id, c.Status())
	}
	select {
	case c.resume <- struct{}{}:
	default:
	}
	return nil
}

// Run executes the work item to completion. It returns the final
// termination signal along with a non-nil error for every non-successful
// terminal state. The signal of a cache hit carries FromCache and is
// otherwise indistinguishable from a fresh success.
func (c *Controller) Run(ctx context.Context) (*reflow.TerminationSignal, error) {
	c.mutex.Lock()
	if c.started {
		c.mutex.Unlock()
		return nil, fmt.Errorf("run %s already started", c.id)
	}
	c.started = true
	c.status = reflow.RunStatusRunning
	c.snap = &journal.RunSnapshot{
		ID:           c.id,
		WorkItemName: c.item.Name,
		Status:       reflow.RunStatusRunning,
		StartTime:    reflow.Timestamp(),
	}
	c.mutex.Unlock()

	c.record(ctx, journal.EventRunStarted, 0, map[string]any{"work_item": c.item.Name})

	// Cache check happens before any execution. A lookup error degrades to a
	// miss: caching must never prevent a run from executing.
	if c.cache != nil {
		fingerprint, entry, found, err := c.cache.Lookup(ctx, c.item)
		if err != nil {
			c.logger.Warn("cache lookup failed, treating as miss", "error", err)
		}
		c.snap.Fingerprint = fingerprint
		if found {
			signal := c.cache.Clone(entry)
			c.record(ctx, journal.EventCacheHit, 0, map[string]any{
				"fingerprint":   fingerprint,
				"source_run_id": entry.SourceRunID,
			})
			c.finish(ctx, reflow.RunStatusCompleted, signal, "")
			c.logger.Info("cache hit, skipped execution", "source_run_id", entry.SourceRunID)
			return signal, nil
		}
	}

	for {
		// Cancellation takes effect between attempts only
		if c.cancelled() {
			return c.finishCancelled(ctx)
		}

		number := c.rc.AttemptCount() + 1
		c.record(ctx, journal.EventAttemptStarted, number, map[string]any{"inputs": c.rc.Inputs})
		c.logger.Info("starting attempt", "attempt", number)

		attempt := &Attempt{
			Number:    number,
			Inputs:    reflow.CopyValues(c.rc.Inputs),
			StartedAt: reflow.Timestamp(),
		}
		signal, err := c.runner.Run(ctx, c.attemptItem())
		attempt.FinishedAt = reflow.Timestamp()

		if err != nil && errors.Is(err, reflow.ErrTransportExhausted) {
			// Transport retries spent: pause rather than fail, and wait for
			// an operator to resume. The attempt never produced a signal and
			// does not count against the retry budget.
			if done, result, rerr := c.pause(ctx, err); done {
				return result, rerr
			}
			continue
		}

		c.appendAttempt(attempt)

		if err != nil {
			// Infrastructure failure: the engine itself failed with no
			// domain status. The implicit default policy grants bounded
			// resubmits without handler dispatch.
			attempt.Error = err.Error()
			c.record(ctx, journal.EventAttemptFailed, number, map[string]any{"error": err.Error()})
			if c.rc.AttemptCount() < c.rc.MaxRetries {
				attempt.Restart = reflow.RestartResubmit
				c.logger.Warn("attempt failed, resubmitting", "attempt", number, "error", err)
				continue
			}
			return c.finishFailed(ctx, nil, fmt.Errorf("%w: %s", reflow.ErrMaxRetriesExceeded, err))
		}

		attempt.Signal = signal

		if signal.OK() {
			c.record(ctx, journal.EventAttemptCompleted, number, map[string]any{"outputs": signal.Outputs})
			c.storeInCache(ctx, signal)
			c.finish(ctx, reflow.RunStatusCompleted, signal, "")
			c.logger.Info("run completed", "attempts", number)
			return signal, nil
		}

		c.record(ctx, journal.EventAttemptFailed, number, map[string]any{
			"status":  signal.Status,
			"message": signal.Message,
		})

		outcome, err := c.evaluate(ctx, attempt)
		if err != nil {
			// Handler fault: fatal, surfaced verbatim, never retried
			return c.finishFailed(ctx, signal, err)
		}
		if outcome == nil {
			// No handler claimed the failure: implicit default handler
			if c.rc.AttemptCount() < c.rc.MaxRetries {
				attempt.Restart = reflow.RestartResubmit
				attempt.Decisions = append(attempt.Decisions, HandlerDecision{
					Handler: "default",
					Outcome: reflow.HandlerOutcome{Handled: true, Restart: reflow.RestartResubmit},
				})
				c.logger.Warn("no handler matched, resubmitting",
					"attempt", number, "status", signal.Status)
				continue
			}
			return c.finishFailed(ctx, signal,
				fmt.Errorf("%w: status %d unhandled", reflow.ErrMaxRetriesExceeded, signal.Status))
		}
		if outcome.Break {
			c.logger.Warn("handler declared failure unrecoverable",
				"attempt", number, "status", signal.Status)
			return c.finishFailed(ctx, signal,
				fmt.Errorf("unrecoverable failure (status %d): %s", signal.Status, signal.Message))
		}
		if c.rc.AttemptCount() >= c.rc.MaxRetries+1 {
			return c.finishFailed(ctx, signal,
				fmt.Errorf("%w: status %d after %d attempts",
					reflow.ErrMaxRetriesExceeded, signal.Status, c.rc.AttemptCount()))
		}

		attempt.Restart = outcome.Restart
		if outcome.Restart == reflow.RestartFull {
			c.rootNextAttempt(attempt)
		}
		c.logger.Info("retrying", "attempt", number, "restart", string(outcome.Restart))
	}
}

// evaluate scans matching handlers in descending priority order and returns
// the first outcome with Handled set, or nil when every handler declined.
// A handler error or panic aborts evaluation.
func (c *Controller) evaluate(ctx context.Context, attempt *Attempt) (*reflow.HandlerOutcome, error) {
	for _, handler := range c.reg.Select(attempt.Signal.Status) {
		outcome, err := c.applyHandler(ctx, handler, attempt)
		if err != nil {
			return nil, &reflow.HandlerError{Handler: handler.Name(), Err: err}
		}
		attempt.Decisions = append(attempt.Decisions, HandlerDecision{
			Handler: handler.Name(),
			Outcome: outcome,
		})
		c.record(ctx, journal.EventHandlerInvoked, attempt.Number, map[string]any{
			"handler": handler.Name(),
			"handled": outcome.Handled,
			"restart": string(outcome.Restart),
			"break":   outcome.Break,
		})
		if !outcome.Handled {
			continue
		}
		return &outcome, nil
	}
	return nil, nil
}

func (c *Controller) applyHandler(ctx context.Context, handler ErrorHandler, attempt *Attempt) (outcome reflow.HandlerOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler.Apply(ctx, c.rc, attempt)
}

// pause suspends the run until the operator resumes it. The boolean result
// reports whether the run reached a terminal state while waiting.
func (c *Controller) pause(ctx context.Context, cause error) (bool, *reflow.TerminationSignal, error) {
	c.setStatus(reflow.RunStatusPaused)
	c.record(ctx, journal.EventRunPaused, c.rc.AttemptCount()+1, map[string]any{"error": cause.Error()})
	c.saveSnapshot(ctx)
	c.logger.Warn("run paused, waiting for resume", "error", cause)

	select {
	case <-ctx.Done():
		signal, err := c.finishFailed(ctx, nil, fmt.Errorf("paused run abandoned: %w", ctx.Err()))
		return true, signal, err
	case <-c.cancel:
		signal, err := c.finishCancelled(ctx)
		return true, signal, err
	case <-c.resume:
		c.setStatus(reflow.RunStatusRunning)
		c.record(ctx, journal.EventRunResumed, c.rc.AttemptCount()+1, nil)
		c.logger.Info("run resumed")
		return false, nil, nil
	}
}

// rootNextAttempt seeds the next attempt with the restart artifact produced
// by the failed one, so the new execution is built fresh from that artifact
// rather than from accumulated state.
func (c *Controller) rootNextAttempt(attempt *Attempt) {
	slot := c.item.RestartFrom
	if slot == "" || attempt.Signal == nil {
		return
	}
	if artifact, ok := attempt.Signal.Outputs[slot]; ok {
		c.rc.SetInput(slot, artifact)
	}
}

func (c *Controller) attemptItem() *reflow.WorkItem {
	item := c.item.Clone()
	item.Inputs = reflow.CopyValues(c.rc.Inputs)
	return item
}

func (c *Controller) appendAttempt(attempt *Attempt) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.rc.Attempts = append(c.rc.Attempts, attempt)
}

func (c *Controller) cancelled() bool {
	select {
	case <-c.cancel:
		return true
	default:
		return false
	}
}

func (c *Controller) setStatus(status reflow.RunStatus) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status = status
	c.snap.Status = status
}

func (c *Controller) finishCancelled(ctx context.Context) (*reflow.TerminationSignal, error) {
	c.mutex.RLock()
	reason := c.reason
	c.mutex.RUnlock()

	signal := &reflow.TerminationSignal{
		Status:  reflow.StatusCancelled,
		Message: reason,
	}
	c.record(ctx, journal.EventRunCancelled, c.rc.AttemptCount(), map[string]any{"reason": reason})
	c.finish(ctx, reflow.RunStatusCancelled, signal, reason)
	c.logger.Info("run cancelled", "reason", reason)
	return signal, reflow.ErrRunCancelled
}

func (c *Controller) finishFailed(ctx context.Context, last *reflow.TerminationSignal, cause error) (*reflow.TerminationSignal, error) {
	signal := last
	if signal == nil {
		signal = &reflow.TerminationSignal{Status: -1, Message: cause.Error()}
	}
	c.record(ctx, journal.EventRunFailed, c.rc.AttemptCount(), map[string]any{
		"status": signal.Status,
		"error":  cause.Error(),
	})
	c.finish(ctx, reflow.RunStatusFailed, signal, cause.Error())
	c.logger.Error("run failed", "attempts", c.rc.AttemptCount(), "error", cause)
	return signal, cause
}

func (c *Controller) finish(ctx context.Context, status reflow.RunStatus, signal *reflow.TerminationSignal, errMsg string) {
	c.setStatus(status)
	if status == reflow.RunStatusCompleted {
		c.record(ctx, journal.EventRunCompleted, c.rc.AttemptCount(), map[string]any{
			"from_cache": signal.FromCache,
		})
	}
	c.mutex.Lock()
	c.snap.EndTime = reflow.Timestamp()
	c.snap.AttemptCount = c.rc.AttemptCount()
	c.snap.Outputs = signal.Outputs
	c.snap.FromCache = signal.FromCache
	c.snap.Error = errMsg
	c.mutex.Unlock()
	c.saveSnapshot(ctx)
}

func (c *Controller) storeInCache(ctx context.Context, signal *reflow.TerminationSignal) {
	if c.cache == nil || c.snap.Fingerprint == "" {
		return
	}
	if err := c.cache.Store(ctx, c.snap.Fingerprint, c.id, signal); err != nil {
		// Failing to cache never fails the run
		c.logger.Warn("failed to store cache entry", "error", err)
	}
}

// record appends one event to the journal. Journal failures are logged and
// otherwise ignored: history is diagnostic, not load-bearing.
func (c *Controller) record(ctx context.Context, eventType journal.RunEventType, attempt int, data map[string]any) {
	c.mutex.Lock()
	c.seq++
	seq := c.seq
	c.snap.LastEventSeq = seq
	c.mutex.Unlock()

	event := journal.NewEvent(c.id, seq, eventType, attempt, data)
	if err := c.store.AppendEvents(ctx, []*journal.RunEvent{event}); err != nil {
		c.logger.Warn("failed to append journal event", "event_type", string(eventType), "error", err)
	}
}

func (c *Controller) saveSnapshot(ctx context.Context) {
	c.mutex.RLock()
	snapshot := *c.snap
	c.mutex.RUnlock()
	if err := c.store.SaveSnapshot(ctx, &snapshot); err != nil {
		c.logger.Warn("failed to save run snapshot", "error", err)
	}
}
