package reflow

import (
	"context"
	"fmt"
	"time"
)

// RestartType defines how the next attempt relates to the one that failed
type RestartType string

const (
	// RestartNone indicates the inputs need no change before the next attempt
	RestartNone RestartType = "none"

	// RestartResubmit resubmits the current inputs unchanged
	RestartResubmit RestartType = "resubmit"

	// RestartFull builds a brand-new execution rooted at an artifact produced
	// by the failed attempt, discarding other partial state
	RestartFull RestartType = "full"
)

// RunStatus indicates the lifecycle state of a controlled run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further attempts can occur in this state.
// Paused is deliberately non-terminal: a paused run is operator-resumable.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Well-known status codes carried by a TerminationSignal. Zero is the only
// success value. The nonzero codes form a domain-specific taxonomy; callers
// may define their own codes alongside these.
const (
	StatusOK = 0

	// StatusWalltimeExceeded indicates the execution ran out of its time budget
	StatusWalltimeExceeded = 400

	// StatusConvergenceNotReached indicates an iterative calculation stopped
	// before reaching its convergence threshold
	StatusConvergenceNotReached = 410

	// StatusCancelled is reported when the caller cancels a run between attempts
	StatusCancelled = 901
)

// WorkItem is an immutable description of one unit of work: fully resolved
// input values plus execution options. Options never participate in
// fingerprinting; only Inputs do.
type WorkItem struct {
	Name    string         `json:"name"`
	Inputs  map[string]any `json:"inputs"`
	Options map[string]any `json:"options,omitempty"`

	// RestartFrom names the output slot whose artifact seeds a full restart
	// (for example a remote working folder produced by the failed attempt).
	RestartFrom string `json:"restart_from,omitempty"`
}

// Validate checks that the work item is well formed
func (w *WorkItem) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("work item name is required")
	}
	if w.Inputs == nil {
		return fmt.Errorf("work item inputs are required")
	}
	return nil
}

// Clone returns a deep copy of the work item. The controller clones the item
// before mutating per-attempt inputs so the caller's value stays untouched.
func (w *WorkItem) Clone() *WorkItem {
	return &WorkItem{
		Name:        w.Name,
		Inputs:      CopyValues(w.Inputs),
		Options:     CopyValues(w.Options),
		RestartFrom: w.RestartFrom,
	}
}

// TerminationSignal is the result of one execution attempt
type TerminationSignal struct {
	Status  int            `json:"status"`
	Message string         `json:"message,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`

	// FromCache marks a result restored from a prior equivalent execution.
	// It is the only observable difference between a cache hit and a fresh run.
	FromCache bool `json:"from_cache,omitempty"`
}

// OK reports whether the attempt terminated nominally
func (s *TerminationSignal) OK() bool {
	return s != nil && s.Status == StatusOK
}

// Failed reports whether the attempt terminated with a nonzero status
func (s *TerminationSignal) Failed() bool {
	return s != nil && s.Status != StatusOK
}

// Runner executes a work item's resolved inputs and yields exactly one
// termination signal per invocation. Implementations perform the actual
// computation (process launch, transport, monitoring, retrieval); the
// controller treats them as opaque.
type Runner interface {
	Run(ctx context.Context, item *WorkItem) (*TerminationSignal, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, item *WorkItem) (*TerminationSignal, error)

// Run implements the Runner interface
func (f RunnerFunc) Run(ctx context.Context, item *WorkItem) (*TerminationSignal, error) {
	return f(ctx, item)
}

// HandlerOutcome is the tagged decision returned by an error handler
type HandlerOutcome struct {
	// Handled reports whether the handler claimed this failure. A false value
	// means the handler declined and lower-priority handlers are consulted.
	Handled bool `json:"handled"`

	// Restart selects how the next attempt relates to the failed one
	Restart RestartType `json:"restart,omitempty"`

	// Break terminates the run immediately regardless of remaining retry
	// budget (unrecoverable failure with no further remedy)
	Break bool `json:"break,omitempty"`

	// Message optionally explains the decision for the attempt history
	Message string `json:"message,omitempty"`
}

// Timestamp returns the current UTC time, truncated for stable serialization
func Timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
