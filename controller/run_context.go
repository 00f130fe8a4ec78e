package controller

import (
	"time"

	"github.com/deepnoodle-ai/reflow"
)

// RunContext is the mutable per-run state owned exclusively by one
// Controller instance for the lifetime of one top-level invocation. It is
// passed by reference into handlers, which may mutate the next-attempt
// inputs; it is never shared between controllers.
type RunContext struct {
	// Inputs are the inputs for the next attempt. Handlers mutate these to
	// apply corrective changes (for example scaling a numeric parameter).
	Inputs map[string]any

	// MaxRetries bounds the retry budget; the attempt count never exceeds
	// MaxRetries+1.
	MaxRetries int

	// Attempts is the history of executed attempts, oldest first
	Attempts []*Attempt
}

// Attempt records one execution attempt and the handler decisions it drew
type Attempt struct {
	Number     int                       `json:"number"`
	Inputs     map[string]any            `json:"inputs"`
	Signal     *reflow.TerminationSignal `json:"signal,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Restart    reflow.RestartType        `json:"restart,omitempty"`
	Decisions  []HandlerDecision         `json:"decisions,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

// HandlerDecision records one handler consultation during evaluation
type HandlerDecision struct {
	Handler string                `json:"handler"`
	Outcome reflow.HandlerOutcome `json:"outcome"`
}

func newRunContext(item *reflow.WorkItem, maxRetries int) *RunContext {
	return &RunContext{
		Inputs:     reflow.CopyValues(item.Inputs),
		MaxRetries: maxRetries,
	}
}

// AttemptCount returns the number of executed attempts
func (rc *RunContext) AttemptCount() int {
	return len(rc.Attempts)
}

// LastAttempt returns the most recent attempt, or nil before the first one
func (rc *RunContext) LastAttempt() *Attempt {
	if len(rc.Attempts) == 0 {
		return nil
	}
	return rc.Attempts[len(rc.Attempts)-1]
}

// Input returns a next-attempt input value
func (rc *RunContext) Input(key string) (any, bool) {
	value, ok := rc.Inputs[key]
	return value, ok
}

// SetInput sets a next-attempt input value
func (rc *RunContext) SetInput(key string, value any) {
	rc.Inputs[key] = value
}
