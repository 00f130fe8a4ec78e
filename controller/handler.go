package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deepnoodle-ai/reflow"
)

// ErrorHandler is a registered rule mapping certain failure statuses to
// corrective input mutations. Handlers are consulted in descending priority
// order and evaluation stops at the first that reports Handled.
type ErrorHandler interface {
	// Name identifies the handler in attempt histories and logs
	Name() string

	// Priority orders handler evaluation; higher runs first
	Priority() int

	// Matches reports whether the handler applies to a status code
	Matches(status int) bool

	// Apply inspects the failed attempt and may mutate the next-attempt
	// inputs on the run context before returning its outcome. An error
	// return is a handler fault: fatal for the run, surfaced verbatim.
	Apply(ctx context.Context, rc *RunContext, last *Attempt) (reflow.HandlerOutcome, error)
}

// HandlerFunc is the function signature wrapped by NewHandler
type HandlerFunc func(ctx context.Context, rc *RunContext, last *Attempt) (reflow.HandlerOutcome, error)

type funcHandler struct {
	name     string
	priority int
	statuses map[int]bool
	fn       HandlerFunc
}

// NewHandler creates an ErrorHandler from a plain function. The handler
// matches exactly the given status codes.
func NewHandler(name string, priority int, statuses []int, fn HandlerFunc) ErrorHandler {
	set := make(map[int]bool, len(statuses))
	for _, status := range statuses {
		set[status] = true
	}
	return &funcHandler{name: name, priority: priority, statuses: set, fn: fn}
}

func (h *funcHandler) Name() string            { return h.name }
func (h *funcHandler) Priority() int           { return h.priority }
func (h *funcHandler) Matches(status int) bool { return h.statuses[status] }

func (h *funcHandler) Apply(ctx context.Context, rc *RunContext, last *Attempt) (reflow.HandlerOutcome, error) {
	return h.fn(ctx, rc, last)
}

// Registry holds the error handlers registered for a work item type, sorted
// by descending priority at registration time. The controller only reads
// from it; registration happens ahead of time.
type Registry struct {
	handlers []ErrorHandler
	mutex    sync.RWMutex
}

// NewRegistry creates a registry containing the given handlers
func NewRegistry(handlers ...ErrorHandler) *Registry {
	r := &Registry{}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds a handler, keeping the list sorted by descending priority.
// Registration order breaks ties, so equal-priority handlers are evaluated
// in the order they were registered.
func (r *Registry) Register(handler ErrorHandler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers = append(r.handlers, handler)
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].Priority() > r.handlers[j].Priority()
	})
}

// Select returns the handlers matching a status code, in evaluation order
func (r *Registry) Select(status int) []ErrorHandler {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var matched []ErrorHandler
	for _, h := range r.handlers {
		if h.Matches(status) {
			matched = append(matched, h)
		}
	}
	return matched
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.handlers)
}

// ScaleParameter returns a handler that multiplies a numeric input parameter
// by a factor before the next attempt. A typical use is reducing a mixing
// parameter after a convergence failure. The handler declines when the
// parameter is absent or non-numeric.
func ScaleParameter(name string, priority int, statuses []int, param string, factor float64, restart reflow.RestartType) ErrorHandler {
	return NewHandler(name, priority, statuses, func(ctx context.Context, rc *RunContext, last *Attempt) (reflow.HandlerOutcome, error) {
		value, ok := rc.Input(param)
		if !ok {
			return reflow.HandlerOutcome{Handled: false}, nil
		}
		number, ok := toFloat(value)
		if !ok {
			return reflow.HandlerOutcome{Handled: false}, nil
		}
		scaled := number * factor
		rc.SetInput(param, scaled)
		return reflow.HandlerOutcome{
			Handled: true,
			Restart: restart,
			Message: fmt.Sprintf("scaled %s from %g to %g", param, number, scaled),
		}, nil
	})
}

// Unrecoverable returns a handler that terminates the run immediately for
// the given status codes, regardless of remaining retry budget.
func Unrecoverable(name string, priority int, statuses []int, message string) ErrorHandler {
	return NewHandler(name, priority, statuses, func(ctx context.Context, rc *RunContext, last *Attempt) (reflow.HandlerOutcome, error) {
		return reflow.HandlerOutcome{Handled: true, Break: true, Message: message}, nil
	})
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
