package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/deepnoodle-ai/reflow"
	"github.com/deepnoodle-ai/reflow/log"
)

const (
	DefaultTransportRetries = 5
	DefaultBaseWait         = 1 * time.Second
	DefaultMaxWait          = 30 * time.Second
)

// RetryingRunner wraps a Runner and retries transport failures with jittered
// exponential backoff. Domain failures, reported through the termination
// signal, pass through untouched; only errors marked as TransportError are
// retried. Once the budget is spent the wrapped error matches
// reflow.ErrTransportExhausted, which the controller maps to the paused
// state.
type RetryingRunner struct {
	inner      reflow.Runner
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
	logger     log.Logger
}

// RetryOption configures a RetryingRunner
type RetryOption func(*RetryingRunner)

// WithMaxRetries sets the number of transport attempts
func WithMaxRetries(n int) RetryOption {
	return func(r *RetryingRunner) { r.maxRetries = n }
}

// WithBaseWait sets the wait before the second attempt
func WithBaseWait(d time.Duration) RetryOption {
	return func(r *RetryingRunner) { r.baseWait = d }
}

// WithMaxWait caps the backoff between attempts
func WithMaxWait(d time.Duration) RetryOption {
	return func(r *RetryingRunner) { r.maxWait = d }
}

// WithRetryLogger sets the logger used for retry warnings
func WithRetryLogger(logger log.Logger) RetryOption {
	return func(r *RetryingRunner) { r.logger = logger }
}

// NewRetryingRunner wraps a runner with transport retry behavior
func NewRetryingRunner(inner reflow.Runner, opts ...RetryOption) *RetryingRunner {
	r := &RetryingRunner{
		inner:      inner,
		maxRetries: DefaultTransportRetries,
		baseWait:   DefaultBaseWait,
		maxWait:    DefaultMaxWait,
		logger:     log.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxRetries <= 0 {
		r.maxRetries = DefaultTransportRetries
	}
	return r
}

// Run executes the wrapped runner, retrying transport failures
func (r *RetryingRunner) Run(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
	var lastError error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter
			backoff := time.Duration(float64(r.baseWait) * math.Pow(2, float64(attempt-1)))
			if backoff > r.maxWait {
				backoff = r.maxWait
			}
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		signal, err := r.inner.Run(ctx, item)
		if err != nil {
			var transportErr *reflow.TransportError
			if !errors.As(err, &transportErr) {
				return nil, err
			}
			lastError = err
			r.logger.Warn("transport failure, backing off",
				"work_item", item.Name, "attempt", attempt+1, "error", err)
			continue
		}
		return signal, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %s",
		reflow.ErrTransportExhausted, r.maxRetries, lastError.Error())
}
