package reflow

import "errors"

// ErrTransportExhausted is returned by a runner once its low-level transport
// retry budget is spent. The controller maps it to the paused state rather
// than a terminal failure, so an operator can resume the run after the
// underlying transient issue is resolved.
var ErrTransportExhausted = errors.New("transport retries exhausted")

// TransportError marks a runner failure as transient transport trouble
// (scheduler unreachable, submission refused) rather than a domain failure.
// Retrying runners keep retrying these; anything else passes through.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrRunCancelled is returned by Run when the caller cancels the controller
// between attempts.
var ErrRunCancelled = errors.New("run cancelled")

// ErrMaxRetriesExceeded is returned when the retry budget is spent without a
// successful attempt.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// HandlerError wraps an error raised by an error handler itself. Handler
// faults are always fatal for the run and surfaced verbatim, never retried.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return "handler " + e.Handler + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
