// Package reflow provides an automatic restart controller and a
// content-addressed result cache for expensive, repeatable units of
// computation. A controller wraps repeated invocation of a single unit of
// work, inspects its termination signal, consults caller-registered error
// handlers in priority order, and decides whether to retry, escalate, or
// stop. The cache fingerprints fully resolved inputs so an equivalent prior
// success can be restored instead of re-executed.
package reflow
