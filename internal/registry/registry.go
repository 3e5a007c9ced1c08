// Package registry provides the process-wide cooperative cancellation
// flag the concurrency model (spec section 5) names: on SIGINT/SIGTERM
// the orchestrator flips it, in-flight kernels finish their current unit
// of work, and every worker checks it between kernels rather than being
// interrupted mid-kernel. The per-family component registries
// (distributions, strategies) already live next to their interfaces in
// internal/distribution and internal/strategy, following the teacher's
// registry-by-name idiom directly at the point of use; this package holds
// only the cross-cutting single-writer/many-reader flag those packages
// don't each need their own copy of.
package registry

import "sync/atomic"

// CancellationFlag is a single-writer/many-reader flag: exactly one
// goroutine (the orchestrator's signal handler) calls Cancel; any number
// of worker goroutines call Cancelled between kernels.
type CancellationFlag struct {
	flag atomic.Bool
}

// Cancel flips the flag. Idempotent.
func (c *CancellationFlag) Cancel() {
	c.flag.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (c *CancellationFlag) Cancelled() bool {
	return c.flag.Load()
}
