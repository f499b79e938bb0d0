// Package office supervises the long-lived office process that every
// primary-backend conversion talks to, and bounds each conversion in time.
package office

import "context"

// Restarter replaces a broken process with a fresh one.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Session is the process-wide handle to the office process. Holders of the
// session (between Acquire and Release) have exclusive use of it.
type Session interface {
	Restarter
	Acquire()
	Release()
	// Status reports liveness without blocking.
	Status() bool
	EnsureRunning(ctx context.Context) error
	Address() (host string, port int)
}
