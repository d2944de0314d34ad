// Package cancel provides the cooperative stop flag shared between a flash
// job and its caller.
package cancel

import "sync/atomic"

// Flag starts in the running state. The caller may Stop it at any time;
// nothing ever resets it. Use one Flag per job.
type Flag struct {
	stopped atomic.Bool
}

// NewFlag returns a running flag.
func NewFlag() *Flag {
	return &Flag{}
}

// Stop requests cancellation.
func (f *Flag) Stop() {
	f.stopped.Store(true)
}

// Running reports whether the job may continue. A nil flag is always running.
func (f *Flag) Running() bool {
	return f == nil || !f.stopped.Load()
}

// Stopped is the negation of Running.
func (f *Flag) Stopped() bool {
	return !f.Running()
}
