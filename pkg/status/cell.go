package status

import (
	"sync"
	"time"
)

// Reporter receives progress for the current phase.
type Reporter func(Phase, Progress)

// Cell is a single-slot, last-write-wins holder of the latest Status.
// Intermediate writes are best-effort; the terminal write is guaranteed.
type Cell struct {
	mu       sync.Mutex
	current  Status
	finished bool
	done     chan struct{}
}

// NewCell returns a cell holding the Idle status.
func NewCell() *Cell {
	return &Cell{done: make(chan struct{})}
}

// Set overwrites the current status without blocking. If the cell is
// contended, or already holds a terminal status, the write is dropped.
func (c *Cell) Set(s Status) {
	if s.Terminal() {
		c.Finish(s)
		return
	}
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.current = s
}

// Finish stores the terminal status and releases waiters. Only the first
// call has an effect.
func (c *Cell) Finish(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.current = s
	c.finished = true
	close(c.done)
}

// Get returns a copy of the latest status.
func (c *Cell) Get() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Done is closed once a terminal status has been stored.
func (c *Cell) Done() <-chan struct{} {
	return c.done
}

// Reporter returns a Reporter writing Active statuses into the cell.
func (c *Cell) Reporter() Reporter {
	return func(phase Phase, p Progress) {
		c.Set(Active(phase, p))
	}
}

// DefaultInterval is the minimum spacing between progress reports.
const DefaultInterval = 250 * time.Millisecond

// Throttle lets through at most one event per interval.
type Throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle whose first Allow call succeeds only after
// interval has elapsed since creation, matching a report cadence that starts
// with the operation.
func NewThrottle(interval time.Duration) *Throttle {
	t := &Throttle{interval: interval, now: time.Now}
	t.last = t.now()
	return t
}

// Allow reports whether an event may be emitted now, and if so resets the window.
func (t *Throttle) Allow() bool {
	now := t.now()
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
