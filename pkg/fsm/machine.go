// Package fsm runs flash jobs as a durable workflow on superfly/fsm: the job
// is recorded in history, flashed once, and completed. The flash state is
// never retried.
package fsm

import (
	"context"
	"sync"

	"github.com/imageflash/flasher/pkg/cancel"
	"github.com/imageflash/flasher/pkg/db"
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/flash"
	"github.com/imageflash/flasher/pkg/status"
	"github.com/superfly/fsm"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	deps       flash.Deps
	maxRetries int

	mu       sync.Mutex
	runtimes map[string]*jobRuntime
}

// jobRuntime is the in-process state shared with the caller of one job
type jobRuntime struct {
	cell    *status.Cell
	flag    *cancel.Flag
	outcome *flash.Outcome
}

// NewMachine creates a new FSM machine with dependencies. maxRetries bounds
// the bookkeeping states and is at least 1.
func NewMachine(repo *db.Repository, deps flash.Deps, maxRetries int) *Machine {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Machine{
		repo:       repo,
		deps:       deps,
		maxRetries: maxRetries,
		runtimes:   make(map[string]*jobRuntime),
	}
}

// Register registers the flash FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[FlashRequest, FlashResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FlashRequest, FlashResponse](manager, "flash-job").
		Start(StateRecord, m.handleRecord).
		To(StateFlash, m.handleFlash).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Attach binds the status cell and stop flag of the job with the given key.
// It must be called before the job is started; a job without them cannot
// be flashed.
func (m *Machine) Attach(key string, cell *status.Cell, flag *cancel.Flag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtimes[key] = &jobRuntime{cell: cell, flag: flag}
}

// Outcome returns the outcome of a job flashed by this process
func (m *Machine) Outcome(key string) (flash.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[key]
	if !ok || rt.outcome == nil {
		return flash.Outcome{}, false
	}
	return *rt.outcome, true
}

func (m *Machine) runtimeFor(key string) (*jobRuntime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[key]
	return rt, ok
}

func (m *Machine) setOutcome(key string, out flash.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[key]; ok {
		rt.outcome = &out
	}
}
