// Package flash orchestrates one flash job: prepare the device, resolve the
// image, copy it and finalize the device.
package flash

import (
	"github.com/imageflash/flasher/pkg/errors"
	"github.com/imageflash/flasher/pkg/status"
)

// State is a step of the job state machine
type State int

const (
	StateCreated State = iota
	StatePreparing
	StateDownloading
	StateCopying
	StateFinalizing
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePreparing:
		return "preparing"
	case StateDownloading:
		return "downloading"
	case StateCopying:
		return "copying"
	case StateFinalizing:
		return "finalizing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the job
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Outcome is the result of a finished job
type Outcome struct {
	State State
	// Err is the fatal error for StateFailed, nil otherwise
	Err          error
	BytesWritten int64
	// Finalized is true when the device was rescanned and ejected
	Finalized bool
	// CachePath is the downloaded or decompressed image left in the cache
	CachePath string
}

// Status converts the outcome to the terminal status published to observers
func (o Outcome) Status() status.Status {
	switch o.State {
	case StateSucceeded:
		return status.Succeeded()
	case StateCancelled:
		return status.Stopped()
	default:
		if o.Err == nil {
			return status.Failed("")
		}
		return status.Failed(o.Err.Error())
	}
}

func outcomeOf(err error, written int64, finalized bool) Outcome {
	switch {
	case err == nil:
		return Outcome{State: StateSucceeded, BytesWritten: written, Finalized: finalized}
	case errors.IsCancelled(err):
		return Outcome{State: StateCancelled, BytesWritten: written, Finalized: finalized}
	default:
		return Outcome{State: StateFailed, Err: err, BytesWritten: written, Finalized: finalized}
	}
}
