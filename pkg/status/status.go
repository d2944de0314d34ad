// Package status holds the observable state of a flash job and the
// single-slot cell it is published through.
package status

import (
	"fmt"
	"math"
)

// Phase drives the user-facing phase label.
type Phase int

const (
	PhaseDownloading Phase = iota + 1
	// PhaseCopying covers both decompression and the raw copy.
	PhaseCopying
)

func (p Phase) String() string {
	switch p {
	case PhaseDownloading:
		return "downloading"
	case PhaseCopying:
		return "copying"
	default:
		return "unknown"
	}
}

// Progress is either a determinate fraction in [0,1] or an indeterminate pulse.
type Progress struct {
	fraction float64
	pulse    bool
}

// Pulse is indeterminate progress, used while the total size is unknown.
var Pulse = Progress{pulse: true}

// Fraction returns determinate progress clamped to [0,1]. NaN degrades to Pulse.
func Fraction(f float64) Progress {
	if math.IsNaN(f) {
		return Pulse
	}
	return Progress{fraction: math.Min(1, math.Max(0, f))}
}

// FractionOf computes done/total, degrading to Pulse when total is unknown or zero.
func FractionOf(done, total int64) Progress {
	if total <= 0 {
		return Pulse
	}
	return Fraction(float64(done) / float64(total))
}

// IsPulse reports whether p is indeterminate.
func (p Progress) IsPulse() bool { return p.pulse }

// Value returns the fraction and true, or 0 and false for Pulse.
func (p Progress) Value() (float64, bool) {
	if p.pulse {
		return 0, false
	}
	return p.fraction, true
}

func (p Progress) String() string {
	if p.pulse {
		return "pulse"
	}
	return fmt.Sprintf("%.1f%%", p.fraction*100)
}

// Kind tags the variant held by a Status.
type Kind int

const (
	KindIdle Kind = iota
	KindActive
	KindDone
)

// Status is the job's observable state: Idle before the job starts,
// Active(phase, progress) while running, Done at the end.
//
// A Done status is a success when Message is empty and Cancelled is false.
type Status struct {
	Kind      Kind
	Phase     Phase
	Progress  Progress
	Message   string
	Cancelled bool
}

// Active builds a running status.
func Active(phase Phase, progress Progress) Status {
	return Status{Kind: KindActive, Phase: phase, Progress: progress}
}

// Succeeded is the terminal status of a successful job.
func Succeeded() Status {
	return Status{Kind: KindDone}
}

// Failed is the terminal status of a failed job. msg must be non-empty.
func Failed(msg string) Status {
	if msg == "" {
		msg = "flash failed"
	}
	return Status{Kind: KindDone, Message: msg}
}

// Stopped is the terminal status of a cancelled job. It carries no message.
func Stopped() Status {
	return Status{Kind: KindDone, Cancelled: true}
}

// Terminal reports whether s is a Done status.
func (s Status) Terminal() bool { return s.Kind == KindDone }

// Err returns the failure message of a Done status and whether there was one.
func (s Status) Err() (string, bool) {
	if s.Kind != KindDone || s.Message == "" {
		return "", false
	}
	return s.Message, true
}

func (s Status) String() string {
	switch s.Kind {
	case KindActive:
		return fmt.Sprintf("%s %s", s.Phase, s.Progress)
	case KindDone:
		if s.Cancelled {
			return "stopped"
		}
		if s.Message != "" {
			return "failed: " + s.Message
		}
		return "done"
	default:
		return "idle"
	}
}
