// Package errors provides error wrapping utilities and the fatal error kinds
// a flash job can terminate with.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Kind classifies a fatal flash failure.
type Kind int

const (
	// KindCancelled is a user-requested stop. It is not a failure.
	KindCancelled Kind = iota + 1
	// KindSourceUnavailable covers missing local files, failed downloads
	// and servers that omit the content length.
	KindSourceUnavailable
	// KindExtractionFailed means the decompression process exited non-zero.
	KindExtractionFailed
	// KindDeviceUnavailable means exclusive open of the destination was denied.
	KindDeviceUnavailable
	// KindIoFailure is a read or write error during the copy phase.
	KindIoFailure
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindSourceUnavailable:
		return "source unavailable"
	case KindExtractionFailed:
		return "extraction failed"
	case KindDeviceUnavailable:
		return "device unavailable"
	case KindIoFailure:
		return "i/o failed"
	default:
		return "unknown error"
	}
}

// Error is a fatal pipeline error tagged with its Kind.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind with no
// operation attached, so errors.Is(err, ErrCancelled) matches any
// cancellation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Detail == "" && t.Err == nil
}

// ErrCancelled is returned by every stage that observed the stop flag.
var ErrCancelled = &Error{Kind: KindCancelled}

// E builds a fatal error of the given kind. err may be nil.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Detailed builds a fatal error carrying a free-form detail string, such as
// captured diagnostic output of a subprocess.
func Detailed(kind Kind, op, detail string) error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsCancelled reports whether err is a cancellation.
func IsCancelled(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCancelled
}

// Is and As forward to the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
