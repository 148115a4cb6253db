// Package status defines the error taxonomy shared by the device, compute and
// raster layers.
//
// Every failure that crosses a package boundary is reported as an *Error
// carrying a Kind, the operation that failed, a message and an optional
// numeric code from the underlying API. Callers match on kinds with
// errors.Is against the Kind sentinels:
//
//	if errors.Is(err, status.InvalidArgument) { ... }
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind uint8

const (
	// KindUnknown is the zero Kind.
	KindUnknown Kind = iota
	// KindResourceCreation reports a failure to create a GPU or host resource.
	KindResourceCreation
	// KindDeviceEnumeration reports a failure to list platforms or devices.
	KindDeviceEnumeration
	// KindInvalidArgument reports a caller error (index, size, count).
	KindInvalidArgument
	// KindComputeBuild reports a program that failed to build.
	KindComputeBuild
	// KindComputeRuntime reports a failure while enqueuing or waiting on work.
	KindComputeRuntime
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindResourceCreation:
		return "ResourceCreationFailure"
	case KindDeviceEnumeration:
		return "DeviceEnumerationFailure"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindComputeBuild:
		return "ComputeBuildFailure"
	case KindComputeRuntime:
		return "ComputeRuntimeError"
	default:
		return "Unknown"
	}
}

// Kind sentinels for errors.Is.
var (
	ResourceCreationFailure  error = kindError(KindResourceCreation)
	DeviceEnumerationFailure error = kindError(KindDeviceEnumeration)
	InvalidArgument          error = kindError(KindInvalidArgument)
	ComputeBuildFailure      error = kindError(KindComputeBuild)
	ComputeRuntimeError      error = kindError(KindComputeRuntime)
)

type kindError Kind

func (k kindError) Error() string { return Kind(k).String() }

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "device.SetCurrent".
	Op string
	// Msg is a human-readable description.
	Msg string
	// Code is the numeric code reported by the underlying API, or 0.
	Code int
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindError)
	return ok && Kind(k) == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil. An err that is already an
// *Error of the same kind is returned unchanged.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) && se.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCode returns a copy of e carrying code.
func (e *Error) WithCode(code int) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
