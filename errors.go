package imgview

import (
	"errors"

	"github.com/gogpu/imgview/internal/device"
	"github.com/gogpu/imgview/internal/status"
)

// Errors returned by Viewer methods. They are wrapped in an *Error, so
// callers can match either the specific error or its kind.
var (
	// ErrInvalidDimensions is returned by ShowImage for non-empty pixels
	// whose dimensions are not positive or do not match the pixel count.
	ErrInvalidDimensions = errors.New("imgview: invalid image dimensions")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("imgview: viewer closed")

	// ErrIndexOutOfRange is returned by SetCurrentDeviceIndex.
	ErrIndexOutOfRange = device.ErrIndexOutOfRange
)

// Error is a classified failure carrying a kind, a message and the code
// reported by the underlying API.
type Error = status.Error

// Kind sentinels for errors.Is.
var (
	ResourceCreationFailure  = status.ResourceCreationFailure
	DeviceEnumerationFailure = status.DeviceEnumerationFailure
	InvalidArgument          = status.InvalidArgument
	ComputeBuildFailure      = status.ComputeBuildFailure
	ComputeRuntimeError      = status.ComputeRuntimeError
)
