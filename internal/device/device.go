// Package device enumerates compute devices and owns the compute context.
//
// Devices are found through Platforms. A Platform is one way of reaching
// hardware: a wgpu/hal backend such as Vulkan or Metal, a device already
// opened by the host (HostPlatform), or the CPU (SoftwarePlatform). Each
// platform reports Adapters, and a Registry flattens them into an ordered
// list of Entries from which one is opened as the current Context.
package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgview/internal/gpu"
)

// Errors returned by the registry.
var (
	ErrNoPlatforms     = errors.New("device: no platforms configured")
	ErrNoDevice        = errors.New("device: no devices available")
	ErrIndexOutOfRange = errors.New("device: index out of range")
	ErrNoHALDevice     = errors.New("device: host provider does not expose HAL device and queue")
)

// Class is the coarse kind of a device.
type Class uint8

// Device classes.
const (
	ClassUnknown Class = iota
	ClassCPU
	ClassGPU
	ClassAccelerator
)

// String returns the class as shown in device descriptions.
func (c Class) String() string {
	switch c {
	case ClassCPU:
		return "CPU"
	case ClassGPU:
		return "GPU"
	case ClassAccelerator:
		return "Special Purpose Accelerator"
	default:
		return "[unknown]"
	}
}

// ClassOf maps a HAL device type to a Class.
func ClassOf(t gputypes.DeviceType) Class {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU:
		return ClassGPU
	case gputypes.DeviceTypeVirtualGPU:
		return ClassAccelerator
	case gputypes.DeviceTypeCPU:
		return ClassCPU
	default:
		return ClassUnknown
	}
}

// Info describes an adapter.
type Info struct {
	Name    string
	Class   Class
	Version string
}

// Description formats info as "name (class) (version)".
func (info Info) Description() string {
	name, version := info.Name, info.Version
	if name == "" {
		name = "[unnamed]"
	}
	if version == "" {
		version = "[unknown]"
	}
	return fmt.Sprintf("%s (%s) (%s)", name, info.Class, version)
}

// Adapter is a device that can be opened.
type Adapter interface {
	Info() Info
	// Open returns a device ready for compute and raster work.
	Open() (gpu.Device, error)
}

// Platform enumerates adapters. Adapters returned by successive calls for
// the same hardware must compare equal.
type Platform interface {
	Name() string
	Adapters() ([]Adapter, error)
}

// Entry is one row of the device list.
type Entry struct {
	Description string
	Class       Class
	Platform    Platform
	Adapter     Adapter
}

func entriesEqual(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Context is an open device with its work queue.
type Context struct {
	Index  int
	Entry  Entry
	Device gpu.Device
	Queue  *gpu.Queue
}

func (c *Context) close() {
	if c != nil && c.Device != nil {
		c.Device.Destroy()
	}
}
