// Package gpu provides the device abstraction shared by the compute and
// raster pipelines.
//
// A Device is implemented twice: HALDevice drives a real GPU through
// gogpu/wgpu's hardware abstraction layer, and SoftwareDevice runs the same
// work on the CPU. Both execute kernels described by a KernelSpec, which
// carries the WGSL source for the GPU and an equivalent Go function for the
// CPU, and raster programs described by a RasterSpec.
//
// Work submitted to a Device is ordered by a Queue of completion tokens
// rather than by submission order, and objects touched by both pipelines are
// bracketed by Shared.Acquire and Shared.Release.
package gpu

import (
	"errors"
	"image"

	"github.com/gogpu/gputypes"
)

// Errors returned by devices.
var (
	// ErrDeviceLost is returned by operations on a destroyed device.
	ErrDeviceLost = errors.New("gpu: device destroyed")

	// ErrForeignResource is returned when a buffer, kernel or program created
	// by another device is passed in.
	ErrForeignResource = errors.New("gpu: resource belongs to another device")

	// ErrUnsupportedTarget is returned by Render for a target type the device
	// cannot draw into.
	ErrUnsupportedTarget = errors.New("gpu: unsupported render target")

	// ErrNoCPUKernel is returned by SoftwareDevice for a spec without a CPU
	// implementation.
	ErrNoCPUKernel = errors.New("gpu: kernel has no CPU implementation")
)

// Usage is a set of buffer usage flags.
type Usage uint32

// Buffer usages.
const (
	UsageStorage Usage = 1 << iota
	UsageUniform
	UsageVertex
	UsageIndex
	UsageCopySrc
	UsageCopyDst
	UsageMapRead
)

func (u Usage) halUsage() gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&UsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if u&UsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&UsageVertex != 0 {
		out |= gputypes.BufferUsageVertex
	}
	if u&UsageIndex != 0 {
		out |= gputypes.BufferUsageIndex
	}
	if u&UsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&UsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&UsageMapRead != 0 {
		out |= gputypes.BufferUsageMapRead
	}
	return out
}

// Buffer is a device memory allocation.
type Buffer interface {
	Label() string
	Size() uint64
}

// BindingKind describes one kernel or program binding.
type BindingKind uint8

// Binding kinds, in WGSL terms.
const (
	BindUniform BindingKind = iota
	BindStorageRead
	BindStorage
)

func (k BindingKind) halType() gputypes.BufferBindingType {
	switch k {
	case BindUniform:
		return gputypes.BufferBindingTypeUniform
	case BindStorageRead:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// CPUKernel runs one workgroup of a kernel. bufs holds the contents of the
// bound buffers in binding order. Workgroups of one dispatch may run
// concurrently, so a CPU kernel must only write memory owned by its group.
type CPUKernel func(group, numGroups [3]uint32, bufs [][]byte)

// KernelSpec describes a compute kernel.
type KernelSpec struct {
	Label string
	// Source is the WGSL module and Entry the compute entry point in it.
	Source string
	Entry  string
	// Bindings lists @group(0) bindings in order.
	Bindings []BindingKind
	// CPU is the equivalent Go implementation.
	CPU CPUKernel
}

// Kernel is a built compute kernel.
type Kernel interface {
	Label() string
}

// VertexFunc maps a 2D vertex position to clip space.
type VertexFunc func(pos [2]float32, uniforms []byte) [4]float32

// FragmentFunc shades the fragment at window position (x, y), origin
// bottom-left. It returns false to discard the fragment.
type FragmentFunc func(x, y float32, uniforms, storage []byte) (r, g, b, a float32, keep bool)

// RasterSpec describes a raster program drawing float32x2 vertices with one
// uniform and one read-only storage binding visible to both stages.
type RasterSpec struct {
	Label         string
	Source        string
	VertexEntry   string
	FragmentEntry string
	// Format is the color target format of HAL passes.
	Format      gputypes.TextureFormat
	VertexCPU   VertexFunc
	FragmentCPU FragmentFunc
}

// RasterProgram is a built raster program.
type RasterProgram interface {
	Label() string
}

// Pass describes one render pass: a clear followed by an optional indexed
// draw of a triangle list.
type Pass struct {
	// Target is the surface to draw into. Software devices accept a
	// draw.Image; HAL devices accept a hal.TextureView or a draw.Image, the
	// latter through an offscreen texture and readback.
	Target any
	// Size is the target size in pixels.
	Size image.Point
	// Viewport is the draw area, origin bottom-left.
	Viewport image.Rectangle
	Clear    gputypes.Color

	// Program is nil for a clear-only pass.
	Program    RasterProgram
	Vertices   Buffer
	Indices    Buffer
	IndexCount uint32
	Uniforms   Buffer
	Storage    Buffer
}

// Device is a GPU, or a CPU standing in for one.
type Device interface {
	// Name describes the device for logs.
	Name() string
	// OutOfOrder reports whether independent queue work may run
	// concurrently.
	OutOfOrder() bool

	NewBuffer(label string, size uint64, usage Usage) (Buffer, error)
	DestroyBuffer(b Buffer)
	WriteBuffer(b Buffer, offset uint64, data []byte) error
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error
	// ReadBuffer completes pending work and copies out len(dst) bytes.
	ReadBuffer(b Buffer, offset uint64, dst []byte) error

	NewKernel(spec KernelSpec) (Kernel, error)
	DestroyKernel(k Kernel)
	Dispatch(k Kernel, groups [3]uint32, bufs ...Buffer) error

	NewRasterProgram(spec RasterSpec) (RasterProgram, error)
	DestroyRasterProgram(p RasterProgram)
	Render(p *Pass) error

	// Finish blocks until all submitted work has completed.
	Finish() error
	Destroy()
}
