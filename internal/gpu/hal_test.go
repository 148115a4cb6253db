package gpu

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

func openNoopDevice(t *testing.T) *HALDevice {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("no noop adapters")
	}
	dev, err := OpenHALDevice(adapters[0].Info.Name, adapters[0].Adapter)
	if err != nil {
		instance.Destroy()
		t.Fatalf("OpenHALDevice failed: %v", err)
	}
	t.Cleanup(func() {
		dev.Destroy()
		instance.Destroy()
	})
	return dev
}

func TestHALDeviceBuffers(t *testing.T) {
	dev := openNoopDevice(t)
	if dev.OutOfOrder() {
		t.Error("HAL device reports out-of-order execution")
	}

	buf, err := dev.NewBuffer("odd", 6, UsageStorage|UsageCopyDst)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Size() != 8 {
		t.Errorf("Size = %d, want 8", buf.Size())
	}
	if err := dev.WriteBuffer(buf, 0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	if err := dev.WriteBuffer(buf, 8, []byte{1}); err == nil {
		t.Error("out-of-range write succeeded")
	}

	dst, err := dev.NewBuffer("dst", 8, UsageCopyDst|UsageCopySrc)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.CopyBuffer(buf, dst, 0, 0, 8); err != nil {
		t.Fatalf("CopyBuffer: %v", err)
	}
	out := make([]byte, 8)
	if err := dev.ReadBuffer(dst, 0, out); err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if err := dev.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	dev.DestroyBuffer(buf)
	dev.DestroyBuffer(buf)
	if err := dev.WriteBuffer(buf, 0, []byte{1}); !errors.Is(err, ErrForeignResource) {
		t.Errorf("write to destroyed buffer: err = %v", err)
	}
}

func TestHALDeviceKernel(t *testing.T) {
	dev := openNoopDevice(t)
	k, err := dev.NewKernel(KernelSpec{
		Label:    "fill",
		Source:   "@compute @workgroup_size(1) fn main() {}",
		Entry:    "main",
		Bindings: []BindingKind{BindUniform, BindStorage},
	})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	defer dev.DestroyKernel(k)

	u, _ := dev.NewBuffer("u", 16, UsageUniform)
	s, _ := dev.NewBuffer("s", 64, UsageStorage)
	if err := dev.Dispatch(k, [3]uint32{2, 2, 1}, u, s); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := dev.Dispatch(k, [3]uint32{1, 1, 1}, u); err == nil {
		t.Error("dispatch with missing binding succeeded")
	}
	if err := dev.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	soft := NewSoftwareDevice("cpu", 1)
	defer soft.Destroy()
	foreign, _ := soft.NewBuffer("f", 16, UsageStorage)
	if err := dev.Dispatch(k, [3]uint32{1, 1, 1}, u, foreign); !errors.Is(err, ErrForeignResource) {
		t.Errorf("foreign buffer: err = %v", err)
	}
}

func TestHALDeviceRenderReadback(t *testing.T) {
	dev := openNoopDevice(t)
	prog, err := dev.NewRasterProgram(RasterSpec{
		Label:         "image",
		Source:        "",
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		Format:        gputypes.TextureFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatalf("NewRasterProgram: %v", err)
	}
	defer dev.DestroyRasterProgram(prog)

	verts, idx := quadBuffers(t, dev)
	u, _ := dev.NewBuffer("u", 128, UsageUniform|UsageCopyDst)
	s, _ := dev.NewBuffer("s", 16, UsageStorage|UsageCopyDst)

	// The noop backend draws nothing, so readback yields zeroed pixels.
	dst := image.NewRGBA(image.Rect(0, 0, 5, 3))
	for i := range dst.Pix {
		dst.Pix[i] = 0xFF
	}
	err = dev.Render(&Pass{
		Target:     dst,
		Viewport:   image.Rect(0, 0, 5, 3),
		Program:    prog,
		Vertices:   verts,
		Indices:    idx,
		IndexCount: 6,
		Uniforms:   u,
		Storage:    s,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := dst.RGBAAt(4, 2); got != (color.RGBA{}) {
		t.Errorf("pixel = %v, want readback zeros", got)
	}

	var view hal.TextureView
	if err := dev.Render(&Pass{Target: view}); !errors.Is(err, ErrUnsupportedTarget) {
		t.Errorf("nil view target: err = %v", err)
	}
}

func TestHALDeviceExternalNotDestroyed(t *testing.T) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Destroy()
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	defer open.Device.Destroy()

	dev := NewHALDevice("host", open.Device, open.Queue, true)
	dev.Destroy()
	if _, err := dev.NewBuffer("x", 4, UsageStorage); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("NewBuffer after Destroy: err = %v", err)
	}
	// The host device is still usable.
	if _, err := open.Device.CreateBuffer(&hal.BufferDescriptor{Label: "still", Size: 4}); err != nil {
		t.Errorf("host device unusable after Destroy: %v", err)
	}
}
