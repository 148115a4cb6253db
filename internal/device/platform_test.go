package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/imgview/internal/gpu"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		in   gputypes.DeviceType
		want Class
	}{
		{gputypes.DeviceTypeDiscreteGPU, ClassGPU},
		{gputypes.DeviceTypeIntegratedGPU, ClassGPU},
		{gputypes.DeviceTypeVirtualGPU, ClassAccelerator},
		{gputypes.DeviceTypeCPU, ClassCPU},
		{gputypes.DeviceTypeOther, ClassUnknown},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.in); got != tt.want {
			t.Errorf("ClassOf(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHALPlatformStableAdapters(t *testing.T) {
	p := NewHALPlatform(noop.API{})
	defer p.Close()

	first, err := p.Adapters()
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d adapters, want 1", len(first))
	}
	if got, want := first[0].Info().Description(), "Noop Adapter ([unknown]) (Empty noop-1.0)"; got != want {
		t.Errorf("Description = %q, want %q", got, want)
	}

	r := NewRegistry(p)
	if _, err := r.Refresh(); err != nil {
		t.Fatal(err)
	}
	if changed, err := r.Refresh(); err != nil || changed {
		t.Errorf("second Refresh = %v, %v, want unchanged", changed, err)
	}

	dev, err := first[0].Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Destroy()
	if _, ok := dev.(*gpu.HALDevice); !ok {
		t.Errorf("Open returned %T, want *gpu.HALDevice", dev)
	}
}

type fakeProvider struct {
	dev   hal.Device
	queue hal.Queue
}

func (p *fakeProvider) Device() gpucontext.Device             { return p.dev }
func (p *fakeProvider) Queue() gpucontext.Queue               { return p.queue }
func (p *fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p *fakeProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "Host GPU", Type: gpucontext.AdapterTypeDiscrete}
}

type halFakeProvider struct{ fakeProvider }

func (p *halFakeProvider) HalDevice() any { return p.dev }
func (p *halFakeProvider) HalQueue() any  { return p.queue }

func TestHostPlatform(t *testing.T) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Destroy()
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	defer open.Device.Destroy()

	if _, err := NewHostPlatform(&fakeProvider{dev: open.Device, queue: open.Queue}); !errors.Is(err, ErrNoHALDevice) {
		t.Errorf("provider without HAL access: err = %v", err)
	}

	p, err := NewHostPlatform(&halFakeProvider{fakeProvider{dev: open.Device, queue: open.Queue}})
	if err != nil {
		t.Fatal(err)
	}
	adapters, _ := p.Adapters()
	info := adapters[0].Info()
	if info.Class != ClassGPU || !strings.HasPrefix(info.Description(), "Host GPU (GPU)") {
		t.Errorf("Info = %+v", info)
	}
	dev, err := adapters[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	dev.Destroy()
	if _, err := open.Device.CreateBuffer(&hal.BufferDescriptor{Label: "after", Size: 4}); err != nil {
		t.Errorf("host device unusable after Destroy: %v", err)
	}
}

func TestSoftwarePlatform(t *testing.T) {
	p := NewSoftwarePlatform(2)
	adapters, err := p.Adapters()
	if err != nil || len(adapters) != 1 {
		t.Fatalf("Adapters = %v, %v", adapters, err)
	}
	if adapters[0].Info().Class != ClassCPU {
		t.Errorf("class = %v, want CPU", adapters[0].Info().Class)
	}
	dev, err := adapters[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()
	if !dev.OutOfOrder() {
		t.Error("software device should report out-of-order execution")
	}
}
