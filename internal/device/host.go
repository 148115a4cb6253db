package device

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/imgview/internal/gpu"
)

// halProvider is implemented by providers that expose their HAL objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// HostPlatform offers the device the host application has already opened,
// so that compute and raster work share it instead of opening another.
type HostPlatform struct {
	adapter *hostAdapter
}

// NewHostPlatform wraps provider. The provider must also implement
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
func NewHostPlatform(provider gpucontext.DeviceProvider) (*HostPlatform, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALDevice
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, ErrNoHALDevice
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, ErrNoHALDevice
	}
	return &HostPlatform{adapter: &hostAdapter{provider: provider, device: dev, queue: queue}}, nil
}

// Name implements Platform.
func (p *HostPlatform) Name() string { return "Host" }

// Adapters implements Platform.
func (p *HostPlatform) Adapters() ([]Adapter, error) {
	return []Adapter{p.adapter}, nil
}

type hostAdapter struct {
	provider gpucontext.DeviceProvider
	device   hal.Device
	queue    hal.Queue
}

func (a *hostAdapter) Info() Info {
	info := a.provider.AdapterInfo()
	class := ClassUnknown
	switch info.Type {
	case gpucontext.AdapterTypeDiscrete, gpucontext.AdapterTypeIntegrated:
		class = ClassGPU
	case gpucontext.AdapterTypeSoftware:
		class = ClassCPU
	}
	return Info{Name: info.Name, Class: class, Version: "host " + info.Type.String()}
}

// Open shares the host device. Destroying the returned device leaves the
// host's device open.
func (a *hostAdapter) Open() (gpu.Device, error) {
	return gpu.NewHALDevice(a.Info().Description(), a.device, a.queue, true), nil
}
