package device

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/imgview/internal/gpu"
)

// HALPlatform lists the adapters of one wgpu/hal backend.
type HALPlatform struct {
	backend hal.Backend

	mu       sync.Mutex
	instance hal.Instance
	adapters map[string]*halAdapter
}

// NewHALPlatform returns a platform over backend. The backend instance is
// created on first enumeration.
func NewHALPlatform(backend hal.Backend) *HALPlatform {
	return &HALPlatform{backend: backend, adapters: make(map[string]*halAdapter)}
}

// Name implements Platform.
func (p *HALPlatform) Name() string { return p.backend.Variant().String() }

// Adapters implements Platform. Adapters are matched to those of earlier
// calls by name, vendor, device and driver so that unchanged hardware yields
// the same Adapter values.
func (p *HALPlatform) Adapters() ([]Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance == nil {
		inst, err := p.backend.CreateInstance(&hal.InstanceDescriptor{})
		if err != nil {
			return nil, fmt.Errorf("device: %s instance: %w", p.Name(), err)
		}
		p.instance = inst
	}

	exposed := p.instance.EnumerateAdapters(nil)
	out := make([]Adapter, 0, len(exposed))
	for _, ex := range exposed {
		key := fmt.Sprintf("%s/%d/%d/%s", ex.Info.Name, ex.Info.VendorID, ex.Info.DeviceID, ex.Info.Driver)
		a, ok := p.adapters[key]
		if !ok {
			a = &halAdapter{}
			p.adapters[key] = a
		}
		a.info = ex.Info
		a.adapter = ex.Adapter
		out = append(out, a)
	}
	return out, nil
}

// Close destroys the backend instance.
func (p *HALPlatform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instance != nil {
		p.instance.Destroy()
		p.instance = nil
	}
	clear(p.adapters)
	return nil
}

type halAdapter struct {
	info    gputypes.AdapterInfo
	adapter hal.Adapter
}

func (a *halAdapter) Info() Info {
	version := a.info.Backend.String()
	if a.info.Driver != "" {
		version += " " + a.info.Driver
	}
	return Info{Name: a.info.Name, Class: ClassOf(a.info.DeviceType), Version: version}
}

func (a *halAdapter) Open() (gpu.Device, error) {
	return gpu.OpenHALDevice(a.Info().Description(), a.adapter)
}

// NativePlatforms returns a platform for every GPU backend compiled in for
// this OS, in order of preference.
func NativePlatforms() []Platform {
	var out []Platform
	for _, variant := range nativeBackends {
		b, ok := hal.GetBackend(variant)
		if !ok {
			continue
		}
		out = append(out, NewHALPlatform(b))
	}
	return out
}
