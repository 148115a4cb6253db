package device

import (
	"runtime"

	"github.com/gogpu/imgview/internal/gpu"
)

// SoftwarePlatform offers one CPU adapter running kernels and raster
// programs in Go.
type SoftwarePlatform struct {
	adapter *softwareAdapter
}

// NewSoftwarePlatform returns a platform whose device uses up to workers
// goroutines (GOMAXPROCS when workers <= 0).
func NewSoftwarePlatform(workers int) *SoftwarePlatform {
	return &SoftwarePlatform{adapter: &softwareAdapter{workers: workers}}
}

// Name implements Platform.
func (p *SoftwarePlatform) Name() string { return "Software" }

// Adapters implements Platform.
func (p *SoftwarePlatform) Adapters() ([]Adapter, error) {
	return []Adapter{p.adapter}, nil
}

type softwareAdapter struct {
	workers int
}

func (a *softwareAdapter) Info() Info {
	return Info{Name: "Go software rasterizer", Class: ClassCPU, Version: runtime.Version()}
}

func (a *softwareAdapter) Open() (gpu.Device, error) {
	return gpu.NewSoftwareDevice(a.Info().Description(), a.workers), nil
}
