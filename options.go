package imgview

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgview/internal/compute"
	"github.com/gogpu/imgview/internal/device"
	"github.com/gogpu/imgview/transform"
)

// Option configures a Viewer during creation.
//
// Example:
//
//	// Native GPUs with the software device as fallback.
//	v, err := imgview.New(imageSurface, histSurface)
//
//	// CPU only, 256 bins.
//	v, err := imgview.New(imageSurface, histSurface,
//	    imgview.WithSoftwareOnly(), imgview.WithBinCount(256))
type Option func(*options)

// options holds optional configuration for Viewer creation.
type options struct {
	platforms    []device.Platform
	platformsSet bool
	provider     gpucontext.DeviceProvider
	softwareOnly bool
	workers      int

	binCount       int
	shaderDir      string
	format         gputypes.TextureFormat
	view           transform.View
	imageClear     *gputypes.Color
	histogramClear *gputypes.Color
}

// defaultOptions returns the default viewer options.
func defaultOptions() options {
	return options{
		binCount: compute.DefaultBinCount,
		view:     transform.DefaultView(0, 0, 0, 0),
	}
}

// WithPlatforms replaces the platforms the device list is built from.
// By default the native hal backends of the OS are listed, followed by
// the software device.
func WithPlatforms(p ...device.Platform) Option {
	return func(o *options) {
		o.platforms, o.platformsSet = p, true
	}
}

// WithDeviceProvider lists the host's already-open GPU device first, so
// raster and compute share the host device. The provider must also expose
// its hal device and queue.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithSoftwareOnly lists only the software device.
func WithSoftwareOnly() Option {
	return func(o *options) {
		o.softwareOnly = true
	}
}

// WithWorkers sets the goroutine count of the software device.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithBinCount sets the initial histogram bin count.
func WithBinCount(n int) Option {
	return func(o *options) {
		o.binCount = n
	}
}

// WithShaderDir loads the program sources from dir instead of the
// embedded defaults. A missing or empty source fails New.
func WithShaderDir(dir string) Option {
	return func(o *options) {
		o.shaderDir = dir
	}
}

// WithSurfaceFormat requests the hal surface format passed to InitOnce.
func WithSurfaceFormat(f gputypes.TextureFormat) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithViewParams sets the initial zoom, fit and pan.
func WithViewParams(p ViewParams) Option {
	return func(o *options) {
		p.apply(&o.view)
	}
}

// WithClearColors sets the clear colors of the image and histogram views.
func WithClearColors(image, histogram gputypes.Color) Option {
	return func(o *options) {
		o.imageClear, o.histogramClear = &image, &histogram
	}
}

func (o *options) registryPlatforms() ([]device.Platform, error) {
	if o.platformsSet {
		return o.platforms, nil
	}
	if o.softwareOnly {
		return []device.Platform{device.NewSoftwarePlatform(o.workers)}, nil
	}
	var out []device.Platform
	if o.provider != nil {
		host, err := device.NewHostPlatform(o.provider)
		if err != nil {
			return nil, err
		}
		out = append(out, host)
	}
	out = append(out, device.NativePlatforms()...)
	return append(out, device.NewSoftwarePlatform(o.workers)), nil
}
