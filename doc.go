// Package imgview is the rendering and compute core of an image inspection
// widget. It shows one 16-bit grayscale image with pan and zoom and computes
// the histogram of its intensities on the same GPU.
//
// # Quick Start
//
//	img := raster.NewImageSurface(800, 600, gputypes.Color{A: 1}, nil)
//	hist := raster.NewImageSurface(256, 100, gputypes.Color{A: 1}, nil)
//	v, err := imgview.New(img, hist, imgview.WithBinCount(256))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Close()
//
//	v.ShowImage(pixels, width, height, true)
//	v.Sync()
//	ref := v.Histogram()
//	defer ref.Close()
//
// Hosts with a window pass surfaces implementing raster.Surface whose
// Target is a hal.TextureView, and share their device through
// WithDeviceProvider.
//
// # Threading
//
// A Viewer owns one render goroutine. Every request (new image, bin count,
// device selection, redraw) is validated on the caller's goroutine and then
// queued to it in order. Repeated redraw requests for a view merge into one
// while a redraw is pending. The extrema scan runs on its own goroutine and
// a newer image discards older results.
//
// # Devices
//
// The device list is built from the native wgpu backends of the OS, the
// host's device when given, and a software device that runs the same
// kernels and shaders on the CPU. The preferred device is a GPU, then an
// accelerator, then any device that is not a CPU, then a CPU.
//
// # Errors
//
// Errors carry a kind (see ResourceCreationFailure and the other kind
// sentinels) matched with errors.Is. Setup failures are returned by New.
// Failures of queued requests are logged and leave the last good state on
// screen.
package imgview
