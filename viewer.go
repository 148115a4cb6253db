package imgview

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgview/internal/compute"
	"github.com/gogpu/imgview/internal/device"
	"github.com/gogpu/imgview/internal/extrema"
	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/raster"
	"github.com/gogpu/imgview/internal/shaders"
	"github.com/gogpu/imgview/internal/status"
	"github.com/gogpu/imgview/transform"
)

// ViewID identifies one logical view.
type ViewID int

// Views drawn by a Viewer.
const (
	ImageView ViewID = iota
	HistogramView

	viewCount
)

// String returns the view name.
func (id ViewID) String() string {
	switch id {
	case ImageView:
		return "image"
	case HistogramView:
		return "histogram"
	default:
		return "unknown"
	}
}

// ViewParams are the user's zoom and pan inputs for the image view.
type ViewParams struct {
	// Fit scales the image to the view; the other fields are ignored.
	Fit bool
	// ZoomIndex indexes transform.ZoomPresets, or is
	// transform.CustomZoomIndex to use CustomZoom.
	ZoomIndex  int
	CustomZoom float64
	// PanX and PanY offset the image in view pixels, PanY up.
	PanX, PanY float64
}

func (p ViewParams) apply(v *transform.View) {
	v.Fit = p.Fit
	v.ZoomIndex = p.ZoomIndex
	v.CustomZoom = p.CustomZoom
	v.PanX, v.PanY = p.PanX, p.PanY
}

func paramsOf(v transform.View) ViewParams {
	return ViewParams{Fit: v.Fit, ZoomIndex: v.ZoomIndex, CustomZoom: v.CustomZoom, PanX: v.PanX, PanY: v.PanY}
}

func validateView(v transform.View) error {
	if v.Fit {
		return nil
	}
	_, err := transform.ZoomFactor(v.ZoomIndex, v.CustomZoom)
	return err
}

type viewState struct {
	// view is nil when the host gave no surface.
	view    *raster.View
	pending atomic.Bool
}

// Viewer coordinates the image view, the histogram view and the compute
// pipeline on one device.
//
// Methods may be called from any goroutine. Requests are validated on the
// caller's goroutine and then queued, in order, to a render goroutine that
// performs all GPU work. Accessors return snapshots guarded by one lock.
// Notifications are delivered in order on a separate goroutine, so handlers
// may call back into the Viewer, Close included. Sync is the exception: it
// waits for notification delivery and must not be called from a handler.
type Viewer struct {
	src shaders.Set

	tasks   *taskQueue
	notify  *taskQueue
	scanner extrema.Scanner
	views   [viewCount]viewState

	// Owned by the render goroutine.
	registry       *device.Registry
	renderer       *raster.Renderer
	pipeline       *compute.Pipeline
	uploaded       uint64
	uploadedFilter bool

	mu            sync.Mutex
	closed        bool
	devices       []string
	current       int
	hist          []uint32
	pixels        []uint16
	width, height int
	filter        bool
	imageSeq      uint64
	view          transform.View
	binCount      int
	onList        []func([]string)
	onIndex       []func(int)
}

// New creates a Viewer drawing into the given surfaces; either may be nil
// for a view without a live surface. It enumerates devices, opens the
// preferred one and builds every program before returning. Setup failures
// are returned and leave nothing running.
func New(imageSurface, histogramSurface raster.Surface, opts ...Option) (*Viewer, error) {
	const op = "imgview.New"
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateView(o.view); err != nil {
		return nil, err
	}
	if o.binCount < compute.MinBinCount || o.binCount > compute.MaxBinCount {
		return nil, status.Newf(status.KindInvalidArgument, op,
			"bin count %d outside [%d, %d]", o.binCount, compute.MinBinCount, compute.MaxBinCount)
	}
	InitOnce(o.format)

	src, err := shaders.Load(o.shaderDir)
	if err != nil {
		return nil, err
	}
	if err := src.Check(); err != nil {
		return nil, err
	}
	platforms, err := o.registryPlatforms()
	if err != nil {
		return nil, status.Wrap(status.KindResourceCreation, op, err)
	}

	v := &Viewer{
		src:      src,
		tasks:    newTaskQueue(),
		notify:   newTaskQueue(),
		registry: device.NewRegistry(platforms...),
		current:  -1,
		view:     o.view,
		binCount: o.binCount,
	}
	for id, s := range []raster.Surface{imageSurface, histogramSurface} {
		if s == nil {
			continue
		}
		if c := [...]*gputypes.Color{o.imageClear, o.histogramClear}[id]; c != nil {
			s.Widget().SetClearColor(*c)
		}
		v.views[id].view = raster.NewView(ViewID(id).String(), s)
	}
	v.registry.OnTeardown(v.teardownGPU)

	go v.tasks.run()
	go v.notify.run()

	errc := make(chan error, 1)
	v.tasks.push(func() { errc <- v.setup() })
	if err := <-errc; err != nil {
		v.shutdown()
		return nil, err
	}
	return v, nil
}

// setup runs on the render goroutine.
func (v *Viewer) setup() error {
	if _, err := v.registry.Refresh(); err != nil {
		return err
	}
	v.publishDevices()
	idx, err := v.registry.SelectDefault()
	if err != nil {
		return err
	}
	if err := v.buildGPU(); err != nil {
		return err
	}
	v.publishCurrent(idx)
	slogger().Info("imgview: viewer ready", "device", v.registry.Context().Entry.Description, "bins", v.pipeline.BinCount())
	v.Update(ImageView)
	v.Update(HistogramView)
	return nil
}

func (v *Viewer) flushers() []gpu.Flusher {
	var out []gpu.Flusher
	for i := range v.views {
		if rv := v.views[i].view; rv != nil {
			out = append(out, rv)
		}
	}
	return out
}

// buildGPU builds the renderer and the pipeline on the current context and
// uploads the current image.
func (v *Viewer) buildGPU() error {
	ctx := v.registry.Context()
	if v.renderer == nil {
		r, err := raster.NewRenderer(ctx.Device, v.src, SurfaceFormat())
		if err != nil {
			return err
		}
		v.renderer = r
	} else if err := v.renderer.Rebind(ctx.Device); err != nil {
		return err
	}

	p, err := compute.New(ctx.Device, ctx.Queue, v.src)
	if err != nil {
		return err
	}
	p.SetFlushers(v.flushers()...)
	v.mu.Lock()
	bins := v.binCount
	v.mu.Unlock()
	if _, err := p.SetBinCount(bins); err != nil {
		p.Close()
		return err
	}
	v.pipeline = p
	v.uploaded = 0
	return v.syncImage()
}

// teardownGPU releases objects built on ctx before its device goes away.
func (v *Viewer) teardownGPU(*device.Context) {
	if v.pipeline != nil {
		v.pipeline.Close()
		v.pipeline = nil
	}
	if v.renderer != nil {
		v.renderer.Close()
	}
}

// syncImage brings the pipeline's image up to date with the latest
// ShowImage and recomputes the histogram. Queued uploads superseded by a
// newer image do nothing.
func (v *Viewer) syncImage() error {
	v.mu.Lock()
	pixels, w, h, filter, seq := v.pixels, v.width, v.height, v.filter, v.imageSeq
	v.mu.Unlock()
	if seq == v.uploaded || v.pipeline == nil {
		return nil
	}

	if len(pixels) == 0 {
		v.pipeline.ClearImage()
		v.uploaded, v.uploadedFilter = seq, filter
		v.Update(ImageView)
		return nil
	}
	if err := v.pipeline.SetImage(pixels, w, h); err != nil {
		return err
	}
	v.uploaded, v.uploadedFilter = seq, filter
	v.Update(ImageView)
	return v.runHistogram()
}

func (v *Viewer) runHistogram() error {
	hist, err := v.pipeline.Run()
	if err != nil {
		return err
	}
	v.mu.Lock()
	// A newer image is queued; its own pass publishes its histogram.
	if v.imageSeq == v.uploaded {
		v.hist = hist
	}
	v.mu.Unlock()
	v.Update(HistogramView)
	return nil
}

func (v *Viewer) publishDevices() {
	list := v.registry.Descriptions()
	v.mu.Lock()
	v.devices = list
	fns := slices.Clone(v.onList)
	v.mu.Unlock()
	v.notify.push(func() {
		for _, fn := range fns {
			fn(slices.Clone(list))
		}
	})
}

func (v *Viewer) publishCurrent(i int) {
	v.mu.Lock()
	if v.current == i {
		v.mu.Unlock()
		return
	}
	v.current = i
	fns := slices.Clone(v.onIndex)
	v.mu.Unlock()
	v.notify.push(func() {
		for _, fn := range fns {
			fn(i)
		}
	})
}

// enqueue queues fn on the render goroutine. Failures are logged there and
// do not stop later work.
func (v *Viewer) enqueue(op string, fn func() error) error {
	ok := v.tasks.push(func() {
		if err := fn(); err != nil {
			attrs := []any{"op", op, "kind", status.KindOf(err), "err", err}
			var se *status.Error
			if errors.As(err, &se) && se.Code != 0 {
				attrs = append(attrs, "code", se.Code)
			}
			slogger().Warn("imgview: request failed", attrs...)
		}
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

func (v *Viewer) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// ShowImage replaces the displayed image. Empty pixels clear it. pixels
// are copied; w*h must equal len(pixels).
//
// The extrema scan starts immediately; upload, histogram and redraw happen
// on the render goroutine.
func (v *Viewer) ShowImage(pixels []uint16, w, h int, filter bool) error {
	if v.isClosed() {
		return ErrClosed
	}
	if len(pixels) > 0 && (w <= 0 || h <= 0 || len(pixels) != w*h) {
		return status.Newf(status.KindInvalidArgument, "imgview.ShowImage",
			"%d pixels for a %dx%d image", len(pixels), w, h).WithCause(ErrInvalidDimensions)
	}

	v.mu.Lock()
	if len(pixels) == 0 {
		v.pixels, v.width, v.height = nil, 0, 0
		v.hist = nil
		v.scanner.Reset()
	} else {
		v.pixels, v.width, v.height = slices.Clone(pixels), w, h
		v.scanner.Start(v.pixels)
	}
	v.filter = filter
	v.imageSeq++
	v.mu.Unlock()

	return v.enqueue("ShowImage", v.syncImage)
}

// SetHistogramBinCount changes the bin count. The histogram resources are
// rebuilt and, with an image shown, the histogram is recomputed and
// redrawn.
func (v *Viewer) SetHistogramBinCount(n int) error {
	if n < compute.MinBinCount || n > compute.MaxBinCount {
		return status.Newf(status.KindInvalidArgument, "imgview.SetHistogramBinCount",
			"bin count %d outside [%d, %d]", n, compute.MinBinCount, compute.MaxBinCount)
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.binCount = n
	v.mu.Unlock()

	return v.enqueue("SetHistogramBinCount", func() error {
		if v.pipeline == nil {
			return nil
		}
		changed, err := v.pipeline.SetBinCount(n)
		if err != nil || !changed {
			return err
		}
		if !v.pipeline.HasImage() {
			return nil
		}
		return v.runHistogram()
	})
}

// RefreshDeviceList enumerates devices again. Observers are notified only
// when the list changed. If the current device disappeared, the preferred
// remaining device becomes current.
func (v *Viewer) RefreshDeviceList() error {
	return v.enqueue("RefreshDeviceList", func() error {
		changed, err := v.registry.Refresh()
		if err != nil || !changed {
			return err
		}
		v.publishDevices()
		if i := v.registry.Current(); i >= 0 {
			v.publishCurrent(i)
			return nil
		}
		i, err := v.registry.SelectDefault()
		if err != nil {
			return err
		}
		if err := v.buildGPU(); err != nil {
			return err
		}
		v.publishCurrent(i)
		v.Update(ImageView)
		v.Update(HistogramView)
		return nil
	})
}

// SetCurrentDeviceIndex moves all GPU work to device i of DeviceList.
// An index outside the list fails with InvalidArgument and changes
// nothing.
func (v *Viewer) SetCurrentDeviceIndex(i int) error {
	v.mu.Lock()
	n, closed := len(v.devices), v.closed
	v.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if i < 0 || i >= n {
		return status.Newf(status.KindInvalidArgument, "imgview.SetCurrentDeviceIndex",
			"index %d outside [0, %d)", i, n).WithCause(ErrIndexOutOfRange)
	}

	return v.enqueue("SetCurrentDeviceIndex", func() error {
		changed, err := v.registry.SetCurrent(i)
		if err != nil || !changed {
			return err
		}
		if err := v.buildGPU(); err != nil {
			return err
		}
		v.publishCurrent(i)
		v.Update(ImageView)
		v.Update(HistogramView)
		return nil
	})
}

// DeviceList returns the device descriptions.
func (v *Viewer) DeviceList() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.devices)
}

// CurrentDeviceIndex returns the index of the current device, or -1.
func (v *Viewer) CurrentDeviceIndex() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Update requests a redraw of view. Requests made while one is pending
// are merged into it. Views without a surface ignore requests.
func (v *Viewer) Update(id ViewID) {
	if id < 0 || id >= viewCount {
		return
	}
	vs := &v.views[id]
	if vs.view == nil || !vs.pending.CompareAndSwap(false, true) {
		return
	}
	err := v.enqueue("Update", func() error {
		// Cleared first so a request made while drawing is kept.
		vs.pending.Store(false)
		return v.draw(id)
	})
	if err != nil {
		vs.pending.Store(false)
	}
}

func (v *Viewer) draw(id ViewID) error {
	if v.renderer == nil || v.pipeline == nil {
		return nil
	}
	rv := v.views[id].view
	if id == HistogramView {
		return v.renderer.DrawHistogram(rv)
	}

	var img *raster.Image
	if v.pipeline != nil && v.pipeline.HasImage() {
		w, h := v.pipeline.Size()
		img = &raster.Image{Buffer: v.pipeline.Image(), Width: w, Height: h, Filter: v.uploadedFilter}
	}
	v.mu.Lock()
	params := v.view
	v.mu.Unlock()
	return v.renderer.DrawImage(rv, img, params)
}

// SetViewParams sets zoom and pan and redraws the image view.
func (v *Viewer) SetViewParams(p ViewParams) error {
	v.mu.Lock()
	next := v.view
	p.apply(&next)
	if err := validateView(next); err != nil {
		v.mu.Unlock()
		return err
	}
	v.view = next
	v.mu.Unlock()
	v.Update(ImageView)
	return nil
}

// ViewParams returns the current zoom and pan.
func (v *Viewer) ViewParams() ViewParams {
	v.mu.Lock()
	defer v.mu.Unlock()
	return paramsOf(v.view)
}

// BinCount returns the requested histogram bin count.
func (v *Viewer) BinCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.binCount
}

// HistogramRef is a read handle on a histogram snapshot. Snapshots are
// replaced by later passes, never modified, so the counts stay valid and
// unchanged until Close.
type HistogramRef struct {
	counts []uint32
}

// Counts returns the per-bin counts. The slice must not be modified.
func (r *HistogramRef) Counts() []uint32 { return r.counts }

// Close releases the handle.
func (r *HistogramRef) Close() { r.counts = nil }

// Histogram returns a handle on the latest histogram, empty without an
// image.
//
//	ref := v.Histogram()
//	defer ref.Close()
func (v *Viewer) Histogram() *HistogramRef {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &HistogramRef{counts: v.hist}
}

// ReadHistogram calls fn with the latest histogram while holding the
// viewer lock. fn must not call Viewer methods.
func (v *Viewer) ReadHistogram(fn func(counts []uint32)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.hist)
}

// Extrema returns the intensity range of the current image. ok is false
// while the scan runs and when no image is shown.
func (v *Viewer) Extrema() (lo, hi uint16, ok bool) {
	return v.scanner.Result()
}

// Image returns the current image. The slice must not be modified.
func (v *Viewer) Image() (pixels []uint16, w, h int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pixels, v.width, v.height
}

// OnDeviceListChanged registers fn to receive the device list whenever it
// changes.
func (v *Viewer) OnDeviceListChanged(fn func([]string)) {
	v.mu.Lock()
	v.onList = append(v.onList, fn)
	v.mu.Unlock()
}

// OnCurrentDeviceChanged registers fn to receive the index of each newly
// selected device.
func (v *Viewer) OnCurrentDeviceChanged(fn func(int)) {
	v.mu.Lock()
	v.onIndex = append(v.onIndex, fn)
	v.mu.Unlock()
}

// Sync waits until every queued request, including redraws they caused,
// has run and every notification has been delivered. Calling it from an
// OnDeviceListChanged or OnCurrentDeviceChanged handler deadlocks.
func (v *Viewer) Sync() error {
	for {
		empty := make(chan bool, 1)
		if !v.tasks.push(func() { empty <- v.tasks.len() == 0 }) {
			return ErrClosed
		}
		if <-empty {
			break
		}
	}
	delivered := make(chan struct{})
	if !v.notify.push(func() { close(delivered) }) {
		return ErrClosed
	}
	<-delivered
	return nil
}

// Close finishes queued requests, releases every GPU object and stops the
// render goroutine. Notifications queued before Close are still delivered,
// possibly after it returns, so a handler may call Close.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()
	v.shutdown()
	return nil
}

func (v *Viewer) shutdown() {
	v.tasks.push(func() {
		v.registry.Close()
		v.renderer = nil
	})
	v.tasks.close()
	v.notify.stop()
	v.scanner.Wait()
}
