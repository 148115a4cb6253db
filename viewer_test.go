package imgview

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgview/internal/compute"
	"github.com/gogpu/imgview/internal/device"
	"github.com/gogpu/imgview/internal/extrema"
	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/raster"
	"github.com/gogpu/imgview/transform"
)

type testAdapter struct {
	name  string
	class device.Class
}

func (a *testAdapter) Info() device.Info {
	return device.Info{Name: a.name, Class: a.class, Version: "test"}
}

func (a *testAdapter) Open() (gpu.Device, error) {
	return gpu.NewSoftwareDevice(a.name, 2), nil
}

type testPlatform struct {
	mu       sync.Mutex
	adapters []device.Adapter
}

func (p *testPlatform) Name() string { return "test" }

func (p *testPlatform) Adapters() ([]device.Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.adapters), nil
}

func (p *testPlatform) add(a device.Adapter) {
	p.mu.Lock()
	p.adapters = append(p.adapters, a)
	p.mu.Unlock()
}

func newSurfaces() (*raster.ImageSurface, *raster.ImageSurface) {
	black := gputypes.Color{A: 1}
	return raster.NewImageSurface(16, 16, black, nil), raster.NewImageSurface(16, 8, black, nil)
}

func newTestViewer(t *testing.T, opts ...Option) *Viewer {
	t.Helper()
	img, hist := newSurfaces()
	v, err := New(img, hist, append([]Option{WithSoftwareOnly(), WithWorkers(2)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	if err := v.Sync(); err != nil {
		t.Fatal(err)
	}
	return v
}

func drain(t *testing.T, v *Viewer) {
	t.Helper()
	if err := v.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func ramp(w, h int) []uint16 {
	px := make([]uint16, w*h)
	for i := range px {
		px[i] = uint16(i * 37 % 65536) //nolint:gosec // reduced
	}
	return px
}

func total(counts []uint32) int {
	n := 0
	for _, c := range counts {
		n += int(c)
	}
	return n
}

func TestShowImageComputesHistogram(t *testing.T) {
	v := newTestViewer(t)
	px := ramp(100, 100)
	if err := v.ShowImage(px, 100, 100, false); err != nil {
		t.Fatal(err)
	}
	drain(t, v)

	ref := v.Histogram()
	defer ref.Close()
	if len(ref.Counts()) != compute.DefaultBinCount {
		t.Fatalf("bins = %d, want %d", len(ref.Counts()), compute.DefaultBinCount)
	}
	if got := total(ref.Counts()); got != len(px) {
		t.Errorf("total = %d, want %d", got, len(px))
	}
	for i, s := range px[:50] {
		if ref.Counts()[compute.Bin(s, compute.DefaultBinCount)] == 0 {
			t.Fatalf("sample %d (%d) not counted", i, s)
		}
	}

	v.scanner.Wait()
	lo, hi, ok := v.Extrema()
	wantLo, wantHi := extrema.Scan(px)
	if !ok || lo != wantLo || hi != wantHi {
		t.Errorf("Extrema = %d, %d, %v; want %d, %d", lo, hi, ok, wantLo, wantHi)
	}

	got, w, h := v.Image()
	if w != 100 || h != 100 || len(got) != len(px) {
		t.Errorf("Image = %d pixels, %dx%d", len(got), w, h)
	}
}

func TestShowImageOddPixelCounts(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"single pixel", 1, 1},
		{"3x3", 3, 3},
		{"101x101", 101, 101},
		{"2x2", 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViewer(t)
			px := ramp(tt.w, tt.h)
			px[0] = 65535
			if err := v.ShowImage(px, tt.w, tt.h, false); err != nil {
				t.Fatal(err)
			}
			drain(t, v)

			ref := v.Histogram()
			defer ref.Close()
			counts := ref.Counts()
			if len(counts) != compute.DefaultBinCount {
				t.Fatalf("bins = %d, want %d", len(counts), compute.DefaultBinCount)
			}
			if got := total(counts); got != len(px) {
				t.Errorf("total = %d, want %d", got, len(px))
			}
			if counts[compute.DefaultBinCount-1] == 0 {
				t.Error("brightest sample not counted")
			}
		})
	}
}

func TestShowImageCopiesPixels(t *testing.T) {
	v := newTestViewer(t)
	px := []uint16{1, 2, 3, 4}
	if err := v.ShowImage(px, 2, 2, false); err != nil {
		t.Fatal(err)
	}
	px[0] = 9
	if got, _, _ := v.Image(); got[0] != 1 {
		t.Errorf("stored pixel = %d, want 1", got[0])
	}
}

func TestShowImageRejectsInvalidDimensions(t *testing.T) {
	v := newTestViewer(t)
	tests := []struct {
		name string
		n    int
		w, h int
	}{
		{"zero width", 4, 0, 4},
		{"negative height", 4, 4, -1},
		{"count mismatch", 5, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ShowImage(make([]uint16, tt.n), tt.w, tt.h, false)
			if !errors.Is(err, ErrInvalidDimensions) || !errors.Is(err, InvalidArgument) {
				t.Errorf("ShowImage = %v", err)
			}
		})
	}
	if _, w, h := v.Image(); w != 0 || h != 0 {
		t.Errorf("rejected image stored as %dx%d", w, h)
	}
}

func TestResizeRebuildsGPUResources(t *testing.T) {
	v := newTestViewer(t)
	if err := v.ShowImage(ramp(100, 100), 100, 100, false); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	img, blocks := v.pipeline.ImageGeneration(), v.pipeline.BlocksGeneration()

	if err := v.ShowImage(ramp(200, 150), 200, 150, false); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	if v.pipeline.ImageGeneration() != img+1 {
		t.Errorf("ImageGeneration = %d, want %d", v.pipeline.ImageGeneration(), img+1)
	}
	if v.pipeline.BlocksGeneration() != blocks+1 {
		t.Errorf("BlocksGeneration = %d, want %d", v.pipeline.BlocksGeneration(), blocks+1)
	}
	ref := v.Histogram()
	defer ref.Close()
	if got := total(ref.Counts()); got != 200*150 {
		t.Errorf("total = %d, want %d", got, 200*150)
	}
}

func TestUpdateCoalesces(t *testing.T) {
	v := newTestViewer(t)
	draws := v.views[ImageView].view.Draws()

	gate := make(chan struct{})
	v.tasks.push(func() { <-gate })
	for range 10 {
		v.Update(ImageView)
	}
	close(gate)
	drain(t, v)

	if got := v.views[ImageView].view.Draws() - draws; got != 1 {
		t.Errorf("draws = %d, want 1", got)
	}
	if v.views[ImageView].pending.Load() {
		t.Error("pending flag left set")
	}
}

func TestBinCountChangeRecomputesOnce(t *testing.T) {
	v := newTestViewer(t)
	if err := v.SetHistogramBinCount(256); err != nil {
		t.Fatal(err)
	}
	if err := v.ShowImage(ramp(64, 64), 64, 64, false); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	passes := v.pipeline.Passes()
	blocks := v.pipeline.BlocksGeneration()
	images := v.pipeline.ImageGeneration()
	draws := v.views[HistogramView].view.Draws()

	if err := v.SetHistogramBinCount(1024); err != nil {
		t.Fatal(err)
	}
	drain(t, v)

	if got := v.pipeline.Passes() - passes; got != 1 {
		t.Errorf("recomputes = %d, want 1", got)
	}
	if got := v.views[HistogramView].view.Draws() - draws; got != 1 {
		t.Errorf("histogram redraws = %d, want 1", got)
	}
	if v.pipeline.BlocksGeneration() != blocks+1 || v.pipeline.ImageGeneration() != images {
		t.Errorf("generations blocks=%d images=%d", v.pipeline.BlocksGeneration(), v.pipeline.ImageGeneration())
	}
	ref := v.Histogram()
	defer ref.Close()
	if len(ref.Counts()) != 1024 {
		t.Errorf("snapshot length = %d, want 1024", len(ref.Counts()))
	}
	if got := total(ref.Counts()); got != 64*64 {
		t.Errorf("total = %d", got)
	}
}

func TestSetHistogramBinCountRejectsOutOfRange(t *testing.T) {
	v := newTestViewer(t)
	for _, n := range []int{0, compute.MaxBinCount + 1} {
		if err := v.SetHistogramBinCount(n); !errors.Is(err, InvalidArgument) {
			t.Errorf("SetHistogramBinCount(%d) = %v", n, err)
		}
	}
	if v.BinCount() != compute.DefaultBinCount {
		t.Errorf("BinCount = %d", v.BinCount())
	}
}

func TestClearingDiscardsStaleExtrema(t *testing.T) {
	v := newTestViewer(t)
	if err := v.ShowImage(ramp(512, 512), 512, 512, false); err != nil {
		t.Fatal(err)
	}
	if err := v.ShowImage(nil, 0, 0, false); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := v.Extrema(); ok {
		t.Fatal("extrema visible after clearing")
	}
	v.scanner.Wait()
	if _, _, ok := v.Extrema(); ok {
		t.Error("stale extrema delivered after clearing")
	}
	drain(t, v)
	ref := v.Histogram()
	defer ref.Close()
	if len(ref.Counts()) != 0 {
		t.Errorf("histogram kept %d bins after clearing", len(ref.Counts()))
	}
	if v.pipeline.HasImage() {
		t.Error("pipeline kept the image")
	}
}

func TestDeviceListNotifications(t *testing.T) {
	p := &testPlatform{}
	p.add(&testAdapter{name: "first", class: device.ClassGPU})
	v := newTestViewer(t, WithPlatforms(p))

	var (
		mu    sync.Mutex
		lists [][]string
	)
	v.OnDeviceListChanged(func(l []string) {
		mu.Lock()
		lists = append(lists, l)
		mu.Unlock()
	})

	if err := v.RefreshDeviceList(); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	mu.Lock()
	if len(lists) != 0 {
		t.Errorf("unchanged list notified %d times", len(lists))
	}
	mu.Unlock()

	p.add(&testAdapter{name: "second", class: device.ClassCPU})
	if err := v.RefreshDeviceList(); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	mu.Lock()
	defer mu.Unlock()
	if len(lists) != 1 || len(lists[0]) != 2 {
		t.Fatalf("notifications = %v", lists)
	}
	if lists[0][1] != "second (CPU) (test)" {
		t.Errorf("description = %q", lists[0][1])
	}
	if got := v.DeviceList(); len(got) != 2 {
		t.Errorf("DeviceList = %v", got)
	}
}

func TestSetCurrentDeviceIndexOutOfRange(t *testing.T) {
	v := newTestViewer(t)
	before := v.CurrentDeviceIndex()
	for _, i := range []int{-1, len(v.DeviceList()), 99} {
		err := v.SetCurrentDeviceIndex(i)
		if !errors.Is(err, InvalidArgument) || !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("SetCurrentDeviceIndex(%d) = %v", i, err)
		}
	}
	drain(t, v)
	if v.CurrentDeviceIndex() != before {
		t.Errorf("index changed to %d", v.CurrentDeviceIndex())
	}
}

func TestCloseFromNotificationHandler(t *testing.T) {
	p := &testPlatform{}
	p.add(&testAdapter{name: "gpu", class: device.ClassGPU})
	p.add(&testAdapter{name: "cpu", class: device.ClassCPU})
	v := newTestViewer(t, WithPlatforms(p))

	closed := make(chan error, 1)
	v.OnCurrentDeviceChanged(func(int) { closed <- v.Close() })
	if err := v.SetCurrentDeviceIndex(1); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Close from a handler did not return")
	}
	if err := v.ShowImage(ramp(2, 2), 2, 2, false); !errors.Is(err, ErrClosed) {
		t.Errorf("ShowImage after Close = %v, want ErrClosed", err)
	}
}

func TestSetCurrentDeviceIndexMovesWork(t *testing.T) {
	p := &testPlatform{}
	p.add(&testAdapter{name: "gpu", class: device.ClassGPU})
	p.add(&testAdapter{name: "cpu", class: device.ClassCPU})
	v := newTestViewer(t, WithPlatforms(p))
	if v.CurrentDeviceIndex() != 0 {
		t.Fatalf("default index = %d, want 0", v.CurrentDeviceIndex())
	}

	indexes := make(chan int, 4)
	v.OnCurrentDeviceChanged(func(i int) { indexes <- i })

	px := ramp(40, 30)
	if err := v.ShowImage(px, 40, 30, true); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	quads := v.renderer.QuadGeneration()

	if err := v.SetCurrentDeviceIndex(1); err != nil {
		t.Fatal(err)
	}
	drain(t, v)

	select {
	case i := <-indexes:
		if i != 1 {
			t.Errorf("notified index %d, want 1", i)
		}
	default:
		t.Fatal("no current-device notification")
	}
	if v.CurrentDeviceIndex() != 1 {
		t.Errorf("CurrentDeviceIndex = %d", v.CurrentDeviceIndex())
	}
	if v.renderer.QuadGeneration() != quads+1 {
		t.Errorf("QuadGeneration = %d, want %d", v.renderer.QuadGeneration(), quads+1)
	}
	if v.pipeline.Passes() != 1 {
		t.Errorf("passes on new device = %d, want 1", v.pipeline.Passes())
	}
	ref := v.Histogram()
	defer ref.Close()
	if got := total(ref.Counts()); got != len(px) {
		t.Errorf("total = %d, want %d", got, len(px))
	}

	// Selecting the current device again does nothing.
	if err := v.SetCurrentDeviceIndex(1); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	if len(indexes) != 0 {
		t.Error("reselecting the current device notified")
	}
}

func TestDrawShowsImage(t *testing.T) {
	img, hist := newSurfaces()
	v, err := New(img, hist, WithSoftwareOnly(), WithViewParams(ViewParams{Fit: true}),
		WithClearColors(gputypes.Color{R: 1, A: 1}, gputypes.Color{B: 1, A: 1}))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if err := v.ShowImage([]uint16{65535, 65535, 65535, 65535}, 2, 2, false); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	if c := img.Front().RGBAAt(8, 8); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("image view center = %v, want white", c)
	}
	if c := hist.Front().RGBAAt(0, 0); c.B != 255 || c.R != 0 {
		t.Errorf("histogram view = %v, want clear color", c)
	}
}

func TestViewWithoutSurface(t *testing.T) {
	img, _ := newSurfaces()
	v, err := New(img, nil, WithSoftwareOnly())
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	v.Update(HistogramView)
	if err := v.ShowImage(ramp(8, 8), 8, 8, false); err != nil {
		t.Fatal(err)
	}
	drain(t, v)
	ref := v.Histogram()
	defer ref.Close()
	if total(ref.Counts()) != 64 {
		t.Error("histogram not computed without a histogram surface")
	}
}

func TestSetViewParams(t *testing.T) {
	v := newTestViewer(t)
	bad := ViewParams{ZoomIndex: transform.CustomZoomIndex, CustomZoom: 0}
	if err := v.SetViewParams(bad); !errors.Is(err, InvalidArgument) {
		t.Errorf("SetViewParams(bad) = %v", err)
	}
	good := ViewParams{ZoomIndex: transform.CustomZoomIndex, CustomZoom: 3, PanX: 4}
	if err := v.SetViewParams(good); err != nil {
		t.Fatal(err)
	}
	if got := v.ViewParams(); got != good {
		t.Errorf("ViewParams = %+v, want %+v", got, good)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	img, hist := newSurfaces()
	if _, err := New(img, hist, WithSoftwareOnly(), WithBinCount(0)); !errors.Is(err, InvalidArgument) {
		t.Errorf("bin count 0: %v", err)
	}
	if _, err := New(img, hist, WithPlatforms()); !errors.Is(err, DeviceEnumerationFailure) {
		t.Errorf("no platforms: %v", err)
	}
	if _, err := New(img, hist, WithSoftwareOnly(), WithShaderDir(t.TempDir())); !errors.Is(err, ResourceCreationFailure) {
		t.Errorf("empty shader dir: %v", err)
	}
}

func TestClosedViewer(t *testing.T) {
	img, hist := newSurfaces()
	v, err := New(img, hist, WithSoftwareOnly())
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if err := v.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := v.ShowImage(nil, 0, 0, false); !errors.Is(err, ErrClosed) {
		t.Errorf("ShowImage after Close = %v", err)
	}
	if err := v.Sync(); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync after Close = %v", err)
	}
	v.Update(ImageView)
}
