package raster

import (
	"errors"
	"image"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgview/internal/compute"
	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/shaders"
	"github.com/gogpu/imgview/transform"
)

var black = gputypes.Color{A: 1}

// countingDevice tracks live buffers of a software device.
type countingDevice struct {
	*gpu.SoftwareDevice
	live int
}

func (d *countingDevice) NewBuffer(label string, size uint64, usage gpu.Usage) (gpu.Buffer, error) {
	b, err := d.SoftwareDevice.NewBuffer(label, size, usage)
	if err == nil {
		d.live++
	}
	return b, err
}

func (d *countingDevice) DestroyBuffer(b gpu.Buffer) {
	d.live--
	d.SoftwareDevice.DestroyBuffer(b)
}

func newTestRenderer(t *testing.T) (*Renderer, *countingDevice) {
	t.Helper()
	dev := &countingDevice{SoftwareDevice: gpu.NewSoftwareDevice("test", 2)}
	r, err := NewRenderer(dev, shaders.Default(), gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		dev.Destroy()
	})
	return r, dev
}

// uploadImage packs gray levels k as samples 257*k, which shade to exactly k.
func uploadImage(t *testing.T, dev gpu.Device, levels []uint8, w, h int) *Image {
	t.Helper()
	px := make([]uint16, len(levels))
	for i, k := range levels {
		px[i] = uint16(k) * 257
	}
	data := compute.PackPixels(px)
	buf, err := dev.NewBuffer("image", uint64(len(data)), gpu.UsageStorage|gpu.UsageCopyDst)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.DestroyBuffer(buf) })
	if err := dev.WriteBuffer(buf, 0, data); err != nil {
		t.Fatal(err)
	}
	return &Image{Buffer: gpu.NewShared(buf), Width: w, Height: h}
}

func grayAt(img *image.RGBA, x, y int) uint8 { return img.RGBAAt(x, y).R }

func TestDrawImageUpright(t *testing.T) {
	r, dev := newTestRenderer(t)
	levels := []uint8{
		10, 20, 30, 40,
		50, 60, 70, 80,
	}
	img := uploadImage(t, dev, levels, 4, 2)
	s := NewImageSurface(4, 2, black, nil)
	v := NewView("image", s)

	if err := r.DrawImage(v, img, transform.DefaultView(0, 0, 0, 0)); err != nil {
		t.Fatalf("DrawImage: %v", err)
	}
	out := s.Front()
	for y := range 2 {
		for x := range 4 {
			if got, want := grayAt(out, x, y), levels[y*4+x]; got != want {
				t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
	if s.Frames() != 1 || v.Draws() != 1 {
		t.Errorf("frames = %d, draws = %d", s.Frames(), v.Draws())
	}
}

func TestDrawImageZoomed(t *testing.T) {
	r, dev := newTestRenderer(t)
	levels := []uint8{1, 2, 3, 4}
	img := uploadImage(t, dev, levels, 2, 2)
	s := NewImageSurface(4, 4, black, nil)
	v := NewView("image", s)

	params := transform.DefaultView(0, 0, 0, 0)
	params.ZoomIndex = 2 // 2x
	if err := r.DrawImage(v, img, params); err != nil {
		t.Fatal(err)
	}
	out := s.Front()
	for y := range 4 {
		for x := range 4 {
			if got, want := grayAt(out, x, y), levels[(y/2)*2+x/2]; got != want {
				t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestDrawImageFitLetterbox(t *testing.T) {
	r, dev := newTestRenderer(t)
	levels := []uint8{
		10, 20, 30, 40,
		50, 60, 70, 80,
	}
	img := uploadImage(t, dev, levels, 4, 2)
	bg := gputypes.Color{R: 1, A: 1}
	s := NewImageSurface(4, 4, bg, nil)
	v := NewView("image", s)

	params := transform.DefaultView(0, 0, 0, 0)
	params.Fit = true
	if err := r.DrawImage(v, img, params); err != nil {
		t.Fatal(err)
	}
	out := s.Front()
	for x := range 4 {
		for _, y := range []int{0, 3} {
			if c := out.RGBAAt(x, y); c.R != 255 || c.G != 0 {
				t.Errorf("letterbox pixel (%d,%d) = %v", x, y, c)
			}
		}
		if got, want := grayAt(out, x, 1), levels[x]; got != want {
			t.Errorf("pixel (%d,1) = %d, want %d", x, got, want)
		}
		if got, want := grayAt(out, x, 2), levels[4+x]; got != want {
			t.Errorf("pixel (%d,2) = %d, want %d", x, got, want)
		}
	}
}

func TestDrawImageWithoutImageClears(t *testing.T) {
	r, _ := newTestRenderer(t)
	s := NewImageSurface(3, 3, gputypes.Color{G: 1, A: 1}, nil)
	v := NewView("image", s)
	if err := r.DrawImage(v, nil, transform.View{}); err != nil {
		t.Fatal(err)
	}
	if c := s.Front().RGBAAt(1, 1); c.G != 255 || c.R != 0 {
		t.Errorf("center = %v, want clear color", c)
	}
}

func TestDrawImageRejectsAcquiredImage(t *testing.T) {
	r, dev := newTestRenderer(t)
	img := uploadImage(t, dev, []uint8{1}, 1, 1)
	if err := gpu.Acquire(nil, img.Buffer); err != nil {
		t.Fatal(err)
	}
	v := NewView("image", NewImageSurface(2, 2, black, nil))
	if err := r.DrawImage(v, img, transform.DefaultView(0, 0, 0, 0)); !errors.Is(err, ErrImageBusy) {
		t.Fatalf("DrawImage = %v, want ErrImageBusy", err)
	}
}

func TestDrawHistogramClearsAndSwaps(t *testing.T) {
	r, _ := newTestRenderer(t)
	var presented int
	s := NewImageSurface(8, 4, gputypes.Color{B: 1, A: 1}, func(*image.RGBA) { presented++ })
	v := NewView("histogram", s)
	for range 2 {
		if err := r.DrawHistogram(v); err != nil {
			t.Fatal(err)
		}
	}
	if presented != 2 || v.Draws() != 2 {
		t.Errorf("presented = %d, draws = %d", presented, v.Draws())
	}
	if c := s.Front().RGBAAt(7, 3); c.B != 255 {
		t.Errorf("corner = %v, want clear color", c)
	}
}

func TestViewportSync(t *testing.T) {
	r, _ := newTestRenderer(t)
	s := NewImageSurface(4, 4, black, nil)
	v := NewView("histogram", s)

	steps := []struct {
		w, h    int
		updates uint64
	}{
		{4, 4, 1},
		{4, 4, 1},
		{0, 4, 1},
		{4, 0, 1},
		{6, 3, 2},
		{6, 3, 2},
		{4, 4, 3},
	}
	for i, st := range steps {
		s.Widget().SetViewSize(st.w, st.h)
		if err := r.DrawHistogram(v); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := v.ViewportUpdates(); got != st.updates {
			t.Errorf("step %d (%dx%d): updates = %d, want %d", i, st.w, st.h, got, st.updates)
		}
	}
}

func TestRebindRebuildsQuad(t *testing.T) {
	r, dev := newTestRenderer(t)
	if r.QuadGeneration() != 1 {
		t.Fatalf("QuadGeneration = %d, want 1", r.QuadGeneration())
	}
	built := dev.live

	other := &countingDevice{SoftwareDevice: gpu.NewSoftwareDevice("other", 1)}
	defer other.Destroy()
	if err := r.Rebind(other); err != nil {
		t.Fatal(err)
	}
	if dev.live != 0 {
		t.Errorf("old device still holds %d buffers", dev.live)
	}
	if other.live != built {
		t.Errorf("new device holds %d buffers, want %d", other.live, built)
	}
	if r.QuadGeneration() != 2 {
		t.Errorf("QuadGeneration = %d, want 2", r.QuadGeneration())
	}
	r.Close()
	if other.live != 0 {
		t.Errorf("Close left %d buffers", other.live)
	}
}

func TestImageUniformsLayout(t *testing.T) {
	res, err := transform.Compute(transform.DefaultView(4, 2, 8, 6))
	if err != nil {
		t.Fatal(err)
	}
	u := imageUniforms(res, 4, 2, 6, true)
	if len(u) != uniformSize {
		t.Fatalf("len = %d, want %d", len(u), uniformSize)
	}
	if got := f32(u, uniformViewHeight); got != 6 {
		t.Errorf("view height = %v", got)
	}
	if u[uniformFiltering] != 1 || u[uniformImageSize] != 4 || u[uniformImageSize+4] != 2 {
		t.Errorf("image size/filter bytes = %v", u[uniformImageSize:])
	}
}
