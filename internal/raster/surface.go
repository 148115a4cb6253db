package raster

import (
	"image"
	"image/draw"
	"sync"

	"github.com/gogpu/gputypes"
)

// Surface is a drawable surface owned by the host widget layer.
type Surface interface {
	// MakeCurrent binds the surface's context to the calling goroutine.
	MakeCurrent() error
	// SwapBuffers presents the frame drawn since the last swap.
	SwapBuffers() error
	// Finish blocks until raster work issued on the surface has completed.
	Finish() error
	// Target returns what passes draw into: a draw.Image or, for hal
	// devices, a hal.TextureView.
	Target() any
	// Widget returns the widget state shared with the host.
	Widget() *WidgetState
}

// WidgetState is the part of the host widget read while drawing. The host
// writes it from its own goroutine; all access goes through the lock.
type WidgetState struct {
	mu     sync.Mutex
	clear  gputypes.Color
	width  int
	height int
}

// NewWidgetState returns a state with the given clear color and view size.
func NewWidgetState(clear gputypes.Color, w, h int) *WidgetState {
	return &WidgetState{clear: clear, width: w, height: h}
}

// SetClearColor sets the background color.
func (s *WidgetState) SetClearColor(c gputypes.Color) {
	s.mu.Lock()
	s.clear = c
	s.mu.Unlock()
}

// SetViewSize records the logical pixel size of the view.
func (s *WidgetState) SetViewSize(w, h int) {
	s.mu.Lock()
	s.width, s.height = w, h
	s.mu.Unlock()
}

// Snapshot returns the clear color and view size.
func (s *WidgetState) Snapshot() (gputypes.Color, image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear, image.Pt(s.width, s.height)
}

// ImageSurface is a Surface drawing into an in-memory RGBA image, used by
// headless hosts. Swapping copies the back buffer to the front buffer and
// calls the present callback.
type ImageSurface struct {
	widget *WidgetState

	mu      sync.Mutex
	back    *image.RGBA
	front   *image.RGBA
	frames  uint64
	present func(*image.RGBA)
}

// NewImageSurface returns a w x h surface. present, if non-nil, is called
// with the front buffer after every swap.
func NewImageSurface(w, h int, clear gputypes.Color, present func(*image.RGBA)) *ImageSurface {
	return &ImageSurface{
		widget:  NewWidgetState(clear, w, h),
		back:    image.NewRGBA(image.Rect(0, 0, w, h)),
		front:   image.NewRGBA(image.Rect(0, 0, w, h)),
		present: present,
	}
}

// MakeCurrent implements Surface.
func (s *ImageSurface) MakeCurrent() error { return nil }

// Finish implements Surface.
func (s *ImageSurface) Finish() error { return nil }

// Widget implements Surface.
func (s *ImageSurface) Widget() *WidgetState { return s.widget }

// Target implements Surface. The back buffer follows the widget's view size.
func (s *ImageSurface) Target() any {
	_, size := s.widget.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if size.X > 0 && size.Y > 0 && s.back.Bounds().Size() != size {
		s.back = image.NewRGBA(image.Rectangle{Max: size})
	}
	return draw.Image(s.back)
}

// SwapBuffers implements Surface.
func (s *ImageSurface) SwapBuffers() error {
	s.mu.Lock()
	if s.front.Bounds() != s.back.Bounds() {
		s.front = image.NewRGBA(s.back.Bounds())
	}
	copy(s.front.Pix, s.back.Pix)
	s.frames++
	front, present := s.front, s.present
	s.mu.Unlock()
	if present != nil {
		present(front)
	}
	return nil
}

// Frames returns the number of swaps.
func (s *ImageSurface) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Front returns a copy of the last presented frame.
func (s *ImageSurface) Front() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.front.Bounds())
	copy(out.Pix, s.front.Pix)
	return out
}
