// Package raster draws the image view and the histogram view.
//
// A Renderer holds the device objects shared by both views: the image
// program, the quad geometry and the uniform buffer. Each View tracks one
// host surface and the viewport last applied to it.
package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/shaders"
	"github.com/gogpu/imgview/internal/status"
	"github.com/gogpu/imgview/transform"
)

// QuadExtent is the half size of the quad in normalized device
// coordinates. Corners sit outside [-1, 1] so the quad always covers the
// viewport.
const QuadExtent = 1.1

// Quad vertices in triangle fan order, and the fan as a triangle list.
var (
	quadVertices = [4][2]float32{
		{QuadExtent, -QuadExtent},
		{-QuadExtent, -QuadExtent},
		{-QuadExtent, QuadExtent},
		{QuadExtent, QuadExtent},
	}
	quadIndices = [6]uint16{0, 1, 2, 0, 2, 3}
)

// ErrImageBusy is returned when the image is drawn while compute owns it.
var ErrImageBusy = errors.New("raster: image acquired by compute")

// Image is the image to draw.
type Image struct {
	Buffer        *gpu.Shared
	Width, Height int
	// Filter selects bilinear instead of nearest sampling.
	Filter bool
}

// Renderer owns the device objects used by both views.
type Renderer struct {
	dev    gpu.Device
	src    shaders.Set
	format gputypes.TextureFormat

	program  gpu.Handle[gpu.RasterProgram]
	vertices gpu.Handle[gpu.Buffer]
	indices  gpu.Handle[gpu.Buffer]
	uniforms gpu.Handle[gpu.Buffer]

	quadGen atomic.Uint64
}

// NewRenderer builds the image program and the quad on dev. format is the
// color format of hal surface targets.
func NewRenderer(dev gpu.Device, src shaders.Set, format gputypes.TextureFormat) (*Renderer, error) {
	r := &Renderer{src: src, format: format}
	if err := r.Rebind(dev); err != nil {
		return nil, err
	}
	return r, nil
}

// Rebind releases every device object and rebuilds them on dev.
func (r *Renderer) Rebind(dev gpu.Device) error {
	r.release()
	r.dev = dev

	prog, err := dev.NewRasterProgram(gpu.RasterSpec{
		Label:         "image",
		Source:        r.src.Image,
		VertexEntry:   shaders.VertexEntry,
		FragmentEntry: shaders.FragmentEntry,
		Format:        r.format,
		VertexCPU:     imageVertex,
		FragmentCPU:   imageFragment,
	})
	if err != nil {
		return status.Wrap(status.KindResourceCreation, "raster.Rebind", err)
	}
	r.program.Reset(prog, dev.DestroyRasterProgram)

	if err := r.buildQuad(); err != nil {
		r.release()
		return status.Wrap(status.KindResourceCreation, "raster.Rebind", err)
	}
	return nil
}

func (r *Renderer) buildQuad() error {
	dev := r.dev
	le := binary.LittleEndian

	verts := make([]byte, 0, len(quadVertices)*8)
	for _, v := range quadVertices {
		verts = le.AppendUint32(verts, math.Float32bits(v[0]))
		verts = le.AppendUint32(verts, math.Float32bits(v[1]))
	}
	idx := make([]byte, 0, len(quadIndices)*2)
	for _, i := range quadIndices {
		idx = le.AppendUint16(idx, i)
	}

	for _, b := range []struct {
		label string
		data  []byte
		usage gpu.Usage
		h     *gpu.Handle[gpu.Buffer]
	}{
		{"quad_vertices", verts, gpu.UsageVertex | gpu.UsageCopyDst, &r.vertices},
		{"quad_indices", idx, gpu.UsageIndex | gpu.UsageCopyDst, &r.indices},
		{"image_uniforms", make([]byte, uniformSize), gpu.UsageUniform | gpu.UsageCopyDst, &r.uniforms},
	} {
		buf, err := dev.NewBuffer(b.label, uint64(len(b.data)), b.usage)
		if err != nil {
			return err
		}
		b.h.Reset(buf, dev.DestroyBuffer)
		if err := dev.WriteBuffer(buf, 0, b.data); err != nil {
			return fmt.Errorf("raster: upload %s: %w", b.label, err)
		}
	}
	gen := r.quadGen.Add(1)
	slogger().Debug("raster: quad built", "device", dev.Name(), "generation", gen)
	return nil
}

// QuadGeneration counts quad geometry builds.
func (r *Renderer) QuadGeneration() uint64 { return r.quadGen.Load() }

func (r *Renderer) release() {
	r.uniforms.Release()
	r.indices.Release()
	r.vertices.Release()
	r.program.Release()
}

// Close releases every device object.
func (r *Renderer) Close() {
	r.release()
	r.dev = nil
}

// DrawImage draws img into v using the pan and zoom of params, or only
// clears when img is nil. The surface is swapped in both cases.
func (r *Renderer) DrawImage(v *View, img *Image, params transform.View) error {
	const op = "raster.DrawImage"
	if err := v.surface.MakeCurrent(); err != nil {
		return status.Wrap(status.KindResourceCreation, op, err)
	}
	bg, vp := v.syncViewport()
	pass := &gpu.Pass{
		Target:   v.surface.Target(),
		Size:     vp.Max,
		Viewport: vp,
		Clear:    bg,
	}

	if img != nil && img.Buffer != nil && !vp.Empty() {
		if img.Buffer.Acquired() {
			return status.Wrap(status.KindComputeRuntime, op, ErrImageBusy)
		}
		params.ImageWidth, params.ImageHeight = img.Width, img.Height
		params.ViewWidth, params.ViewHeight = vp.Dx(), vp.Dy()
		res, err := transform.Compute(params)
		if err != nil {
			return err
		}
		u := imageUniforms(res, img.Width, img.Height, vp.Dy(), img.Filter)
		if err := r.dev.WriteBuffer(r.uniforms.Value(), 0, u); err != nil {
			return status.Wrap(status.KindComputeRuntime, op, err)
		}
		pass.Program = r.program.Value()
		pass.Vertices = r.vertices.Value()
		pass.Indices = r.indices.Value()
		pass.IndexCount = uint32(len(quadIndices))
		pass.Uniforms = r.uniforms.Value()
		pass.Storage = img.Buffer.Buffer()
	}
	return r.finishPass(v, pass, op)
}

// DrawHistogram clears the histogram view and swaps it.
func (r *Renderer) DrawHistogram(v *View) error {
	const op = "raster.DrawHistogram"
	if err := v.surface.MakeCurrent(); err != nil {
		return status.Wrap(status.KindResourceCreation, op, err)
	}
	bg, vp := v.syncViewport()
	return r.finishPass(v, &gpu.Pass{
		Target:   v.surface.Target(),
		Size:     vp.Max,
		Viewport: vp,
		Clear:    bg,
	}, op)
}

func (r *Renderer) finishPass(v *View, pass *gpu.Pass, op string) error {
	if err := r.dev.Render(pass); err != nil {
		return status.Wrap(status.KindComputeRuntime, op, err)
	}
	if err := v.surface.SwapBuffers(); err != nil {
		return status.Wrap(status.KindComputeRuntime, op, err)
	}
	v.draws.Add(1)
	return nil
}

// View is one logical view bound to a host surface.
type View struct {
	name    string
	surface Surface

	applied   image.Point
	viewports atomic.Uint64
	draws     atomic.Uint64
}

// NewView returns a view drawing into s.
func NewView(name string, s Surface) *View {
	return &View{name: name, surface: s}
}

// Name returns the view name.
func (v *View) Name() string { return v.name }

// Surface returns the host surface.
func (v *View) Surface() Surface { return v.surface }

// Finish drains raster work on the view's surface.
func (v *View) Finish() error { return v.surface.Finish() }

// syncViewport applies the widget's view size when it changed and is
// positive, and returns the clear color and current viewport.
func (v *View) syncViewport() (gputypes.Color, image.Rectangle) {
	bg, size := v.surface.Widget().Snapshot()
	if size != v.applied && size.X > 0 && size.Y > 0 {
		v.applied = size
		v.viewports.Add(1)
		slogger().Debug("raster: viewport", "view", v.name, "width", size.X, "height", size.Y)
	}
	return bg, image.Rectangle{Max: v.applied}
}

// ViewportUpdates counts applied viewport changes.
func (v *View) ViewportUpdates() uint64 { return v.viewports.Load() }

// Draws counts completed draws.
func (v *View) Draws() uint64 { return v.draws.Load() }
