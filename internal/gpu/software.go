package gpu

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync/atomic"
)

// SoftwareDevice runs kernels and raster programs on the CPU. Workgroups
// of a dispatch are spread over a worker pool, and the device reports
// out-of-order support so independent queue work also runs concurrently.
type SoftwareDevice struct {
	name      string
	pool      *workerPool
	destroyed atomic.Bool
}

// NewSoftwareDevice returns a CPU device using up to workers goroutines
// (GOMAXPROCS when workers <= 0).
func NewSoftwareDevice(name string, workers int) *SoftwareDevice {
	return &SoftwareDevice{name: name, pool: newWorkerPool(workers)}
}

type softBuffer struct {
	dev   *SoftwareDevice
	label string
	data  []byte
}

func (b *softBuffer) Label() string { return b.label }
func (b *softBuffer) Size() uint64  { return uint64(len(b.data)) }

type softKernel struct {
	dev      *SoftwareDevice
	label    string
	bindings int
	cpu      CPUKernel
}

func (k *softKernel) Label() string { return k.label }

type softProgram struct {
	dev      *SoftwareDevice
	label    string
	vertex   VertexFunc
	fragment FragmentFunc
}

func (p *softProgram) Label() string { return p.label }

// Name implements Device.
func (d *SoftwareDevice) Name() string { return d.name }

// OutOfOrder implements Device.
func (d *SoftwareDevice) OutOfOrder() bool { return true }

// NewBuffer implements Device. Sizes are rounded up to a multiple of four,
// matching HALDevice.
func (d *SoftwareDevice) NewBuffer(label string, size uint64, _ Usage) (Buffer, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	size = alignCopy(max(size, 4))
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("gpu: buffer %s: size %d too large", label, size)
	}
	return &softBuffer{dev: d, label: label, data: make([]byte, size)}, nil
}

// DestroyBuffer implements Device.
func (d *SoftwareDevice) DestroyBuffer(b Buffer) {
	if sb, ok := b.(*softBuffer); ok && sb.dev == d {
		sb.data = nil
	}
}

func (d *SoftwareDevice) buffer(b Buffer) (*softBuffer, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	sb, ok := b.(*softBuffer)
	if !ok || sb.dev != d {
		return nil, ErrForeignResource
	}
	return sb, nil
}

func checkRange(b Buffer, offset, size uint64) error {
	if offset > b.Size() || size > b.Size()-offset {
		return fmt.Errorf("gpu: range [%d, %d) outside buffer %s of %d bytes", offset, offset+size, b.Label(), b.Size())
	}
	return nil
}

// WriteBuffer implements Device.
func (d *SoftwareDevice) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if err := checkRange(b, offset, uint64(len(data))); err != nil {
		return err
	}
	copy(sb.data[offset:], data)
	return nil
}

// CopyBuffer implements Device.
func (d *SoftwareDevice) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error {
	s, err := d.buffer(src)
	if err != nil {
		return err
	}
	t, err := d.buffer(dst)
	if err != nil {
		return err
	}
	if err := checkRange(src, srcOffset, size); err != nil {
		return err
	}
	if err := checkRange(dst, dstOffset, size); err != nil {
		return err
	}
	copy(t.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
	return nil
}

// ReadBuffer implements Device.
func (d *SoftwareDevice) ReadBuffer(b Buffer, offset uint64, dst []byte) error {
	sb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if err := checkRange(b, offset, uint64(len(dst))); err != nil {
		return err
	}
	copy(dst, sb.data[offset:])
	return nil
}

// NewKernel implements Device.
func (d *SoftwareDevice) NewKernel(spec KernelSpec) (Kernel, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	if spec.CPU == nil {
		return nil, fmt.Errorf("%s: %w", spec.Label, ErrNoCPUKernel)
	}
	return &softKernel{dev: d, label: spec.Label, bindings: len(spec.Bindings), cpu: spec.CPU}, nil
}

// DestroyKernel implements Device.
func (d *SoftwareDevice) DestroyKernel(Kernel) {}

// Dispatch implements Device.
func (d *SoftwareDevice) Dispatch(k Kernel, groups [3]uint32, bufs ...Buffer) error {
	sk, ok := k.(*softKernel)
	if !ok || sk.dev != d {
		return ErrForeignResource
	}
	if len(bufs) != sk.bindings {
		return fmt.Errorf("gpu: dispatch %s: %d buffers for %d bindings", sk.label, len(bufs), sk.bindings)
	}
	data := make([][]byte, len(bufs))
	for i, b := range bufs {
		sb, err := d.buffer(b)
		if err != nil {
			return err
		}
		data[i] = sb.data
	}
	total := int(groups[0]) * int(groups[1]) * int(groups[2])
	d.pool.run(total, func(i int) {
		g := uint32(i) //nolint:gosec // i < total
		sk.cpu([3]uint32{g % groups[0], g / groups[0] % groups[1], g / (groups[0] * groups[1])}, groups, data)
	})
	return nil
}

// NewRasterProgram implements Device.
func (d *SoftwareDevice) NewRasterProgram(spec RasterSpec) (RasterProgram, error) {
	if d.destroyed.Load() {
		return nil, ErrDeviceLost
	}
	if spec.VertexCPU == nil || spec.FragmentCPU == nil {
		return nil, fmt.Errorf("%s: %w", spec.Label, ErrNoCPUKernel)
	}
	return &softProgram{dev: d, label: spec.Label, vertex: spec.VertexCPU, fragment: spec.FragmentCPU}, nil
}

// DestroyRasterProgram implements Device.
func (d *SoftwareDevice) DestroyRasterProgram(RasterProgram) {}

// Render implements Device. The target must be a draw.Image; its rows run
// top-down while window coordinates run bottom-up.
func (d *SoftwareDevice) Render(p *Pass) error {
	if d.destroyed.Load() {
		return ErrDeviceLost
	}
	dst, ok := p.Target.(draw.Image)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedTarget, p.Target)
	}
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.NewUniform(toNRGBA(p.Clear.R, p.Clear.G, p.Clear.B, p.Clear.A)), image.Point{}, draw.Src)
	if p.Program == nil || p.IndexCount == 0 {
		return nil
	}

	prog, ok := p.Program.(*softProgram)
	if !ok || prog.dev != d {
		return ErrForeignResource
	}
	verts, err := d.buffer(p.Vertices)
	if err != nil {
		return err
	}
	idx, err := d.buffer(p.Indices)
	if err != nil {
		return err
	}
	var uniforms, storage []byte
	if p.Uniforms != nil {
		ub, err := d.buffer(p.Uniforms)
		if err != nil {
			return err
		}
		uniforms = ub.data
	}
	if p.Storage != nil {
		sb, err := d.buffer(p.Storage)
		if err != nil {
			return err
		}
		storage = sb.data
	}
	if uint64(p.IndexCount)*2 > idx.Size() {
		return fmt.Errorf("gpu: %d indices exceed buffer %s", p.IndexCount, idx.label)
	}

	vp := p.Viewport.Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if vp.Empty() {
		return nil
	}
	window := func(i uint16) ([2]float64, error) {
		off := int(i) * 8
		if off+8 > len(verts.data) {
			return [2]float64{}, fmt.Errorf("gpu: vertex %d outside buffer %s", i, verts.label)
		}
		pos := [2]float32{
			math.Float32frombits(binary.LittleEndian.Uint32(verts.data[off:])),
			math.Float32frombits(binary.LittleEndian.Uint32(verts.data[off+4:])),
		}
		c := prog.vertex(pos, uniforms)
		nx, ny := float64(c[0]/c[3]), float64(c[1]/c[3])
		return [2]float64{
			float64(p.Viewport.Min.X) + (nx+1)/2*float64(p.Viewport.Dx()),
			float64(p.Viewport.Min.Y) + (ny+1)/2*float64(p.Viewport.Dy()),
		}, nil
	}

	for t := uint32(0); t+3 <= p.IndexCount; t += 3 {
		var tri [3][2]float64
		for k := range 3 {
			vi := binary.LittleEndian.Uint16(idx.data[(t+uint32(k))*2:]) //nolint:gosec // k < 3
			if tri[k], err = window(vi); err != nil {
				return err
			}
		}
		rasterTriangle(dst, bounds, vp, tri, func(x, y float32) (color.NRGBA, bool) {
			r, g, b, a, keep := prog.fragment(x, y, uniforms, storage)
			return toNRGBA(float64(r), float64(g), float64(b), float64(a)), keep
		})
	}
	return nil
}

// rasterTriangle shades pixels of vp whose centers lie inside tri.
// tri and vp are in window coordinates, origin bottom-left.
func rasterTriangle(dst draw.Image, bounds, vp image.Rectangle, tri [3][2]float64, shade func(x, y float32) (color.NRGBA, bool)) {
	area := edge(tri[0], tri[1], tri[2])
	if area == 0 {
		return
	}
	minX := math.Min(tri[0][0], math.Min(tri[1][0], tri[2][0]))
	maxX := math.Max(tri[0][0], math.Max(tri[1][0], tri[2][0]))
	minY := math.Min(tri[0][1], math.Min(tri[1][1], tri[2][1]))
	maxY := math.Max(tri[0][1], math.Max(tri[1][1], tri[2][1]))
	x0 := max(vp.Min.X, int(math.Floor(minX)))
	x1 := min(vp.Max.X, int(math.Ceil(maxX)))
	y0 := max(vp.Min.Y, int(math.Floor(minY)))
	y1 := min(vp.Max.Y, int(math.Ceil(maxY)))

	height := bounds.Dy()
	rgba, _ := dst.(*image.RGBA)
	for wy := y0; wy < y1; wy++ {
		cy := float64(wy) + 0.5
		row := bounds.Min.Y + height - 1 - wy
		for wx := x0; wx < x1; wx++ {
			pt := [2]float64{float64(wx) + 0.5, cy}
			w0 := edge(tri[1], tri[2], pt)
			w1 := edge(tri[2], tri[0], pt)
			w2 := edge(tri[0], tri[1], pt)
			if area < 0 {
				w0, w1, w2 = -w0, -w1, -w2
			}
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			c, keep := shade(float32(pt[0]), float32(pt[1]))
			if !keep {
				continue
			}
			if rgba != nil {
				rgba.SetRGBA(bounds.Min.X+wx, row, color.RGBAModel.Convert(c).(color.RGBA))
			} else {
				dst.Set(bounds.Min.X+wx, row, c)
			}
		}
	}
}

func edge(a, b, c [2]float64) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func toNRGBA(r, g, b, a float64) color.NRGBA {
	q := func(v float64) uint8 {
		return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return color.NRGBA{R: q(r), G: q(g), B: q(b), A: q(a)}
}

// Finish implements Device. CPU work completes synchronously.
func (d *SoftwareDevice) Finish() error {
	if d.destroyed.Load() {
		return ErrDeviceLost
	}
	return nil
}

// Destroy implements Device.
func (d *SoftwareDevice) Destroy() {
	if d.destroyed.CompareAndSwap(false, true) {
		d.pool.close()
	}
}
