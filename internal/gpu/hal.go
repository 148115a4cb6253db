package gpu

import (
	"fmt"
	"image/draw"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// HALDevice runs work on a GPU through wgpu/hal.
//
// Copies and dispatches are recorded into one command encoder and submitted
// together on the next WriteBuffer, ReadBuffer, Render or Finish, so a
// histogram pass costs a single submission. The HAL queue executes in
// submission order, so OutOfOrder reports false.
type HALDevice struct {
	mu sync.Mutex

	name     string
	device   hal.Device
	queue    hal.Queue
	external bool // device shared with the host, not destroyed on Destroy

	encoder   hal.CommandEncoder
	submitted []hal.CommandBuffer
	// transient holds objects that must outlive the submitted work.
	transient []func()

	offscreen offscreenTarget
	destroyed bool
}

// NewHALDevice wraps an open HAL device and queue. When external is true
// the device belongs to someone else and Destroy leaves it open.
func NewHALDevice(name string, device hal.Device, queue hal.Queue, external bool) *HALDevice {
	return &HALDevice{name: name, device: device, queue: queue, external: external}
}

// OpenHALDevice opens adapter with default limits.
func OpenHALDevice(name string, adapter hal.Adapter) (*HALDevice, error) {
	open, err := adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("gpu: open %s: %w", name, err)
	}
	return NewHALDevice(name, open.Device, open.Queue, false), nil
}

type halBuffer struct {
	dev   *HALDevice
	label string
	size  uint64
	buf   hal.Buffer
}

func (b *halBuffer) Label() string { return b.label }
func (b *halBuffer) Size() uint64  { return b.size }

type halKernel struct {
	dev        *HALDevice
	label      string
	bindings   []BindingKind
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

func (k *halKernel) Label() string { return k.label }

type halProgram struct {
	dev        *HALDevice
	spec       RasterSpec
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipelines  map[gputypes.TextureFormat]hal.RenderPipeline
}

func (p *halProgram) Label() string { return p.spec.Label }

// Name implements Device.
func (d *HALDevice) Name() string { return d.name }

// OutOfOrder implements Device.
func (d *HALDevice) OutOfOrder() bool { return false }

// HAL returns the underlying device and queue.
func (d *HALDevice) HAL() (hal.Device, hal.Queue) { return d.device, d.queue }

// alignCopy rounds n up to the 4-byte granularity of buffer copies.
func alignCopy(n uint64) uint64 { return (n + 3) &^ 3 }

// NewBuffer implements Device. Sizes are rounded up to a multiple of four.
func (d *HALDevice) NewBuffer(label string, size uint64, usage Usage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDeviceLost
	}
	size = alignCopy(max(size, 4))
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage.halUsage(),
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %s: %w", label, err)
	}
	slogger().Debug("gpu: buffer created", "label", label, "size", size)
	return &halBuffer{dev: d, label: label, size: size, buf: buf}, nil
}

// DestroyBuffer implements Device.
func (d *HALDevice) DestroyBuffer(b Buffer) {
	hb, ok := b.(*halBuffer)
	if !ok || hb.dev != d || hb.buf == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	buf := hb.buf
	hb.buf = nil
	if d.encoder != nil || len(d.submitted) > 0 {
		d.transient = append(d.transient, func() { d.device.DestroyBuffer(buf) })
		return
	}
	d.device.DestroyBuffer(buf)
}

func (d *HALDevice) buffer(b Buffer) (*halBuffer, error) {
	if d.destroyed {
		return nil, ErrDeviceLost
	}
	hb, ok := b.(*halBuffer)
	if !ok || hb.dev != d || hb.buf == nil {
		return nil, ErrForeignResource
	}
	return hb, nil
}

func (d *HALDevice) encoderLocked() (hal.CommandEncoder, error) {
	if d.encoder != nil {
		return d.encoder, nil
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "imgview_encoder"})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("imgview"); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding: %w", err)
	}
	d.encoder = enc
	return enc, nil
}

// submitLocked ends and submits the open encoder, if any.
func (d *HALDevice) submitLocked() error {
	if d.encoder == nil {
		return nil
	}
	enc := d.encoder
	d.encoder = nil
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	if _, err := d.queue.Submit([]hal.CommandBuffer{cmd}); err != nil {
		d.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("gpu: submit: %w", err)
	}
	d.submitted = append(d.submitted, cmd)
	return nil
}

func (d *HALDevice) finishLocked() error {
	if d.destroyed {
		return ErrDeviceLost
	}
	if err := d.submitLocked(); err != nil {
		return err
	}
	if len(d.submitted) == 0 && len(d.transient) == 0 {
		return nil
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("gpu: wait idle: %w", err)
	}
	for _, cmd := range d.submitted {
		d.device.FreeCommandBuffer(cmd)
	}
	d.submitted = d.submitted[:0]
	for _, release := range d.transient {
		release()
	}
	d.transient = d.transient[:0]
	return nil
}

// WriteBuffer implements Device. Recorded work is submitted first so the
// write lands after it.
func (d *HALDevice) WriteBuffer(b Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	hb, err := d.buffer(b)
	if err != nil {
		return err
	}
	if err := checkRange(b, offset, uint64(len(data))); err != nil {
		return err
	}
	if err := d.submitLocked(); err != nil {
		return err
	}
	if len(data)%4 != 0 {
		padded := make([]byte, alignCopy(uint64(len(data))))
		copy(padded, data)
		data = padded
	}
	if err := d.queue.WriteBuffer(hb.buf, offset, data); err != nil {
		return fmt.Errorf("gpu: write %s: %w", hb.label, err)
	}
	return nil
}

// CopyBuffer implements Device.
func (d *HALDevice) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.buffer(src)
	if err != nil {
		return err
	}
	t, err := d.buffer(dst)
	if err != nil {
		return err
	}
	size = alignCopy(size)
	if err := checkRange(src, srcOffset, size); err != nil {
		return err
	}
	if err := checkRange(dst, dstOffset, size); err != nil {
		return err
	}
	enc, err := d.encoderLocked()
	if err != nil {
		return err
	}
	enc.CopyBufferToBuffer(s.buf, t.buf, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	return nil
}

// ReadBuffer implements Device. It copies through a mappable staging buffer
// and waits for the device.
func (d *HALDevice) ReadBuffer(b Buffer, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	hb, err := d.buffer(b)
	if err != nil {
		return err
	}
	size := alignCopy(uint64(len(dst)))
	if err := checkRange(b, offset, size); err != nil {
		return err
	}
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: hb.label + "_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	enc, err := d.encoderLocked()
	if err != nil {
		return err
	}
	enc.CopyBufferToBuffer(hb.buf, staging, []hal.BufferCopy{{SrcOffset: offset, Size: size}})
	if err := d.finishLocked(); err != nil {
		return err
	}
	return d.mapCopyLocked(staging, size, dst)
}

func (d *HALDevice) mapCopyLocked(buf hal.Buffer, size uint64, dst []byte) error {
	mapping, err := d.device.MapBuffer(buf, 0, size)
	if err != nil {
		return fmt.Errorf("gpu: map staging buffer: %w", err)
	}
	copy(dst, unsafe.Slice((*byte)(mapping.Ptr), size)) //nolint:gosec // mapping covers size bytes
	if err := d.device.UnmapBuffer(buf); err != nil {
		return fmt.Errorf("gpu: unmap staging buffer: %w", err)
	}
	return nil
}

func (d *HALDevice) bindLayout(label string, vis gputypes.ShaderStages, kinds []BindingKind) (hal.BindGroupLayout, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(kinds))
	for i, k := range kinds {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // binding count is small
			Visibility: vis,
			Buffer:     &gputypes.BufferBindingLayout{Type: k.halType()},
		}
	}
	return d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{Label: label, Entries: entries})
}

func (d *HALDevice) bindGroup(label string, layout hal.BindGroupLayout, bufs []*halBuffer) (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, len(bufs))
	for i, b := range bufs {
		entries[i] = gputypes.BindGroupEntry{
			Binding:  uint32(i), //nolint:gosec // binding count is small
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: b.size},
		}
	}
	return d.device.CreateBindGroup(&hal.BindGroupDescriptor{Label: label, Layout: layout, Entries: entries})
}

// NewKernel implements Device.
func (d *HALDevice) NewKernel(spec KernelSpec) (Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDeviceLost
	}
	k := &halKernel{dev: d, label: spec.Label, bindings: spec.Bindings}

	var err error
	k.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  spec.Label,
		Source: hal.ShaderSource{WGSL: spec.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: compile %s: %w", spec.Label, err)
	}
	k.bindLayout, err = d.bindLayout(spec.Label+"_bind_layout", gputypes.ShaderStageCompute, spec.Bindings)
	if err != nil {
		d.destroyKernelLocked(k)
		return nil, fmt.Errorf("gpu: %s bind group layout: %w", spec.Label, err)
	}
	k.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            spec.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		d.destroyKernelLocked(k)
		return nil, fmt.Errorf("gpu: %s pipeline layout: %w", spec.Label, err)
	}
	k.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   spec.Label + "_pipeline",
		Layout:  k.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: spec.Entry},
	})
	if err != nil {
		d.destroyKernelLocked(k)
		return nil, fmt.Errorf("gpu: %s compute pipeline: %w", spec.Label, err)
	}
	return k, nil
}

// DestroyKernel implements Device.
func (d *HALDevice) DestroyKernel(k Kernel) {
	hk, ok := k.(*halKernel)
	if !ok || hk.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.destroyed {
		d.destroyKernelLocked(hk)
	}
}

func (d *HALDevice) destroyKernelLocked(k *halKernel) {
	if k.pipeline != nil {
		d.device.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.pipeLayout != nil {
		d.device.DestroyPipelineLayout(k.pipeLayout)
		k.pipeLayout = nil
	}
	if k.bindLayout != nil {
		d.device.DestroyBindGroupLayout(k.bindLayout)
		k.bindLayout = nil
	}
	if k.module != nil {
		d.device.DestroyShaderModule(k.module)
		k.module = nil
	}
}

// Dispatch implements Device.
func (d *HALDevice) Dispatch(k Kernel, groups [3]uint32, bufs ...Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	hk, ok := k.(*halKernel)
	if !ok || hk.dev != d || hk.pipeline == nil {
		return ErrForeignResource
	}
	if len(bufs) != len(hk.bindings) {
		return fmt.Errorf("gpu: dispatch %s: %d buffers for %d bindings", hk.label, len(bufs), len(hk.bindings))
	}
	hbs := make([]*halBuffer, len(bufs))
	for i, b := range bufs {
		hb, err := d.buffer(b)
		if err != nil {
			return err
		}
		hbs[i] = hb
	}
	bg, err := d.bindGroup(hk.label+"_bind", hk.bindLayout, hbs)
	if err != nil {
		return fmt.Errorf("gpu: %s bind group: %w", hk.label, err)
	}
	d.transient = append(d.transient, func() { d.device.DestroyBindGroup(bg) })

	enc, err := d.encoderLocked()
	if err != nil {
		return err
	}
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: hk.label})
	pass.SetPipeline(hk.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(groups[0], groups[1], groups[2])
	pass.End()
	return nil
}

// Finish implements Device.
func (d *HALDevice) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finishLocked()
}

// Destroy implements Device. Pending work is completed first.
func (d *HALDevice) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	if err := d.finishLocked(); err != nil {
		slogger().Warn("gpu: finish before destroy failed", "device", d.name, "err", err)
	}
	d.offscreen.destroy(d.device)
	d.destroyed = true
	if !d.external {
		d.device.Destroy()
	}
}

// Render implements Device.
func (d *HALDevice) Render(p *Pass) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDeviceLost
	}
	switch t := p.Target.(type) {
	case hal.TextureView:
		return d.renderLocked(p, t, gputypes.TextureFormatUndefined)
	case draw.Image:
		return d.renderReadbackLocked(p, t)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedTarget, p.Target)
	}
}
