package gpu

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// readbackRowAlign is the bytes-per-row alignment of texture copies.
const readbackRowAlign = 256

// offscreenTarget is the texture used when rendering into a draw.Image.
type offscreenTarget struct {
	width, height uint32
	tex           hal.Texture
	view          hal.TextureView
}

func (o *offscreenTarget) ensure(dev hal.Device, w, h uint32) error {
	if o.tex != nil && o.width == w && o.height == h {
		return nil
	}
	o.destroy(dev)
	tex, err := dev.CreateTexture(&hal.TextureDescriptor{
		Label:         "imgview_offscreen",
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("gpu: create offscreen texture: %w", err)
	}
	view, err := dev.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "imgview_offscreen_view"})
	if err != nil {
		dev.DestroyTexture(tex)
		return fmt.Errorf("gpu: create offscreen view: %w", err)
	}
	o.tex, o.view, o.width, o.height = tex, view, w, h
	return nil
}

func (o *offscreenTarget) destroy(dev hal.Device) {
	if o.view != nil {
		dev.DestroyTextureView(o.view)
		o.view = nil
	}
	if o.tex != nil {
		dev.DestroyTexture(o.tex)
		o.tex = nil
	}
	o.width, o.height = 0, 0
}

// NewRasterProgram implements Device. Pipelines are built per target format
// on first use; spec.Format is built eagerly.
func (d *HALDevice) NewRasterProgram(spec RasterSpec) (RasterProgram, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDeviceLost
	}
	p := &halProgram{dev: d, spec: spec, pipelines: make(map[gputypes.TextureFormat]hal.RenderPipeline)}

	var err error
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  spec.Label,
		Source: hal.ShaderSource{WGSL: spec.Source},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: compile %s: %w", spec.Label, err)
	}
	p.bindLayout, err = d.bindLayout(spec.Label+"_bind_layout", gputypes.ShaderStagesVertexFragment,
		[]BindingKind{BindUniform, BindStorageRead})
	if err != nil {
		d.destroyProgramLocked(p)
		return nil, fmt.Errorf("gpu: %s bind group layout: %w", spec.Label, err)
	}
	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            spec.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		d.destroyProgramLocked(p)
		return nil, fmt.Errorf("gpu: %s pipeline layout: %w", spec.Label, err)
	}
	if spec.Format != gputypes.TextureFormatUndefined {
		if _, err := d.pipelineLocked(p, spec.Format); err != nil {
			d.destroyProgramLocked(p)
			return nil, err
		}
	}
	return p, nil
}

func (d *HALDevice) pipelineLocked(p *halProgram, format gputypes.TextureFormat) (hal.RenderPipeline, error) {
	if format == gputypes.TextureFormatUndefined {
		format = p.spec.Format
	}
	if pipe, ok := p.pipelines[format]; ok {
		return pipe, nil
	}
	pipe, err := d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  p.spec.Label + "_pipeline",
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     p.module,
			EntryPoint: p.spec.VertexEntry,
			Buffers: []gputypes.VertexBufferLayout{{
				ArrayStride: 8,
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes: []gputypes.VertexAttribute{
					{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
				},
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
		Fragment: &hal.FragmentState{
			Module:     p.module,
			EntryPoint: p.spec.FragmentEntry,
			Targets: []gputypes.ColorTargetState{
				{Format: format, WriteMask: gputypes.ColorWriteMaskAll},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s render pipeline: %w", p.spec.Label, err)
	}
	p.pipelines[format] = pipe
	return pipe, nil
}

// DestroyRasterProgram implements Device.
func (d *HALDevice) DestroyRasterProgram(rp RasterProgram) {
	p, ok := rp.(*halProgram)
	if !ok || p.dev != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.destroyed {
		d.destroyProgramLocked(p)
	}
}

func (d *HALDevice) destroyProgramLocked(p *halProgram) {
	for f, pipe := range p.pipelines {
		d.device.DestroyRenderPipeline(pipe)
		delete(p.pipelines, f)
	}
	if p.pipeLayout != nil {
		d.device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		d.device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// renderLocked records a clear and an optional indexed draw into view.
// Pass viewports have a bottom-left origin; HAL viewports are top-left.
func (d *HALDevice) renderLocked(p *Pass, view hal.TextureView, format gputypes.TextureFormat) error {
	draws := p.Program != nil && p.IndexCount > 0
	var (
		pipe hal.RenderPipeline
		bg   hal.BindGroup
		vbuf *halBuffer
		ibuf *halBuffer
	)
	if draws {
		prog, ok := p.Program.(*halProgram)
		if !ok || prog.dev != d || prog.pipeLayout == nil {
			return ErrForeignResource
		}
		var err error
		if pipe, err = d.pipelineLocked(prog, format); err != nil {
			return err
		}
		if vbuf, err = d.buffer(p.Vertices); err != nil {
			return err
		}
		if ibuf, err = d.buffer(p.Indices); err != nil {
			return err
		}
		ub, err := d.buffer(p.Uniforms)
		if err != nil {
			return err
		}
		sb, err := d.buffer(p.Storage)
		if err != nil {
			return err
		}
		if bg, err = d.bindGroup(prog.spec.Label+"_bind", prog.bindLayout, []*halBuffer{ub, sb}); err != nil {
			return fmt.Errorf("gpu: %s bind group: %w", prog.spec.Label, err)
		}
		d.transient = append(d.transient, func() { d.device.DestroyBindGroup(bg) })
	}

	enc, err := d.encoderLocked()
	if err != nil {
		return err
	}
	pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "imgview_pass",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: p.Clear,
		}},
	})
	if draws {
		vp := p.Viewport
		top := p.Size.Y - vp.Max.Y
		pass.SetViewport(float32(vp.Min.X), float32(top), float32(vp.Dx()), float32(vp.Dy()), 0, 1)
		pass.SetPipeline(pipe)
		pass.SetBindGroup(0, bg, nil)
		pass.SetVertexBuffer(0, vbuf.buf, 0)
		pass.SetIndexBuffer(ibuf.buf, gputypes.IndexFormatUint16, 0)
		pass.DrawIndexed(p.IndexCount, 1, 0, 0, 0)
	}
	pass.End()
	return nil
}

// renderReadbackLocked renders offscreen and copies the pixels into dst.
func (d *HALDevice) renderReadbackLocked(p *Pass, dst draw.Image) error {
	bounds := dst.Bounds()
	if bounds.Empty() {
		return nil
	}
	w, h := uint32(bounds.Dx()), uint32(bounds.Dy()) //nolint:gosec // non-empty bounds
	if err := d.offscreen.ensure(d.device, w, h); err != nil {
		return err
	}
	sized := *p
	sized.Size = image.Pt(bounds.Dx(), bounds.Dy())
	if err := d.renderLocked(&sized, d.offscreen.view, gputypes.TextureFormatRGBA8Unorm); err != nil {
		return err
	}

	stride := (w*4 + readbackRowAlign - 1) &^ (readbackRowAlign - 1)
	size := uint64(stride) * uint64(h)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "imgview_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create readback buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	enc, err := d.encoderLocked()
	if err != nil {
		return err
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: d.offscreen.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	enc.CopyTextureToBuffer(d.offscreen.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: stride, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: d.offscreen.tex},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: d.offscreen.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})
	if err := d.finishLocked(); err != nil {
		return err
	}

	pix := make([]byte, size)
	if err := d.mapCopyLocked(staging, size, pix); err != nil {
		return err
	}
	storeRGBA(dst, pix, int(stride))
	return nil
}

// storeRGBA writes tightly sized RGBA8 rows with the given stride into dst.
// Texture rows and image rows both run top-down.
func storeRGBA(dst draw.Image, pix []byte, stride int) {
	b := dst.Bounds()
	rowBytes := b.Dx() * 4
	if rgba, ok := dst.(*image.RGBA); ok {
		for y := range b.Dy() {
			off := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			copy(rgba.Pix[off:off+rowBytes], pix[y*stride:y*stride+rowBytes])
		}
		return
	}
	for y := range b.Dy() {
		row := pix[y*stride:]
		for x := range b.Dx() {
			px := row[x*4 : x*4+4]
			dst.Set(b.Min.X+x, b.Min.Y+y, color.RGBA{R: px[0], G: px[1], B: px[2], A: px[3]})
		}
	}
}
