// Package compute computes the intensity histogram of the displayed image.
//
// The image is split over an 8x8 grid of 16x16-thread workgroups. Each
// workgroup bins its pixels into a private block of the blocks buffer, and a
// second kernel sums the 64 blocks into block 0. The result is copied into a
// buffer shared with the raster pipeline and read back into a CPU snapshot.
//
// Every step is enqueued on a gpu.Queue with explicit dependencies:
//
//	upload constants ─────────────────────┐
//	prepare zero block ── clear blocks ───┼── computeBlocks ── reduceBlocks ─┬─ copy result ─┬─ release
//	acquire image+result (raster idle) ───┘                                  └─ read cache ──┘
package compute

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/shaders"
	"github.com/gogpu/imgview/internal/status"
)

// Bin count limits.
const (
	MinBinCount     = 1
	MaxBinCount     = 65536
	DefaultBinCount = 2048
)

// ErrNoImage is returned by Run when no image is set.
var ErrNoImage = errors.New("compute: no image")

// Pipeline owns the image resource and the histogram resources of one
// device. It is used from a single goroutine.
type Pipeline struct {
	dev   gpu.Device
	queue *gpu.Queue

	blocksKern gpu.Handle[gpu.Kernel]
	reduceKern gpu.Handle[gpu.Kernel]

	flush    []gpu.Flusher
	binCount int

	// Image resources, sized by the image.
	width, height int
	imageBuf      gpu.Handle[gpu.Buffer]
	image         *gpu.Shared
	imageGen      uint64

	// Histogram resources, sized by the image and the bin count.
	blocks     gpu.Handle[gpu.Buffer]
	zero       gpu.Handle[gpu.Buffer]
	params     gpu.Handle[gpu.Buffer]
	resultBuf  gpu.Handle[gpu.Buffer]
	result     *gpu.Shared
	blocksGen  uint64
	uploaded   []byte // constants last written to params
	zeroFilled bool

	passes uint64
}

// New builds the histogram kernels on dev. A kernel that fails to build is
// reported as ComputeBuildFailure.
func New(dev gpu.Device, queue *gpu.Queue, src shaders.Set) (*Pipeline, error) {
	p := &Pipeline{dev: dev, queue: queue, binCount: DefaultBinCount}
	for _, k := range []struct {
		spec gpu.KernelSpec
		h    *gpu.Handle[gpu.Kernel]
	}{
		{blocksKernel(src), &p.blocksKern},
		{reduceKernel(src), &p.reduceKern},
	} {
		kern, err := dev.NewKernel(k.spec)
		if err != nil {
			p.Close()
			return nil, status.Wrap(status.KindComputeBuild, "compute.New", err)
		}
		k.h.Reset(kern, dev.DestroyKernel)
	}
	return p, nil
}

// SetFlushers sets the raster contexts drained before shared objects are
// acquired.
func (p *Pipeline) SetFlushers(f ...gpu.Flusher) { p.flush = f }

// BinCount returns the histogram bin count.
func (p *Pipeline) BinCount() int { return p.binCount }

// SetBinCount changes the bin count, tearing down the histogram resources
// but keeping the image. It reports whether the count changed.
func (p *Pipeline) SetBinCount(n int) (bool, error) {
	if n < MinBinCount || n > MaxBinCount {
		return false, status.Newf(status.KindInvalidArgument, "compute.SetBinCount",
			"bin count %d outside [%d, %d]", n, MinBinCount, MaxBinCount)
	}
	if n == p.binCount {
		return false, nil
	}
	p.binCount = n
	p.releaseHistogram()
	return true, nil
}

// SetImage uploads pixels. A size different from the current image tears
// down and rebuilds the image and histogram resources first. Empty pixels
// clear the image.
func (p *Pipeline) SetImage(pixels []uint16, w, h int) error {
	if len(pixels) == 0 {
		p.ClearImage()
		return nil
	}
	if w <= 0 || h <= 0 || len(pixels) != w*h {
		return status.Newf(status.KindInvalidArgument, "compute.SetImage",
			"%d pixels for a %dx%d image", len(pixels), w, h)
	}

	packed := PackPixels(pixels)
	if !p.imageBuf.Valid() || w != p.width || h != p.height {
		p.ClearImage()
		buf, err := p.dev.NewBuffer("image", uint64(len(packed)), gpu.UsageStorage|gpu.UsageCopyDst)
		if err != nil {
			return status.Wrap(status.KindResourceCreation, "compute.SetImage", err)
		}
		p.imageBuf.Reset(buf, p.dev.DestroyBuffer)
		p.image = gpu.NewShared(buf)
		p.width, p.height = w, h
		p.imageGen++
		slogger().Debug("compute: image resources created", "width", w, "height", h, "generation", p.imageGen)
	}
	if err := p.dev.WriteBuffer(p.imageBuf.Value(), 0, packed); err != nil {
		p.ClearImage()
		return status.Wrap(status.KindComputeRuntime, "compute.SetImage", err)
	}
	return nil
}

// ClearImage releases the image and histogram resources.
func (p *Pipeline) ClearImage() {
	p.releaseHistogram()
	p.imageBuf.Release()
	p.image = nil
	p.width, p.height = 0, 0
}

// HasImage reports whether an image is set.
func (p *Pipeline) HasImage() bool { return p.imageBuf.Valid() }

// Size returns the image size.
func (p *Pipeline) Size() (w, h int) { return p.width, p.height }

// Image returns the shared image resource, or nil.
func (p *Pipeline) Image() *gpu.Shared { return p.image }

// Result returns the shared histogram result resource, or nil before the
// first Run.
func (p *Pipeline) Result() *gpu.Shared { return p.result }

// ImageGeneration counts image resource creations.
func (p *Pipeline) ImageGeneration() uint64 { return p.imageGen }

// BlocksGeneration counts histogram resource creations.
func (p *Pipeline) BlocksGeneration() uint64 { return p.blocksGen }

// Passes counts completed histogram passes.
func (p *Pipeline) Passes() uint64 { return p.passes }

func (p *Pipeline) releaseHistogram() {
	if p.result != nil && p.result.Acquired() {
		_ = p.result.Release()
	}
	p.blocks.Release()
	p.zero.Release()
	p.params.Release()
	p.resultBuf.Release()
	p.result = nil
	p.uploaded = nil
	p.zeroFilled = false
}

func (p *Pipeline) ensureHistogram() error {
	if p.blocks.Valid() {
		return nil
	}
	blockBytes := uint64(paddedBlockSize(p.binCount)) * 4 //nolint:gosec // bounded bin count
	for _, b := range []struct {
		label string
		size  uint64
		usage gpu.Usage
		h     *gpu.Handle[gpu.Buffer]
	}{
		{"histogram_blocks", blockBytes * BlockCount, gpu.UsageStorage | gpu.UsageCopySrc | gpu.UsageCopyDst, &p.blocks},
		{"histogram_zero", blockBytes, gpu.UsageCopySrc | gpu.UsageCopyDst, &p.zero},
		{"histogram_params", paramsSize, gpu.UsageUniform | gpu.UsageCopyDst, &p.params},
		{"histogram_result", uint64(p.binCount) * 4, gpu.UsageStorage | gpu.UsageCopySrc | gpu.UsageCopyDst, &p.resultBuf}, //nolint:gosec // bounded bin count
	} {
		buf, err := p.dev.NewBuffer(b.label, b.size, b.usage)
		if err != nil {
			p.releaseHistogram()
			return status.Wrap(status.KindResourceCreation, "compute.ensureHistogram", err)
		}
		b.h.Reset(buf, p.dev.DestroyBuffer)
	}
	p.result = gpu.NewShared(p.resultBuf.Value())
	p.blocksGen++
	slogger().Debug("compute: histogram resources created", "bins", p.binCount, "generation", p.blocksGen)
	return nil
}

// Run computes the histogram of the current image and returns a fresh
// snapshot of binCount counts.
func (p *Pipeline) Run() (hist []uint32, err error) {
	const op = "compute.Run"
	if !p.HasImage() {
		return nil, status.Wrap(status.KindInvalidArgument, op, ErrNoImage)
	}
	if err := p.ensureHistogram(); err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		for _, s := range []*gpu.Shared{p.image, p.result} {
			if s != nil && s.Acquired() {
				_ = s.Release()
			}
		}
		err = status.Wrap(status.KindComputeRuntime, op, err)
	}()

	dev, q := p.dev, p.queue
	blocks, zero, params := p.blocks.Value(), p.zero.Value(), p.params.Value()
	blockBytes := uint64(paddedBlockSize(p.binCount)) * 4 //nolint:gosec // bounded bin count
	histBytes := uint64(p.binCount) * 4                   //nolint:gosec // bounded bin count
	raw := make([]byte, histBytes)

	q.Begin()

	var constants gpu.Token
	if c := newParams(p.width, p.height, p.binCount).bytes(); !bytes.Equal(c, p.uploaded) {
		if constants, err = q.Enqueue("upload constants", func() error {
			if err := dev.WriteBuffer(params, 0, c); err != nil {
				return err
			}
			p.uploaded = c
			return nil
		}); err != nil {
			return nil, err
		}
	}

	var zeroed gpu.Token
	if !p.zeroFilled {
		if zeroed, err = q.Enqueue("prepare zero block", func() error {
			if err := dev.WriteBuffer(zero, 0, make([]byte, blockBytes)); err != nil {
				return err
			}
			p.zeroFilled = true
			return nil
		}); err != nil {
			return nil, err
		}
	}

	cleared, err := q.Enqueue("clear blocks", func() error {
		for b := range uint64(BlockCount) {
			if err := dev.CopyBuffer(zero, blocks, 0, b*blockBytes, blockBytes); err != nil {
				return err
			}
		}
		return nil
	}, zeroed)
	if err != nil {
		return nil, err
	}

	acquired, err := q.Enqueue("acquire shared", func() error {
		return gpu.Acquire(p.flush, p.image, p.result)
	})
	if err != nil {
		return nil, err
	}

	binned, err := q.Enqueue("computeBlocks", func() error {
		return dev.Dispatch(p.blocksKern.Value(), [3]uint32{GroupsPerAxis, GroupsPerAxis, 1}, params, p.image.Buffer(), blocks)
	}, constants, cleared, acquired)
	if err != nil {
		return nil, err
	}

	reduceGroups := uint32((paddedBlockSize(p.binCount)/VectorWidth + reduceWorkgroupSize - 1) / reduceWorkgroupSize) //nolint:gosec // bounded bin count
	reduced, err := q.Enqueue("reduceBlocks", func() error {
		return dev.Dispatch(p.reduceKern.Value(), [3]uint32{reduceGroups, 1, 1}, params, p.image.Buffer(), blocks)
	}, binned)
	if err != nil {
		return nil, err
	}

	copied, err := q.Enqueue("copy result", func() error {
		return dev.CopyBuffer(blocks, p.result.Buffer(), 0, 0, histBytes)
	}, reduced)
	if err != nil {
		return nil, err
	}

	read, err := q.Enqueue("read cache", func() error {
		return dev.ReadBuffer(blocks, 0, raw)
	}, reduced)
	if err != nil {
		return nil, err
	}

	released, err := q.Enqueue("release shared", func() error {
		return gpu.Release(p.image, p.result)
	}, copied, read)
	if err != nil {
		return nil, err
	}

	if err := q.Wait(released); err != nil {
		return nil, err
	}

	hist = make([]uint32, p.binCount)
	for i := range hist {
		hist[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	p.passes++
	return hist, nil
}

// Close releases every resource and the kernels.
func (p *Pipeline) Close() {
	p.ClearImage()
	p.blocksKern.Release()
	p.reduceKern.Release()
}
