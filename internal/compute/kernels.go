package compute

import (
	"encoding/binary"

	"github.com/gogpu/imgview/internal/gpu"
	"github.com/gogpu/imgview/internal/shaders"
)

// Dispatch geometry of computeBlocks.
const (
	WorkgroupSize  = 16
	ThreadsPerAxis = 128
	GroupsPerAxis  = ThreadsPerAxis / WorkgroupSize
	BlockCount     = GroupsPerAxis * GroupsPerAxis

	// VectorWidth is the number of bins one reduceBlocks invocation sums;
	// blocks are padded to a multiple of it.
	VectorWidth = 16

	reduceWorkgroupSize = 64
	paramsSize          = 32
)

// params mirrors the Params struct of histogram.wgsl.
type params struct {
	imageW, imageH   uint32
	regionW, regionH uint32
	binCount         uint32
	paddedBlockSize  uint32
}

//nolint:gosec // sizes and bin counts are validated by the caller
func newParams(w, h, binCount int) params {
	return params{
		imageW:          uint32(w),
		imageH:          uint32(h),
		regionW:         uint32((w + ThreadsPerAxis - 1) / ThreadsPerAxis),
		regionH:         uint32((h + ThreadsPerAxis - 1) / ThreadsPerAxis),
		binCount:        uint32(binCount),
		paddedBlockSize: uint32(paddedBlockSize(binCount)),
	}
}

// paddedBlockSize returns the per-block stride in bins.
func paddedBlockSize(binCount int) int {
	return (binCount + VectorWidth - 1) / VectorWidth * VectorWidth
}

func (p params) bytes() []byte {
	b := make([]byte, paramsSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], p.imageW)
	le.PutUint32(b[4:], p.imageH)
	le.PutUint32(b[8:], p.regionW)
	le.PutUint32(b[12:], p.regionH)
	le.PutUint32(b[16:], p.binCount)
	le.PutUint32(b[20:], p.paddedBlockSize)
	return b
}

func decodeParams(b []byte) params {
	le := binary.LittleEndian
	return params{
		imageW:          le.Uint32(b[0:]),
		imageH:          le.Uint32(b[4:]),
		regionW:         le.Uint32(b[8:]),
		regionH:         le.Uint32(b[12:]),
		binCount:        le.Uint32(b[16:]),
		paddedBlockSize: le.Uint32(b[20:]),
	}
}

// PackPixels returns pixels as little-endian 16-bit samples padded to a
// multiple of four bytes, the layout both programs read.
func PackPixels(pixels []uint16) []byte {
	out := make([]byte, (len(pixels)*2+3)&^3)
	for i, p := range pixels {
		binary.LittleEndian.PutUint16(out[i*2:], p)
	}
	return out
}

// Bin returns the bin of sample for binCount bins.
func Bin(sample uint16, binCount int) int {
	return int(uint32(sample) * uint32(binCount) >> 16) //nolint:gosec // binCount <= MaxBinCount
}

var histogramBindings = []gpu.BindingKind{gpu.BindUniform, gpu.BindStorageRead, gpu.BindStorage}

func blocksKernel(src shaders.Set) gpu.KernelSpec {
	return gpu.KernelSpec{
		Label:    "histogram_blocks",
		Source:   src.Histogram,
		Entry:    shaders.ComputeBlocksEntry,
		Bindings: histogramBindings,
		CPU:      computeBlocksCPU,
	}
}

func reduceKernel(src shaders.Set) gpu.KernelSpec {
	return gpu.KernelSpec{
		Label:    "histogram_reduce",
		Source:   src.Histogram,
		Entry:    shaders.ReduceBlocksEntry,
		Bindings: histogramBindings,
		CPU:      reduceBlocksCPU,
	}
}

// computeBlocksCPU accumulates one workgroup's regions into its block.
func computeBlocksCPU(group, numGroups [3]uint32, bufs [][]byte) {
	p := decodeParams(bufs[0])
	pixels, blocks := bufs[1], bufs[2]
	le := binary.LittleEndian
	base := (group[1]*numGroups[0] + group[0]) * p.paddedBlockSize

	for ty := range uint32(WorkgroupSize) {
		for tx := range uint32(WorkgroupSize) {
			x0 := (group[0]*WorkgroupSize + tx) * p.regionW
			y0 := (group[1]*WorkgroupSize + ty) * p.regionH
			x1 := min(x0+p.regionW, p.imageW)
			y1 := min(y0+p.regionH, p.imageH)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					s := uint32(le.Uint16(pixels[(y*p.imageW+x)*2:]))
					off := (base + s*p.binCount>>16) * 4
					le.PutUint32(blocks[off:], le.Uint32(blocks[off:])+1)
				}
			}
		}
	}
}

// reduceBlocksCPU sums every block into block 0 for the bins owned by the
// invocations of one workgroup.
func reduceBlocksCPU(group, _ [3]uint32, bufs [][]byte) {
	p := decodeParams(bufs[0])
	blocks := bufs[2]
	le := binary.LittleEndian

	for inv := range uint32(reduceWorkgroupSize) {
		first := (group[0]*reduceWorkgroupSize + inv) * VectorWidth
		if first >= p.paddedBlockSize {
			return
		}
		for bin := first; bin < first+VectorWidth; bin++ {
			sum := le.Uint32(blocks[bin*4:])
			for b := uint32(1); b < BlockCount; b++ {
				sum += le.Uint32(blocks[(b*p.paddedBlockSize+bin)*4:])
			}
			le.PutUint32(blocks[bin*4:], sum)
		}
	}
}
