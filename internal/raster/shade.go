package raster

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/imgview/transform"
)

// Byte layout of the Uniforms struct in image.wgsl.
const (
	uniformPMV        = 0
	uniformFragToTex  = 64
	uniformImageSize  = 112
	uniformViewHeight = 120
	uniformFiltering  = 124
	uniformSize       = 128
)

// imageUniforms encodes the uniforms of one image draw.
func imageUniforms(res transform.Result, imageW, imageH, viewH int, filter bool) []byte {
	b := make([]byte, 0, uniformSize)
	b = res.PMV.AppendStd140(b)
	b = res.FragToTex.AppendStd140(b)
	le := binary.LittleEndian
	b = le.AppendUint32(b, uint32(imageW)) //nolint:gosec // positive image size
	b = le.AppendUint32(b, uint32(imageH)) //nolint:gosec // positive image size
	b = le.AppendUint32(b, math.Float32bits(float32(viewH)))
	var f uint32
	if filter {
		f = 1
	}
	return le.AppendUint32(b, f)
}

func f32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

// imageVertex mirrors vs_main.
func imageVertex(pos [2]float32, u []byte) [4]float32 {
	var out [4]float32
	in := [4]float32{pos[0], pos[1], 0, 1}
	for r := range 4 {
		for c := range 4 {
			out[r] += f32(u, uniformPMV+(c*4+r)*4) * in[c]
		}
	}
	return out
}

// imageFragment mirrors fs_main. x and y are window coordinates with the
// origin at the bottom left.
func imageFragment(x, y float32, u, pixels []byte) (r, g, b, a float32, keep bool) {
	var t [3]float32
	in := [3]float32{x, y, 1}
	for row := range 3 {
		for c := range 3 {
			t[row] += f32(u, uniformFragToTex+(c*4+row)*4) * in[c]
		}
	}
	tx, ty := t[0]/t[2], t[1]/t[2]
	if tx < 0 || tx >= 1 || ty < 0 || ty >= 1 {
		return 0, 0, 0, 0, false
	}

	le := binary.LittleEndian
	w := int(le.Uint32(u[uniformImageSize:]))
	h := int(le.Uint32(u[uniformImageSize+4:]))
	texel := func(x, y int) float32 {
		cx := min(max(x, 0), w-1)
		row := h - 1 - min(max(y, 0), h-1)
		i := row*w + cx
		return float32(le.Uint16(pixels[i*2:])) / 65535
	}

	var v float32
	if le.Uint32(u[uniformFiltering:]) == 0 {
		v = texel(int(floor32(tx*float32(w))), int(floor32(ty*float32(h))))
	} else {
		px, py := tx*float32(w)-0.5, ty*float32(h)-0.5
		x0, y0 := floor32(px), floor32(py)
		fx, fy := px-x0, py-y0
		ix, iy := int(x0), int(y0)
		lo := mix(texel(ix, iy), texel(ix+1, iy), fx)
		hi := mix(texel(ix, iy+1), texel(ix+1, iy+1), fx)
		v = mix(lo, hi, fy)
	}
	return v, v, v, 1, true
}

func floor32(v float32) float32 { return float32(math.Floor(float64(v))) }

func mix(a, b, t float32) float32 { return a*(1-t) + b*t }
