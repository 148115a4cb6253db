package transform

import (
	"encoding/binary"
	"math"
)

// Mat4 is a 4x4 matrix stored in column-major order: element (row r,
// column c) lives at index c*4+r. This is the layout uniform buffers expect.
type Mat4 [16]float64

// Mat3 is a 3x3 matrix stored in column-major order: element (row r,
// column c) lives at index c*3+r.
type Mat3 [9]float64

// Identity4 returns the 4x4 identity matrix.
func Identity4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Scale4 returns a scaling matrix.
func Scale4(x, y, z float64) Mat4 {
	return Mat4{
		x, 0, 0, 0,
		0, y, 0, 0,
		0, 0, z, 0,
		0, 0, 0, 1,
	}
}

// Translate4 returns a translation matrix.
func Translate4(x, y, z float64) Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		x, y, z, 1,
	}
}

// At returns the element at row r, column c.
func (m Mat4) At(r, c int) float64 { return m[c*4+r] }

// Mul returns m * o.
func (m Mat4) Mul(o Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += m[k*4+r] * o[c*4+k]
			}
			out[c*4+r] = s
		}
	}
	return out
}

// Apply transforms the homogeneous point (x, y, z, w).
func (m Mat4) Apply(x, y, z, w float64) (float64, float64, float64, float64) {
	return m[0]*x + m[4]*y + m[8]*z + m[12]*w,
		m[1]*x + m[5]*y + m[9]*z + m[13]*w,
		m[2]*x + m[6]*y + m[10]*z + m[14]*w,
		m[3]*x + m[7]*y + m[11]*z + m[15]*w
}

// Float32 converts m to single precision, keeping column-major order.
func (m Mat4) Float32() [16]float32 {
	var out [16]float32
	for i, v := range m {
		out[i] = float32(v)
	}
	return out
}

// AppendStd140 appends m in std140 layout (four vec4 columns, 64 bytes).
func (m Mat4) AppendStd140(b []byte) []byte {
	for _, v := range m.Float32() {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// Diag3 returns the diagonal matrix diag(x, y, z).
func Diag3(x, y, z float64) Mat3 {
	return Mat3{
		x, 0, 0,
		0, y, 0,
		0, 0, z,
	}
}

// Translate3 returns the 2D homogeneous translation by (x, y).
func Translate3(x, y float64) Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		x, y, 1,
	}
}

// At returns the element at row r, column c.
func (m Mat3) At(r, c int) float64 { return m[c*3+r] }

// Mul returns m * o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += m[k*3+r] * o[c*3+k]
			}
			out[c*3+r] = s
		}
	}
	return out
}

// Apply maps the 2D point (x, y) through m and performs the projective
// division by the resulting third component.
func (m Mat3) Apply(x, y float64) (float64, float64) {
	u := m[0]*x + m[3]*y + m[6]
	v := m[1]*x + m[4]*y + m[7]
	w := m[2]*x + m[5]*y + m[8]
	return u / w, v / w
}

// Float32 converts m to single precision, keeping column-major order.
func (m Mat3) Float32() [9]float32 {
	var out [9]float32
	for i, v := range m {
		out[i] = float32(v)
	}
	return out
}

// AppendStd140 appends m in std140 layout: each column is padded to a vec4,
// 48 bytes in total.
func (m Mat3) AppendStd140(b []byte) []byte {
	f := m.Float32()
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f[c*3+r]))
		}
		b = binary.LittleEndian.AppendUint32(b, 0)
	}
	return b
}
