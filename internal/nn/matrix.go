// Package nn holds the small set of numeric primitives the chatbot model is
// built from: dense matrices, trainable parameters, a GRU cell with its
// backward pass, softmax cross-entropy, sampling and SGD.
//
// Everything works on single sequences of float64 vectors. Batching is done
// by the caller, which runs one sequence per goroutine and sums gradients.
package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Matrix is a dense row-major matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix returns a zeroed rows x cols matrix. Panics on non-positive
// dimensions, which are programmer errors.
func NewMatrix(rows, cols int) *Matrix {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("nn: invalid matrix shape %dx%d", rows, cols))
	}
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewUniformMatrix fills a matrix with values drawn from U(-scale, scale).
func NewUniformMatrix(rows, cols int, scale float64, rng *rand.Rand) *Matrix {
	m := NewMatrix(rows, cols)
	for i := range m.Data {
		m.Data[i] = (rng.Float64()*2 - 1) * scale
	}
	return m
}

// Row returns row i as a slice sharing the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

func (m *Matrix) Zero() {
	for i := range m.Data {
		m.Data[i] = 0
	}
}

// Add accumulates other into m.
func (m *Matrix) Add(other *Matrix) {
	for i, v := range other.Data {
		m.Data[i] += v
	}
}

func (m *Matrix) Scale(s float64) {
	for i := range m.Data {
		m.Data[i] *= s
	}
}

// MulVecAdd computes out += v·M, where len(v) == Rows and len(out) == Cols.
func (m *Matrix) MulVecAdd(out, v []float64) {
	for i, vi := range v {
		if vi == 0 {
			continue
		}
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		for j, w := range row {
			out[j] += vi * w
		}
	}
}

// MulTVecAdd computes out += M·g, where len(g) == Cols and len(out) == Rows.
// It back-propagates a gradient through MulVecAdd.
func (m *Matrix) MulTVecAdd(out, g []float64) {
	for i := range out {
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		sum := 0.0
		for j, w := range row {
			sum += w * g[j]
		}
		out[i] += sum
	}
}

// AddOuter computes M += aᵀ·b, the weight gradient of MulVecAdd.
func (m *Matrix) AddOuter(a, b []float64) {
	for i, ai := range a {
		if ai == 0 {
			continue
		}
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		for j, bj := range b {
			row[j] += ai * bj
		}
	}
}

// SquaredNorm returns the sum of squared elements.
func (m *Matrix) SquaredNorm() float64 {
	sum := 0.0
	for _, v := range m.Data {
		sum += v * v
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func addVec(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}
