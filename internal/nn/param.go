package nn

import (
	"math"
	"math/rand"
)

// Param is a trainable matrix with its accumulated gradient.
type Param struct {
	Name string
	W    *Matrix
	G    *Matrix
}

func NewParam(name string, rows, cols int) *Param {
	return &Param{Name: name, W: NewMatrix(rows, cols), G: NewMatrix(rows, cols)}
}

// NewUniformParam initialises weights from U(-scale, scale).
func NewUniformParam(name string, rows, cols int, scale float64, rng *rand.Rand) *Param {
	return &Param{Name: name, W: NewUniformMatrix(rows, cols, scale, rng), G: NewMatrix(rows, cols)}
}

// GradSet holds gradient buffers for a set of parameters. Each worker of a
// batch owns one so that backward passes never share memory.
type GradSet map[*Param]*Matrix

func NewGradSet(params []*Param) GradSet {
	gs := make(GradSet, len(params))
	for _, p := range params {
		gs[p] = NewMatrix(p.W.Rows, p.W.Cols)
	}
	return gs
}

// Of returns the gradient buffer for p.
func (gs GradSet) Of(p *Param) *Matrix {
	return gs[p]
}

func (gs GradSet) Zero() {
	for _, g := range gs {
		g.Zero()
	}
}

// Flush adds every buffer into its parameter's gradient. Not safe for
// concurrent use on overlapping parameters.
func (gs GradSet) Flush() {
	for p, g := range gs {
		p.G.Add(g)
	}
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.G.Zero()
	}
}

// ScaleGrad multiplies every gradient by s.
func ScaleGrad(params []*Param, s float64) {
	for _, p := range params {
		p.G.Scale(s)
	}
}

// ClipGlobalNorm rescales all gradients so their joint L2 norm is at most
// maxNorm and returns the norm before clipping. maxNorm <= 0 disables
// clipping.
func ClipGlobalNorm(params []*Param, maxNorm float64) float64 {
	sum := 0.0
	for _, p := range params {
		sum += p.G.SquaredNorm()
	}
	norm := math.Sqrt(sum)
	if maxNorm > 0 && norm > maxNorm {
		ScaleGrad(params, maxNorm/norm)
	}
	return norm
}

// SGD is plain stochastic gradient descent with global-norm clipping.
type SGD struct {
	LearningRate float64
	MaxGradient  float64
}

// Step clips, applies and clears the gradients of params. It returns the
// gradient norm before clipping.
func (opt *SGD) Step(params []*Param) float64 {
	norm := ClipGlobalNorm(params, opt.MaxGradient)
	for _, p := range params {
		for i, g := range p.G.Data {
			p.W.Data[i] -= opt.LearningRate * g
		}
		p.G.Zero()
	}
	return norm
}
