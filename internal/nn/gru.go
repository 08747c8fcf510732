package nn

import (
	"math"
	"math/rand"
)

// GRU is a gated recurrent unit cell:
//
//	z  = σ(x·Wz + h·Uz + bz)
//	r  = σ(x·Wr + h·Ur + br)
//	h~ = tanh(x·Wh + (r⊙h)·Uh + bh)
//	h' = (1-z)⊙h + z⊙h~
type GRU struct {
	Wz, Wr, Wh *Param
	Uz, Ur, Uh *Param
	Bz, Br, Bh *Param

	input  int
	hidden int
}

// NewGRU creates a cell with parameter names prefixed by name.
func NewGRU(name string, input, hidden int, rng *rand.Rand) *GRU {
	ws := 1 / math.Sqrt(float64(input))
	us := 1 / math.Sqrt(float64(hidden))
	return &GRU{
		Wz:     NewUniformParam(name+"/Wz", input, hidden, ws, rng),
		Wr:     NewUniformParam(name+"/Wr", input, hidden, ws, rng),
		Wh:     NewUniformParam(name+"/Wh", input, hidden, ws, rng),
		Uz:     NewUniformParam(name+"/Uz", hidden, hidden, us, rng),
		Ur:     NewUniformParam(name+"/Ur", hidden, hidden, us, rng),
		Uh:     NewUniformParam(name+"/Uh", hidden, hidden, us, rng),
		Bz:     NewParam(name+"/bz", 1, hidden),
		Br:     NewParam(name+"/br", 1, hidden),
		Bh:     NewParam(name+"/bh", 1, hidden),
		input:  input,
		hidden: hidden,
	}
}

func (g *GRU) Params() []*Param {
	return []*Param{g.Wz, g.Wr, g.Wh, g.Uz, g.Ur, g.Uh, g.Bz, g.Br, g.Bh}
}

func (g *GRU) Hidden() int { return g.hidden }

// GRUStep caches the activations of one time step for the backward pass.
type GRUStep struct {
	X   []float64 // input
	H   []float64 // previous state
	Z   []float64
	R   []float64
	RH  []float64 // r⊙h
	HC  []float64 // candidate state
	Out []float64 // new state
}

// Step advances the cell by one input vector.
func (g *GRU) Step(x, h []float64) *GRUStep {
	n := g.hidden
	s := &GRUStep{
		X:   x,
		H:   h,
		Z:   make([]float64, n),
		R:   make([]float64, n),
		RH:  make([]float64, n),
		HC:  make([]float64, n),
		Out: make([]float64, n),
	}
	copy(s.Z, g.Bz.W.Data)
	g.Wz.W.MulVecAdd(s.Z, x)
	g.Uz.W.MulVecAdd(s.Z, h)
	copy(s.R, g.Br.W.Data)
	g.Wr.W.MulVecAdd(s.R, x)
	g.Ur.W.MulVecAdd(s.R, h)
	for i := 0; i < n; i++ {
		s.Z[i] = sigmoid(s.Z[i])
		s.R[i] = sigmoid(s.R[i])
		s.RH[i] = s.R[i] * h[i]
	}
	copy(s.HC, g.Bh.W.Data)
	g.Wh.W.MulVecAdd(s.HC, x)
	g.Uh.W.MulVecAdd(s.HC, s.RH)
	for i := 0; i < n; i++ {
		s.HC[i] = math.Tanh(s.HC[i])
		s.Out[i] = (1-s.Z[i])*h[i] + s.Z[i]*s.HC[i]
	}
	return s
}

// Backward takes the gradient of the loss with respect to s.Out, adds the
// parameter gradients to gs and returns the gradients with respect to the
// step's input and previous state.
func (g *GRU) Backward(s *GRUStep, dOut []float64, gs GradSet) (dx, dh []float64) {
	n := g.hidden
	dx = make([]float64, g.input)
	dh = make([]float64, n)
	dz := make([]float64, n)
	dah := make([]float64, n)
	for i := 0; i < n; i++ {
		dz[i] = dOut[i] * (s.HC[i] - s.H[i])
		dh[i] = dOut[i] * (1 - s.Z[i])
		dah[i] = dOut[i] * s.Z[i] * (1 - s.HC[i]*s.HC[i])
	}

	// candidate
	gs.Of(g.Wh).AddOuter(s.X, dah)
	gs.Of(g.Uh).AddOuter(s.RH, dah)
	addVec(gs.Of(g.Bh).Data, dah)
	g.Wh.W.MulTVecAdd(dx, dah)
	drh := make([]float64, n)
	g.Uh.W.MulTVecAdd(drh, dah)

	daz := make([]float64, n)
	dar := make([]float64, n)
	for i := 0; i < n; i++ {
		dh[i] += drh[i] * s.R[i]
		dr := drh[i] * s.H[i]
		dar[i] = dr * s.R[i] * (1 - s.R[i])
		daz[i] = dz[i] * s.Z[i] * (1 - s.Z[i])
	}

	// update gate
	gs.Of(g.Wz).AddOuter(s.X, daz)
	gs.Of(g.Uz).AddOuter(s.H, daz)
	addVec(gs.Of(g.Bz).Data, daz)
	g.Wz.W.MulTVecAdd(dx, daz)
	g.Uz.W.MulTVecAdd(dh, daz)

	// reset gate
	gs.Of(g.Wr).AddOuter(s.X, dar)
	gs.Of(g.Ur).AddOuter(s.H, dar)
	addVec(gs.Of(g.Br).Data, dar)
	g.Wr.W.MulTVecAdd(dx, dar)
	g.Ur.W.MulTVecAdd(dh, dar)
	return dx, dh
}
