package nn

import (
	"math"
	"math/rand"
	"testing"
)

func weightedSum(out, c []float64) float64 {
	sum := 0.0
	for i := range out {
		sum += out[i] * c[i]
	}
	return sum
}

func TestGRUBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := NewGRU("cell", 3, 4, rng)
	for _, p := range []*Param{g.Bz, g.Br, g.Bh} {
		for i := range p.W.Data {
			p.W.Data[i] = rng.Float64() - 0.5
		}
	}
	x := []float64{0.3, -0.7, 0.5}
	h := []float64{0.1, -0.2, 0.4, -0.6}
	c := []float64{1.0, -0.5, 0.25, 2.0}

	gs := NewGradSet(g.Params())
	dx, dh := g.Backward(g.Step(x, h), c, gs)

	const eps = 1e-6
	loss := func() float64 { return weightedSum(g.Step(x, h).Out, c) }
	check := func(name string, analytic float64, v *float64) {
		t.Helper()
		orig := *v
		*v = orig + eps
		plus := loss()
		*v = orig - eps
		minus := loss()
		*v = orig
		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-analytic) > 1e-6*math.Max(1, math.Abs(numeric)) {
			t.Errorf("%s: analytic %.8f, numeric %.8f", name, analytic, numeric)
		}
	}
	for _, p := range g.Params() {
		for i := range p.W.Data {
			check(p.Name, gs.Of(p).Data[i], &p.W.Data[i])
		}
	}
	for i := range x {
		check("dx", dx[i], &x[i])
	}
	for i := range h {
		check("dh", dh[i], &h[i])
	}
}

func TestSoftmaxCrossEntropyGradient(t *testing.T) {
	logits := []float64{1, 2, 3}
	loss := SoftmaxCrossEntropy(logits, 2)
	want := -math.Log(math.Exp(3) / (math.Exp(1) + math.Exp(2) + math.Exp(3)))
	if math.Abs(loss-want) > 1e-12 {
		t.Fatalf("loss = %v, want %v", loss, want)
	}
	sum := 0.0
	for _, g := range logits {
		sum += g
	}
	if math.Abs(sum) > 1e-12 {
		t.Fatalf("gradient should sum to zero, got %v", sum)
	}
	if logits[2] >= 0 {
		t.Fatalf("gradient of target logit should be negative, got %v", logits[2])
	}
}

func TestSampleTemperature(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, temp := range []float64{0, -1, 0.01} {
		for i := 0; i < 50; i++ {
			if got := Sample([]float64{0.1, 3, 0.2}, temp, rng); got != 1 {
				t.Fatalf("temperature %v: sampled %d, want 1", temp, got)
			}
		}
	}
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		seen[Sample([]float64{1, 1, 1}, 1, rng)] = true
	}
	if len(seen) != 3 {
		t.Fatalf("uniform logits should reach every index, saw %v", seen)
	}
}

func TestClipGlobalNorm(t *testing.T) {
	a := NewParam("a", 1, 2)
	b := NewParam("b", 1, 1)
	a.G.Data[0], a.G.Data[1], b.G.Data[0] = 3, 0, 4
	params := []*Param{a, b}

	if norm := ClipGlobalNorm(params, 10); norm != 5 {
		t.Fatalf("norm = %v, want 5", norm)
	}
	if a.G.Data[0] != 3 {
		t.Fatalf("gradient under the limit should be untouched, got %v", a.G.Data[0])
	}
	ClipGlobalNorm(params, 1)
	if got := math.Sqrt(a.G.SquaredNorm() + b.G.SquaredNorm()); math.Abs(got-1) > 1e-12 {
		t.Fatalf("clipped norm = %v, want 1", got)
	}
}

func TestSGDStep(t *testing.T) {
	p := NewParam("w", 1, 2)
	p.W.Data[0], p.W.Data[1] = 1, 1
	p.G.Data[0], p.G.Data[1] = 0.5, -0.5
	opt := &SGD{LearningRate: 0.1, MaxGradient: 5}
	opt.Step([]*Param{p})
	if math.Abs(p.W.Data[0]-0.95) > 1e-12 || math.Abs(p.W.Data[1]-1.05) > 1e-12 {
		t.Fatalf("weights after step = %v", p.W.Data)
	}
	if p.G.Data[0] != 0 || p.G.Data[1] != 0 {
		t.Fatalf("gradients not cleared: %v", p.G.Data)
	}
}

func TestMatrixProducts(t *testing.T) {
	m := NewMatrix(2, 3)
	copy(m.Data, []float64{1, 2, 3, 4, 5, 6})
	out := make([]float64, 3)
	m.MulVecAdd(out, []float64{1, -1})
	for i, want := range []float64{-3, -3, -3} {
		if out[i] != want {
			t.Fatalf("MulVecAdd = %v", out)
		}
	}
	back := make([]float64, 2)
	m.MulTVecAdd(back, []float64{1, 0, 1})
	if back[0] != 4 || back[1] != 10 {
		t.Fatalf("MulTVecAdd = %v", back)
	}
}
