package nn

import (
	"math"
	"math/rand"
)

// Softmax converts logits to probabilities in place, scaled by 1/temperature.
func Softmax(logits []float64, temperature float64) {
	if temperature <= 0 {
		temperature = 1
	}
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	sum := 0.0
	for i, l := range logits {
		logits[i] = math.Exp((l - maxLogit) / temperature)
		sum += logits[i]
	}
	for i := range logits {
		logits[i] /= sum
	}
}

// SoftmaxCrossEntropy returns -log p(target) and overwrites logits with its
// gradient, softmax(logits) - onehot(target).
func SoftmaxCrossEntropy(logits []float64, target int) float64 {
	Softmax(logits, 1)
	p := logits[target]
	if p < 1e-12 {
		p = 1e-12
	}
	logits[target] -= 1
	return -math.Log(p)
}

func Argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// Sample draws an index from softmax(logits/temperature). A non-positive
// temperature picks the most likely index. logits is clobbered.
func Sample(logits []float64, temperature float64, rng *rand.Rand) int {
	if temperature <= 0 {
		return Argmax(logits)
	}
	Softmax(logits, temperature)
	u := rng.Float64()
	cum := 0.0
	for i, p := range logits {
		cum += p
		if u < cum {
			return i
		}
	}
	return len(logits) - 1
}
