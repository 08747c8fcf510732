package chatbot

import (
	"math"
	"math/rand"

	"dynamic-chatbot/internal/data"
	"dynamic-chatbot/internal/nn"
)

// seq2seq is the network behind DynamicBot: a shared embedding, a GRU
// encoder whose final state seeds a GRU decoder, and a softmax projection
// over the vocabulary.
type seq2seq struct {
	embed   *nn.Param // vocab x embed
	encoder *nn.GRU
	decoder *nn.GRU
	proj    *nn.Param // state x vocab
	bias    *nn.Param // 1 x vocab

	vocabSize int
	stateSize int
}

func newSeq2Seq(vocabSize, embedSize, stateSize int, rng *rand.Rand) *seq2seq {
	return &seq2seq{
		embed:     nn.NewUniformParam("embedding", vocabSize, embedSize, math.Sqrt(3), rng),
		encoder:   nn.NewGRU("encoder", embedSize, stateSize, rng),
		decoder:   nn.NewGRU("decoder", embedSize, stateSize, rng),
		proj:      nn.NewUniformParam("output/W", stateSize, vocabSize, 1/math.Sqrt(float64(stateSize)), rng),
		bias:      nn.NewParam("output/b", 1, vocabSize),
		vocabSize: vocabSize,
		stateSize: stateSize,
	}
}

func (m *seq2seq) params() []*nn.Param {
	params := []*nn.Param{m.embed}
	params = append(params, m.encoder.Params()...)
	params = append(params, m.decoder.Params()...)
	return append(params, m.proj, m.bias)
}

// encode runs the encoder over ids and returns every step.
func (m *seq2seq) encode(ids []int) (state []float64, steps []*nn.GRUStep) {
	state = make([]float64, m.stateSize)
	for _, id := range ids {
		s := m.encoder.Step(m.embed.W.Row(id), state)
		steps = append(steps, s)
		state = s.Out
	}
	return state, steps
}

func (m *seq2seq) logits(state []float64) []float64 {
	out := make([]float64, m.vocabSize)
	copy(out, m.bias.W.Data)
	m.proj.W.MulVecAdd(out, state)
	return out
}

// decoderIO returns the decoder inputs and targets for a response:
// _GO y1..yn and y1..yn _EOS.
func decoderIO(to []int) (inputs, targets []int) {
	inputs = append([]int{data.GoID}, to...)
	targets = append(append([]int{}, to...), data.EOSID)
	return
}

// loss returns the summed cross-entropy of p and the number of predicted
// tokens, without touching any gradient.
func (m *seq2seq) loss(p data.Pair) (float64, int) {
	state, _ := m.encode(p.From)
	inputs, targets := decoderIO(p.To)
	total := 0.0
	for t, id := range inputs {
		state = m.decoder.Step(m.embed.W.Row(id), state).Out
		total += nn.SoftmaxCrossEntropy(m.logits(state), targets[t])
	}
	return total, len(targets)
}

// lossAndGrad is loss plus back-propagation through time; parameter
// gradients of the summed loss are added to gs.
func (m *seq2seq) lossAndGrad(p data.Pair, gs nn.GradSet) (float64, int) {
	state, encSteps := m.encode(p.From)
	inputs, targets := decoderIO(p.To)

	decSteps := make([]*nn.GRUStep, len(inputs))
	dStates := make([][]float64, len(inputs))
	gProj, gBias := gs.Of(m.proj), gs.Of(m.bias)
	total := 0.0
	for t, id := range inputs {
		s := m.decoder.Step(m.embed.W.Row(id), state)
		decSteps[t] = s
		state = s.Out
		dLogits := m.logits(state)
		total += nn.SoftmaxCrossEntropy(dLogits, targets[t])
		gProj.AddOuter(state, dLogits)
		for i, g := range dLogits {
			gBias.Data[i] += g
		}
		dStates[t] = make([]float64, m.stateSize)
		m.proj.W.MulTVecAdd(dStates[t], dLogits)
	}

	gEmbed := gs.Of(m.embed)
	dh := make([]float64, m.stateSize)
	for t := len(inputs) - 1; t >= 0; t-- {
		for i := range dh {
			dh[i] += dStates[t][i]
		}
		dx, dPrev := m.decoder.Backward(decSteps[t], dh, gs)
		addRow(gEmbed, inputs[t], dx)
		dh = dPrev
	}
	for t := len(encSteps) - 1; t >= 0; t-- {
		dx, dPrev := m.encoder.Backward(encSteps[t], dh, gs)
		addRow(gEmbed, p.From[t], dx)
		dh = dPrev
	}
	return total, len(targets)
}

func addRow(m *nn.Matrix, row int, v []float64) {
	r := m.Row(row)
	for i, x := range v {
		r[i] += x
	}
}

// generate decodes a response to ids, calling emit for each produced token
// until _EOS, maxLen tokens, or emit returns false.
func (m *seq2seq) generate(ids []int, maxLen int, temperature float64, rng *rand.Rand, emit func(id int) bool) []int {
	state, _ := m.encode(ids)
	var out []int
	prev := data.GoID
	for len(out) < maxLen {
		state = m.decoder.Step(m.embed.W.Row(prev), state).Out
		next := nn.Sample(m.logits(state), temperature, rng)
		if next == data.EOSID {
			break
		}
		out = append(out, next)
		if emit != nil && !emit(next) {
			break
		}
		prev = next
	}
	return out
}
