package chatbot

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"

	"dynamic-chatbot/internal/data"
	"dynamic-chatbot/internal/nn"
)

const (
	// validation perplexity is measured on at most this many pairs
	validSample = 512
	// decay the learning rate when the loss exceeds the max of this many
	// previous checkpoints
	lossWindow = 3
	// every worker holds dense gradients for all parameters, including the
	// vocabulary-sized embedding and projection
	maxWorkers = 8
)

// Options are the DynamicBot hyperparameters.
type Options struct {
	CkptDir      string  `yaml:"ckpt_dir"`
	BatchSize    int     `yaml:"batch_size"`
	StateSize    int     `yaml:"state_size"`
	EmbedSize    int     `yaml:"embed_size"`
	LearningRate float64 `yaml:"learning_rate"`
	LRDecay      float64 `yaml:"lr_decay"`
	StepsPerCkpt int     `yaml:"steps_per_ckpt"`
	Temperature  float64 `yaml:"temperature"`
	IsChatting   bool    `yaml:"is_chatting"`
	// Seed fixes weight initialisation and shuffling; 0 uses the clock.
	Seed int64 `yaml:"seed,omitempty"`
}

// DynamicBot is a GRU sequence-to-sequence chatbot.
type DynamicBot struct {
	dataset   data.Dataset
	opts      Options
	model     *seq2seq
	optimizer *nn.SGD
	rng       *rand.Rand

	step        int
	lossHistory []float64
	compiled    bool
	restored    bool
	workers     int
	// per-worker gradient buffers, reused across steps
	gradSets []nn.GradSet
}

func NewDynamicBot(dataset data.Dataset, opts Options) *DynamicBot {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	workers := cpuid.CPU.PhysicalCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, maxWorkers)
	return &DynamicBot{
		dataset:   dataset,
		opts:      opts,
		model:     newSeq2Seq(dataset.VocabSize(), opts.EmbedSize, opts.StateSize, rng),
		optimizer: &nn.SGD{LearningRate: opts.LearningRate},
		rng:       rng,
		workers:   workers,
	}
}

// Step returns the number of training steps taken so far.
func (b *DynamicBot) Step() int { return b.step }

// LearningRate returns the current, possibly decayed, learning rate.
func (b *DynamicBot) LearningRate() float64 { return b.optimizer.LearningRate }

// Compile sets gradient clipping and prepares the checkpoint directory: with
// reset the directory is wiped, otherwise the latest checkpoint is restored.
func (b *DynamicBot) Compile(maxGradient float64, reset bool) (err error) {
	b.optimizer.MaxGradient = maxGradient
	if reset {
		if err = checkResettable(b.opts.CkptDir, b.dataset.Dir()); err != nil {
			return err
		}
		log.Printf("INFO: resetting model, removing %s", b.opts.CkptDir)
		if err = os.RemoveAll(b.opts.CkptDir); err != nil {
			return fmt.Errorf("failed to reset checkpoint directory: %w", err)
		}
	} else {
		var state *checkpointState
		if state, err = loadLatestCheckpoint(b.opts.CkptDir); err != nil {
			return fmt.Errorf("failed to load checkpoint from %s: %w", b.opts.CkptDir, err)
		}
		if state != nil {
			if err = restoreParams(b.model.params(), state.Params); err != nil {
				return fmt.Errorf("failed to restore checkpoint: %w", err)
			}
			b.step = state.Step
			b.lossHistory = state.LossHistory
			if state.LearningRate > 0 {
				b.optimizer.LearningRate = state.LearningRate
			}
			b.restored = true
			log.Printf("INFO: restored checkpoint at step %d from %s", b.step, b.opts.CkptDir)
		}
	}
	if b.opts.IsChatting && !b.restored {
		log.Printf("WARNING: no checkpoint found in %s, chatting with an untrained model", b.opts.CkptDir)
	}
	if !b.opts.IsChatting {
		if err = writeHparams(b.opts.CkptDir, b.opts); err != nil {
			return err
		}
	}
	b.compiled = true
	return nil
}

// Save writes a checkpoint of the current state.
func (b *DynamicBot) Save() (string, error) {
	return saveCheckpoint(b.opts.CkptDir, &checkpointState{
		Step:         b.step,
		LearningRate: b.optimizer.LearningRate,
		LossHistory:  b.lossHistory,
		Params:       snapshotParams(b.model.params()),
	})
}

// Train runs nbEpoch epochs over the dataset's training split. Cancelling ctx
// stops training after the current step and saves a checkpoint.
func (b *DynamicBot) Train(ctx context.Context, dataset data.Dataset, nbEpoch int) error {
	if !b.compiled {
		return fmt.Errorf("DynamicBot must be compiled before training")
	}
	train, err := dataset.Train()
	if err != nil {
		return fmt.Errorf("failed to load training data: %w", err)
	}
	if len(train) == 0 {
		return fmt.Errorf("dataset %s has no training pairs", dataset.Name())
	}
	valid, err := dataset.Valid()
	if err != nil {
		return fmt.Errorf("failed to load validation data: %w", err)
	}
	if len(valid) > validSample {
		valid = valid[:validSample]
	}
	log.Printf("INFO: training on %d pairs (%d validation) with %d workers", len(train), len(valid), b.workers)

	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}
	var ckptLoss float64
	var ckptTokens int
	start := time.Now()
	for epoch := 0; epoch < nbEpoch; epoch++ {
		b.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for lo := 0; lo < len(order); lo += b.opts.BatchSize {
			if ctx.Err() != nil {
				log.Printf("INFO: training interrupted at step %d", b.step)
				return b.saveAndLog()
			}
			hi := min(lo+b.opts.BatchSize, len(order))
			batch := make([]data.Pair, 0, hi-lo)
			for _, i := range order[lo:hi] {
				batch = append(batch, train[i])
			}
			loss, tokens, err := b.trainStep(ctx, batch)
			if err != nil {
				if ctx.Err() != nil {
					log.Printf("INFO: training interrupted at step %d", b.step)
					return b.saveAndLog()
				}
				return err
			}
			ckptLoss += loss
			ckptTokens += tokens
			b.step++
			if b.step%b.opts.StepsPerCkpt == 0 {
				avg := ckptLoss / float64(ckptTokens)
				validLoss := b.evaluate(valid)
				log.Printf("INFO: step %d, epoch %d, learning rate %.4f, step-time %.2fs, perplexity %.2f, validation perplexity %.2f",
					b.step, epoch+1, b.optimizer.LearningRate,
					time.Since(start).Seconds()/float64(b.opts.StepsPerCkpt), perplexity(avg), perplexity(validLoss))
				b.decayLearningRate(avg)
				if err := b.saveAndLog(); err != nil {
					return err
				}
				ckptLoss, ckptTokens = 0, 0
				start = time.Now()
			}
		}
		log.Printf("INFO: finished epoch %d/%d at step %d", epoch+1, nbEpoch, b.step)
	}
	return b.saveAndLog()
}

func (b *DynamicBot) saveAndLog() error {
	path, err := b.Save()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	log.Printf("INFO: saved checkpoint %s", path)
	return nil
}

// decayLearningRate multiplies the learning rate by LRDecay when loss is
// worse than every one of the previous lossWindow checkpoints.
func (b *DynamicBot) decayLearningRate(loss float64) {
	if n := len(b.lossHistory); n >= lossWindow {
		worst := math.Inf(-1)
		for _, l := range b.lossHistory[n-lossWindow:] {
			worst = math.Max(worst, l)
		}
		if loss > worst {
			b.optimizer.LearningRate *= b.opts.LRDecay
			log.Printf("INFO: loss stalled, decaying learning rate to %.4f", b.optimizer.LearningRate)
		}
	}
	b.lossHistory = append(b.lossHistory, loss)
}

// trainStep computes per-example gradients in parallel, averages them over
// the predicted tokens and applies one SGD update.
func (b *DynamicBot) trainStep(ctx context.Context, batch []data.Pair) (float64, int, error) {
	params := b.model.params()
	var mu sync.Mutex
	var loss float64
	var tokens int

	g, ctx := errgroup.WithContext(ctx)
	workers := min(b.workers, len(batch))
	for len(b.gradSets) < workers {
		b.gradSets = append(b.gradSets, nn.NewGradSet(params))
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			gs := b.gradSets[w]
			gs.Zero()
			var l float64
			var n int
			for i := w; i < len(batch); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				li, ni := b.model.lossAndGrad(batch[i], gs)
				l += li
				n += ni
			}
			mu.Lock()
			defer mu.Unlock()
			gs.Flush()
			loss += l
			tokens += n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		nn.ZeroGrad(params)
		return 0, 0, err
	}
	nn.ScaleGrad(params, 1/float64(tokens))
	b.optimizer.Step(params)
	return loss, tokens, nil
}

// evaluate returns the mean per-token loss over pairs.
func (b *DynamicBot) evaluate(pairs []data.Pair) float64 {
	var loss float64
	var tokens int
	for _, p := range pairs {
		l, n := b.model.loss(p)
		loss += l
		tokens += n
	}
	if tokens == 0 {
		return math.NaN()
	}
	return loss / float64(tokens)
}

func perplexity(loss float64) float64 {
	if loss > 300 {
		return math.Inf(1)
	}
	return math.Exp(loss)
}
