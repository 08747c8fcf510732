// Package data provides the conversational corpora the chatbot trains on.
//
// Every dataset lives in <data_dir>/<name>/. On first use its raw corpus is
// converted into four line-aligned files (train_from.txt, train_to.txt,
// valid_from.txt, valid_to.txt) and a vocabulary file vocab<N>.txt; later
// runs read those directly.
package data

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownDataset is returned by Lookup and New for unregistered names.
var ErrUnknownDataset = errors.New("unknown dataset")

const (
	trainFrom = "train_from.txt"
	trainTo   = "train_to.txt"
	validFrom = "valid_from.txt"
	validTo   = "valid_to.txt"

	// every validHoldout-th pair goes to the validation split
	validHoldout = 10
)

// Pair is one (utterance, response) example as token ids.
type Pair struct {
	From []int
	To   []int
}

// Options configures a dataset constructor.
type Options struct {
	DataDir   string
	VocabSize int
	MaxSeqLen int
}

// Dataset is the API every corpus exposes to the bot.
type Dataset interface {
	Name() string
	Dir() string
	VocabSize() int
	MaxSeqLen() int
	Vocab() *Vocabulary
	// Train and Valid load the splits on first call.
	Train() ([]Pair, error)
	Valid() ([]Pair, error)
	Encode(sentence string) []int
	Decode(ids []int) string
}

// Constructor builds a dataset from options.
type Constructor func(opts Options) (Dataset, error)

var registry = map[string]Constructor{
	"ubuntu":  NewUbuntu,
	"cornell": NewCornell,
	"wmt":     NewWMT,
}

// Names lists the registered dataset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Constructor, error) {
	if ctor, ok := registry[name]; ok {
		return ctor, nil
	}
	return nil, errors.Wrapf(ErrUnknownDataset, "%q (expected one of %s)", name, strings.Join(Names(), ", "))
}

// New looks up name and constructs the dataset.
func New(name string, opts Options) (Dataset, error) {
	ctor, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return ctor(opts)
}

// preparer converts a raw corpus in dir into the prepared split files.
type preparer func(dir string) error

// corpus is the shared implementation behind the concrete datasets.
type corpus struct {
	name    string
	dir     string
	opts    Options
	vocab   *Vocabulary
	prepare preparer

	prepareOnce sync.Once
	prepareErr  error

	trainOnce sync.Once
	train     []Pair
	trainErr  error
	validOnce sync.Once
	valid     []Pair
	validErr  error
}

func openCorpus(name string, opts Options, prepare preparer) (*corpus, error) {
	if opts.VocabSize <= len(reservedTokens) {
		return nil, errors.Errorf("%s: vocab size must be greater than %d, got %d", name, len(reservedTokens), opts.VocabSize)
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	c := &corpus{
		name:    name,
		dir:     filepath.Join(opts.DataDir, name),
		opts:    opts,
		prepare: prepare,
	}
	vocabPath := filepath.Join(c.dir, fmt.Sprintf("vocab%d.txt", opts.VocabSize))
	if _, err := os.Stat(vocabPath); err == nil {
		if c.vocab, err = LoadVocabulary(vocabPath); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err := c.ensurePrepared(); err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, file := range []string{trainFrom, trainTo} {
		lines, err := readLines(filepath.Join(c.dir, file))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: build vocabulary", name)
		}
		for _, line := range lines {
			for _, tok := range Tokenize(line) {
				counts[tok]++
			}
		}
	}
	c.vocab = BuildVocabulary(counts, opts.VocabSize)
	if err := c.vocab.Save(vocabPath); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *corpus) ensurePrepared() error {
	c.prepareOnce.Do(func() {
		if prepared(c.dir) {
			return
		}
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			c.prepareErr = errors.Wrapf(err, "%s: create dataset directory", c.name)
			return
		}
		if err := c.prepare(c.dir); err != nil {
			c.prepareErr = errors.Wrapf(err, "%s: prepare corpus in %s", c.name, c.dir)
		}
	})
	return c.prepareErr
}

func prepared(dir string) bool {
	for _, file := range []string{trainFrom, trainTo, validFrom, validTo} {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			return false
		}
	}
	return true
}

func (c *corpus) Name() string       { return c.name }
func (c *corpus) Dir() string        { return c.dir }
func (c *corpus) VocabSize() int     { return c.vocab.Size() }
func (c *corpus) MaxSeqLen() int     { return c.opts.MaxSeqLen }
func (c *corpus) Vocab() *Vocabulary { return c.vocab }

func (c *corpus) Train() ([]Pair, error) {
	c.trainOnce.Do(func() {
		c.train, c.trainErr = c.loadSplit(trainFrom, trainTo)
	})
	return c.train, c.trainErr
}

func (c *corpus) Valid() ([]Pair, error) {
	c.validOnce.Do(func() {
		c.valid, c.validErr = c.loadSplit(validFrom, validTo)
	})
	return c.valid, c.validErr
}

// Encode maps a sentence to ids, truncated to MaxSeqLen when set.
func (c *corpus) Encode(sentence string) []int {
	return c.truncate(c.vocab.Encode(sentence))
}

func (c *corpus) Decode(ids []int) string {
	return c.vocab.Decode(ids)
}

func (c *corpus) truncate(ids []int) []int {
	if c.opts.MaxSeqLen > 0 && len(ids) > c.opts.MaxSeqLen {
		return ids[:c.opts.MaxSeqLen]
	}
	return ids
}

func (c *corpus) loadSplit(fromFile, toFile string) ([]Pair, error) {
	if err := c.ensurePrepared(); err != nil {
		return nil, err
	}
	from, err := readLines(filepath.Join(c.dir, fromFile))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: load split", c.name)
	}
	to, err := readLines(filepath.Join(c.dir, toFile))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: load split", c.name)
	}
	if len(from) != len(to) {
		return nil, errors.Errorf("%s: %s has %d lines but %s has %d", c.name, fromFile, len(from), toFile, len(to))
	}
	pairs := make([]Pair, 0, len(from))
	for i := range from {
		p := Pair{From: c.Encode(from[i]), To: c.Encode(to[i])}
		if len(p.From) == 0 || len(p.To) == 0 {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// writeSplits stores (from, to) sentence pairs, holding out every
// validHoldout-th pair for validation.
func writeSplits(dir string, pairs [][2]string) error {
	if len(pairs) == 0 {
		return errors.New("raw corpus produced no sentence pairs")
	}
	var tf, tt, vf, vt []string
	for i, p := range pairs {
		if (i+1)%validHoldout == 0 {
			vf = append(vf, p[0])
			vt = append(vt, p[1])
			continue
		}
		tf = append(tf, p[0])
		tt = append(tt, p[1])
	}
	return writeSplitFiles(dir, tf, tt, vf, vt)
}

func writeSplitFiles(dir string, tf, tt, vf, vt []string) error {
	files := []struct {
		name  string
		lines []string
	}{
		{trainFrom, tf},
		{trainTo, tt},
		{validFrom, vf},
		{validTo, vt},
	}
	for _, file := range files {
		if err := writeLines(filepath.Join(dir, file.name), file.lines); err != nil {
			return err
		}
	}
	return nil
}
