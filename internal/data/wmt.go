package data

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// WMT'15 English-French parallel corpus. English sentences are the inputs,
// French sentences the responses.
const (
	wmtTrainEN = "giga-fren.release2.fixed.en"
	wmtTrainFR = "giga-fren.release2.fixed.fr"
	wmtValidEN = "newstest2013.en"
	wmtValidFR = "newstest2013.fr"
)

type WMT struct {
	*corpus
}

func NewWMT(opts Options) (Dataset, error) {
	c, err := openCorpus("wmt", opts, prepareWMT)
	if err != nil {
		return nil, err
	}
	return &WMT{corpus: c}, nil
}

func prepareWMT(dir string) error {
	paths := make(map[string]string)
	for _, name := range []string{wmtTrainEN, wmtTrainFR, wmtValidEN, wmtValidFR} {
		paths[name] = filepath.Join(dir, name)
	}
	if err := missingFiles(paths[wmtTrainEN], paths[wmtTrainFR], paths[wmtValidEN], paths[wmtValidFR]); err != nil {
		return err
	}
	split := make(map[string][]string, len(paths))
	for name, path := range paths {
		lines, err := readLines(path)
		if err != nil {
			return err
		}
		split[name] = lines
	}
	if len(split[wmtTrainEN]) != len(split[wmtTrainFR]) {
		return errors.Errorf("%s and %s are not aligned", wmtTrainEN, wmtTrainFR)
	}
	if len(split[wmtValidEN]) != len(split[wmtValidFR]) {
		return errors.Errorf("%s and %s are not aligned", wmtValidEN, wmtValidFR)
	}
	return writeSplitFiles(dir, split[wmtTrainEN], split[wmtTrainFR], split[wmtValidEN], split[wmtValidFR])
}
