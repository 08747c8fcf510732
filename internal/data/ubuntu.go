package data

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Ubuntu Dialogue corpus.
//
// Raw files: dialogs/**/*.tsv, one utterance per line formatted as
// date<TAB>sender<TAB>recipient<TAB>text.
const ubuntuDialogs = "dialogs"

type Ubuntu struct {
	*corpus
}

func NewUbuntu(opts Options) (Dataset, error) {
	c, err := openCorpus("ubuntu", opts, prepareUbuntu)
	if err != nil {
		return nil, err
	}
	return &Ubuntu{corpus: c}, nil
}

func prepareUbuntu(dir string) error {
	root := filepath.Join(dir, ubuntuDialogs)
	if err := missingFiles(root); err != nil {
		return err
	}
	var pairs [][2]string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tsv") {
			return nil
		}
		lines, err := readLines(path)
		if err != nil {
			return err
		}
		pairs = append(pairs, ubuntuPairs(lines)...)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "walk ubuntu dialogs")
	}
	return writeSplits(dir, pairs)
}

// ubuntuPairs merges consecutive lines of one sender into a turn and pairs
// each turn with the next one.
func ubuntuPairs(lines []string) [][2]string {
	type turn struct {
		sender string
		text   []string
	}
	var turns []turn
	for _, line := range lines {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) != 4 || strings.TrimSpace(fields[3]) == "" {
			continue
		}
		sender, text := fields[1], strings.TrimSpace(fields[3])
		if n := len(turns); n > 0 && turns[n-1].sender == sender {
			turns[n-1].text = append(turns[n-1].text, text)
			continue
		}
		turns = append(turns, turn{sender: sender, text: []string{text}})
	}
	var pairs [][2]string
	for i := 0; i+1 < len(turns); i++ {
		pairs = append(pairs, [2]string{
			strings.Join(turns[i].text, " "),
			strings.Join(turns[i+1].text, " "),
		})
	}
	return pairs
}
