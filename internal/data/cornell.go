package data

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

// Cornell Movie-Dialogs corpus.
//
// Raw files: movie_lines.txt and movie_conversations.txt, both ISO-8859-1
// encoded with fields separated by " +++$+++ ".
const (
	cornellLines         = "movie_lines.txt"
	cornellConversations = "movie_conversations.txt"
	cornellSeparator     = " +++$+++ "
)

var cornellLineID = regexp.MustCompile(`L\d+`)

type Cornell struct {
	*corpus
}

func NewCornell(opts Options) (Dataset, error) {
	c, err := openCorpus("cornell", opts, prepareCornell)
	if err != nil {
		return nil, err
	}
	return &Cornell{corpus: c}, nil
}

func prepareCornell(dir string) error {
	linesPath := filepath.Join(dir, cornellLines)
	convPath := filepath.Join(dir, cornellConversations)
	if err := missingFiles(linesPath, convPath); err != nil {
		return err
	}
	lines, err := readLatin1Lines(linesPath)
	if err != nil {
		return err
	}
	// lineID -> text
	text := make(map[string]string, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, cornellSeparator)
		if len(fields) != 5 {
			continue
		}
		text[fields[0]] = fields[4]
	}
	conversations, err := readLatin1Lines(convPath)
	if err != nil {
		return err
	}
	var pairs [][2]string
	for _, conv := range conversations {
		fields := strings.Split(conv, cornellSeparator)
		if len(fields) != 4 {
			continue
		}
		ids := cornellLineID.FindAllString(fields[3], -1)
		for i := 0; i+1 < len(ids); i++ {
			from, ok1 := text[ids[i]]
			to, ok2 := text[ids[i+1]]
			if !ok1 || !ok2 || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
				continue
			}
			pairs = append(pairs, [2]string{from, to})
		}
	}
	return writeSplits(dir, pairs)
}

func readLatin1Lines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open cornell corpus")
	}
	defer f.Close()
	return scanLines(charmap.ISO8859_1.NewDecoder().Reader(f), path)
}
