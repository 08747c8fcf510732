package data

import (
	"bufio"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Reserved token ids, shared by every dataset.
const (
	PadID = iota
	GoID
	EOSID
	UnkID
)

var reservedTokens = []string{"_PAD", "_GO", "_EOS", "_UNK"}

// Vocabulary maps tokens to ids and back.
type Vocabulary struct {
	words []string
	index map[string]int
}

func newVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{words: words, index: make(map[string]int, len(words))}
	for i, w := range words {
		v.index[w] = i
	}
	return v
}

// BuildVocabulary keeps the size-4 most frequent tokens of the counted
// sentences after the reserved tokens. Ties are broken alphabetically so the
// result is stable between runs.
func BuildVocabulary(counts map[string]int, size int) *Vocabulary {
	words := make([]string, 0, len(counts))
	for w := range counts {
		if strings.TrimSpace(w) == "" {
			continue
		}
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	limit := size - len(reservedTokens)
	if limit < 0 {
		limit = 0
	}
	if len(words) > limit {
		words = words[:limit]
	}
	return newVocabulary(append(append([]string{}, reservedTokens...), words...))
}

// LoadVocabulary reads one token per line.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open vocabulary")
	}
	defer f.Close()
	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		words = append(words, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read vocabulary %s", path)
	}
	if len(words) < len(reservedTokens) {
		return nil, errors.Errorf("vocabulary %s has %d tokens, expected at least %d", path, len(words), len(reservedTokens))
	}
	for i, tok := range reservedTokens {
		if words[i] != tok {
			return nil, errors.Errorf("vocabulary %s: token %d is %q, expected %q", path, i, words[i], tok)
		}
	}
	return newVocabulary(words), nil
}

func (v *Vocabulary) Save(path string) error {
	if err := writeLines(path, v.words); err != nil {
		return errors.Wrap(err, "save vocabulary")
	}
	return nil
}

func (v *Vocabulary) Size() int { return len(v.words) }

// ID returns the id of tok, or UnkID.
func (v *Vocabulary) ID(tok string) int {
	if id, ok := v.index[tok]; ok {
		return id
	}
	return UnkID
}

// Word returns the token for id, or "_UNK" for ids out of range.
func (v *Vocabulary) Word(id int) string {
	if id < 0 || id >= len(v.words) {
		return reservedTokens[UnkID]
	}
	return v.words[id]
}

// Encode tokenizes a sentence and maps it to ids.
func (v *Vocabulary) Encode(sentence string) []int {
	tokens := Tokenize(sentence)
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = v.ID(tok)
	}
	return ids
}

// Decode turns ids back into a sentence, stopping at the first _EOS and
// dropping padding and _GO markers.
func (v *Vocabulary) Decode(ids []int) string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == EOSID {
			break
		}
		if id == PadID || id == GoID {
			continue
		}
		tokens = append(tokens, v.Word(id))
	}
	return Detokenize(tokens)
}
