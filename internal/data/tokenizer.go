package data

import (
	"strings"
	"unicode"
)

const punctuation = `.,!?"':;)(`

// Tokenize lowercases a sentence, splits it on whitespace, separates
// punctuation into its own tokens and normalizes every digit to 0.
func Tokenize(sentence string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(sentence) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case strings.ContainsRune(punctuation, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsDigit(r):
			word.WriteRune('0')
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// Detokenize joins tokens back into a readable sentence.
func Detokenize(tokens []string) string {
	var b strings.Builder
	glue := true
	for _, tok := range tokens {
		switch tok {
		case ".", ",", "!", "?", ":", ";", ")":
			b.WriteString(tok)
			glue = false
			continue
		case "'":
			b.WriteString(tok)
			glue = true
			continue
		}
		if !glue {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
		glue = tok == "("
	}
	return b.String()
}
