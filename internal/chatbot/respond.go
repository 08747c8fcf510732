package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"dynamic-chatbot/internal/data"
)

// Turn is one exchange of a conversation.
type Turn struct {
	User      string
	Assistant string
}

// Request is a prompt with its sampling settings and prior turns.
type Request struct {
	Prompt      string
	Temperature float64
	History     []Turn
}

// Chunk is a piece of a streamed reply. A chunk carrying Err ends the stream.
type Chunk struct {
	Text string
	Err  error
}

// Responder streams replies to prompts. The channel is closed when the reply
// is complete or ctx is cancelled.
type Responder interface {
	Respond(ctx context.Context, req Request) <-chan Chunk
}

// Respond decodes a reply to req.Prompt, streaming one word per chunk. The
// seq2seq model only sees the prompt; req.History is ignored.
func (b *DynamicBot) Respond(ctx context.Context, req Request) <-chan Chunk {
	responseChan := make(chan Chunk)
	ids := b.dataset.Encode(req.Prompt)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	go func() {
		defer close(responseChan)
		vocab := b.dataset.Vocab()
		prev := ""
		b.model.generate(ids, b.maxReplyLen(), req.Temperature, rng, func(id int) bool {
			if id == data.PadID || id == data.GoID {
				return ctx.Err() == nil
			}
			tok := vocab.Word(id)
			word := tok
			if len(prev) > 0 && data.Detokenize([]string{prev, tok}) != prev+tok {
				word = " " + tok
			}
			prev = tok
			select {
			case responseChan <- Chunk{Text: word}:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return responseChan
}

func (b *DynamicBot) maxReplyLen() int {
	if n := b.dataset.MaxSeqLen(); n > 0 {
		return n
	}
	return 30
}

// Reply returns the full response to a sentence at the bot's temperature.
func (b *DynamicBot) Reply(ctx context.Context, sentence string) string {
	ids := b.dataset.Encode(sentence)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	out := b.model.generate(ids, b.maxReplyLen(), b.opts.Temperature, rng, func(int) bool {
		return ctx.Err() == nil
	})
	return b.dataset.Decode(out)
}

// Decode runs a line-oriented chat session: every line read from in is
// answered on out. It returns on EOF, "exit", "quit" or as soon as ctx is
// cancelled. Lines are read on a separate goroutine, which stays blocked on
// in until it yields a line or EOF.
func (b *DynamicBot) Decode(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	errChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		errChan <- scanner.Err()
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errChan
			}
			line = strings.TrimSpace(line)
			switch strings.ToLower(line) {
			case "":
				fmt.Fprint(out, "> ")
				continue
			case "exit", "quit":
				return nil
			}
			fmt.Fprintln(out, b.Reply(ctx, line))
			fmt.Fprint(out, "> ")
		}
	}
}
