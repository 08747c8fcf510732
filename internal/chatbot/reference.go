package chatbot

import (
	"context"
	"log"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	LLM_STREAM_TIMEOUT = 300
)

// ReferenceResponder answers prompts through an OpenAI-compatible chat
// completion endpoint, so the web chat can show a reference answer next to
// the bot's.
type ReferenceResponder struct {
	config ReferenceConfig
	client openai.Client
}

func NewReferenceResponder(config ReferenceConfig) *ReferenceResponder {
	return &ReferenceResponder{
		config: config,
		client: openai.NewClient(
			option.WithBaseURL(config.BaseUrl),
			option.WithAPIKey(config.ApiKey),
		),
	}
}

func (r *ReferenceResponder) messages(req Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if len(r.config.SystemPrompt) > 0 {
		messages = append(messages, openai.SystemMessage(r.config.SystemPrompt))
	}
	for _, turn := range req.History {
		messages = append(messages, openai.UserMessage(turn.User), openai.AssistantMessage(turn.Assistant))
	}
	return append(messages, openai.UserMessage(req.Prompt))
}

func (r *ReferenceResponder) Respond(ctx context.Context, req Request) <-chan Chunk {
	responseChan := make(chan Chunk)
	params := openai.ChatCompletionNewParams{
		Model:     r.config.Model,
		Messages:  r.messages(req),
		MaxTokens: openai.Int(1024),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	go func() {
		defer close(responseChan)
		ctx, cancel := context.WithTimeout(ctx, LLM_STREAM_TIMEOUT*time.Second)
		defer cancel()
		stream := r.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case responseChan <- Chunk{Text: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			log.Printf("ERROR: reference stream response error: %s", err)
			select {
			case responseChan <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if acc.Usage.TotalTokens > 0 {
			log.Printf("INFO: finished reference streaming, total tokens: %d", acc.Usage.TotalTokens)
		}
	}()
	return responseChan
}
