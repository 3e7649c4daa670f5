package adapter

import (
	"context"

	"github.com/askbetty/betty/internal/openai"
)

// ChatAdapter converts OpenAI compatible chat requests into provider specific responses.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StreamingChatAdapter additionally streams completions chunk by chunk.
//
// An error return means the stream never started. Once a channel is returned
// every failure arrives as a StreamEvent with Error set, after which the
// channel is closed. A closed channel without an error event is a normal end.
type StreamingChatAdapter interface {
	ChatAdapter
	CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamEvent, error)
}

// StreamEvent is one provider-neutral stream item: a chunk or an error.
type StreamEvent struct {
	Chunk *openai.ChatCompletionChunk
	Error error
}

// IsError reports whether the event carries a stream failure.
func (e StreamEvent) IsError() bool { return e.Error != nil }

// IsDone reports an empty event, used by adapters that signal completion in-band.
func (e StreamEvent) IsDone() bool { return e.Chunk == nil && e.Error == nil }

// Text returns the delta text carried by the chunk, if any.
func (e StreamEvent) Text() string {
	if e.Chunk == nil {
		return ""
	}
	return e.Chunk.GetDelta().Content
}
