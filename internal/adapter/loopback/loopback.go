package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/openai"
)

// Ensure LoopbackAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*LoopbackAdapter)(nil)

const prefix = "[loopback] "

// LoopbackAdapter echoes the last user message back to the caller.
type LoopbackAdapter struct {
	delay time.Duration
}

// Option configures a LoopbackAdapter.
type Option func(*LoopbackAdapter)

// WithDelay pauses between streamed words.
func WithDelay(d time.Duration) Option {
	return func(a *LoopbackAdapter) { a.delay = d }
}

// New creates a LoopbackAdapter instance.
func New(opts ...Option) *LoopbackAdapter {
	a := &LoopbackAdapter{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateCompletion fabricates a deterministic completion for exercising the pipeline offline.
func (a *LoopbackAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	text, err := reply(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	message := openai.ChatMessage{Role: openai.RoleAssistant, Content: text}
	usage := openai.UsageBreakdown{
		PromptTokens:     len(req.Messages) * 10,
		CompletionTokens: openai.EstimateTokens(text),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return openai.NewCompletionResponse("cmpl-loopback", req.Model, message, usage), nil
}

// CreateCompletionStream streams the echoed reply one word at a time.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	text, err := reply(req)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(text, " ")
	ch := make(chan adapter.StreamEvent)
	go func() {
		defer close(ch)
		for i, word := range words {
			if word == "" {
				continue
			}
			if a.delay > 0 && i > 0 {
				select {
				case <-time.After(a.delay):
				case <-ctx.Done():
					return
				}
			}
			role := ""
			if i == 0 {
				role = openai.RoleAssistant
			}
			chunk := openai.NewTextChunk("cmpl-loopback", req.Model, role, word)
			select {
			case ch <- adapter.StreamEvent{Chunk: &chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func reply(req openai.ChatCompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("loopback: no messages provided")
	}

	// find last user message; default to final message if none
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.ToLower(req.Messages[i].Role) == openai.RoleUser {
			message = req.Messages[i]
			break
		}
	}
	return prefix + strings.TrimSpace(message.Content), nil
}
