package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/askbetty/betty/internal/client"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/stream"
)

// session is one interactive conversation. The transcript holds completed
// turns only: a failed or canceled reply takes its empty assistant turn out
// again.
type session struct {
	api            *client.Client
	model          string
	conversationID string
	idleTimeout    time.Duration
	suggest        bool

	out    io.Writer
	theme  theme
	render func(markdown string) (string, error) // nil streams raw text

	history []openai.ChatMessage
}

// errCanceled is returned by send when the reply was interrupted.
var errCanceled = errors.New("reply canceled")

// send posts text and streams the reply to s.out.
func (s *session) send(ctx context.Context, text string) error {
	prior := append([]openai.ChatMessage(nil), s.history...)
	s.history = append(s.history,
		openai.ChatMessage{Role: openai.RoleUser, Content: text},
		openai.ChatMessage{Role: openai.RoleAssistant},
	)
	reply := &s.history[len(s.history)-1]

	fmt.Fprint(s.out, s.theme.assistant.Render("Betty:")+" ")
	printed := 0
	onChunk := func(accumulated string) {
		reply.Content = accumulated
		if s.render != nil || len(accumulated) <= printed {
			return
		}
		fmt.Fprint(s.out, accumulated[printed:])
		printed = len(accumulated)
	}

	opts := []stream.Option{stream.WithOnChunk(onChunk)}
	if s.idleTimeout > 0 {
		opts = append(opts, stream.WithIdleTimeout(s.idleTimeout))
	}
	res := s.api.Chat(ctx, client.ChatRequest{
		ConversationID: s.conversationID,
		Messages:       prior,
		Message:        text,
		Model:          s.model,
	}, opts...)

	switch {
	case res.Canceled:
		s.dropReply()
		fmt.Fprintln(s.out)
		return errCanceled
	case res.Failed():
		s.dropReply()
		fmt.Fprintln(s.out)
		return errors.New(res.Error)
	}

	reply.Content = res.Content
	if s.render != nil {
		rendered, err := s.render(res.Content)
		if err != nil {
			rendered = res.Content + "\n"
		}
		fmt.Fprint(s.out, "\n"+rendered)
	} else {
		fmt.Fprintln(s.out)
	}

	s.afterReply(ctx)
	return nil
}

// dropReply removes the pending assistant turn, keeping the user's message.
func (s *session) dropReply() {
	if n := len(s.history); n > 0 && s.history[n-1].Role == openai.RoleAssistant {
		s.history = s.history[:n-1]
	}
}

// afterReply names a saved conversation after its first completed reply and
// shows follow-up suggestions. Failures here are reported but never fatal.
func (s *session) afterReply(ctx context.Context) {
	if s.conversationID != "" && s.replies() == 1 {
		if title, err := s.api.GenerateTitle(ctx, s.conversationID, s.history); err == nil {
			fmt.Fprintln(s.out, s.theme.muted.Render("saved as: "+title))
		}
	}
	if !s.suggest {
		return
	}
	suggestions, err := s.api.Suggestions(ctx, s.conversationID, s.history)
	if err != nil {
		fmt.Fprintln(s.out, s.theme.muted.Render("suggestions unavailable: "+err.Error()))
		return
	}
	for i, q := range suggestions {
		fmt.Fprintln(s.out, s.theme.muted.Render(fmt.Sprintf("  %d. %s", i+1, q)))
	}
}

// replies counts the completed assistant turns in the history.
func (s *session) replies() int {
	n := 0
	for _, m := range s.history {
		if m.Role == openai.RoleAssistant {
			n++
		}
	}
	return n
}

// resume loads a saved conversation's transcript.
func (s *session) resume(ctx context.Context, id string) error {
	messages, err := s.api.Messages(ctx, id)
	if err != nil {
		return err
	}
	s.conversationID = id
	s.history = s.history[:0]
	for _, m := range messages {
		s.history = append(s.history, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return nil
}
