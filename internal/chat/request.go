package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/openai"
)

var (
	// ErrUnknownModel is returned for a model outside the persona's list.
	ErrUnknownModel = errors.New("chat: unknown model")
	// ErrEmptyMessage is returned when the new user message is blank.
	ErrEmptyMessage = errors.New("chat: message is empty")
)

// Turn is one user request: prior transcript, the new message and the model.
type Turn struct {
	History []openai.ChatMessage
	Message string
	Model   string
}

// BuildRequest assembles the provider request for turn: the persona's
// system prompt and greeting, the user and assistant history with empty
// entries dropped, then the new user message. Sampling settings come from
// the persona.
func BuildRequest(persona config.Persona, turn Turn) (openai.ChatCompletionRequest, error) {
	text := strings.TrimSpace(turn.Message)
	if text == "" {
		return openai.ChatCompletionRequest{}, ErrEmptyMessage
	}
	model := strings.TrimSpace(turn.Model)
	if model == "" {
		model = persona.DefaultModel
	}
	if !persona.HasModel(model) {
		return openai.ChatCompletionRequest{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	messages := make([]openai.ChatMessage, 0, len(turn.History)+3)
	if persona.SystemPrompt != "" {
		messages = append(messages, openai.ChatMessage{Role: openai.RoleSystem, Content: persona.SystemPrompt})
	}
	if persona.Greeting != "" {
		messages = append(messages, openai.ChatMessage{Role: openai.RoleAssistant, Content: persona.Greeting})
	}
	for _, m := range turn.History {
		if m.Role != openai.RoleUser && m.Role != openai.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, m)
	}
	messages = append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: turn.Message})

	temperature := persona.Temperature
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: &temperature,
		MaxTokens:   persona.MaxTokens,
	}, nil
}
