// Package suggest generates conversation titles, follow-up questions and
// conversation starters with short non-streaming completions.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/metrics"
	"github.com/askbetty/betty/internal/openai"
)

const (
	// DefaultTitle is used when the model returns nothing usable.
	DefaultTitle = "New Conversation"
	// MaxTitleLength caps titles, in characters.
	MaxTitleLength = 60
	// MaxItems caps follow-ups and starters.
	MaxItems = 4

	titleMaxTokens = 30
)

var temperature = 0.7

// ErrNoMessages is returned when there is no transcript to work from.
var ErrNoMessages = errors.New("suggest: messages are required")

var (
	followUpPrefix = regexp.MustCompile(`^[-\d.)\s]+`)
	starterPrefix  = regexp.MustCompile(`^\d+\.\s*`)
)

// Generator runs the auxiliary prompts of a persona.
type Generator struct {
	adapter adapter.ChatAdapter
	persona config.Persona
	logger  *log.Logger
	metrics *metrics.Collector
}

// New builds a Generator. logger and collector may be nil.
func New(a adapter.ChatAdapter, persona config.Persona, logger *log.Logger, collector *metrics.Collector) *Generator {
	return &Generator{adapter: a, persona: persona, logger: logger, metrics: collector}
}

// Title names a conversation from its transcript.
func (g *Generator) Title(ctx context.Context, messages []openai.ChatMessage) (string, error) {
	transcript := filter(messages)
	if len(transcript) == 0 {
		return "", ErrNoMessages
	}
	out, err := g.complete(ctx, "title", g.persona.TitlePrompt, transcript, titleMaxTokens)
	if err != nil {
		return "", err
	}
	return cleanTitle(out), nil
}

// FollowUps proposes up to four questions the user might ask next.
func (g *Generator) FollowUps(ctx context.Context, messages []openai.ChatMessage) ([]string, error) {
	transcript := filter(messages)
	if len(transcript) == 0 {
		return nil, ErrNoMessages
	}
	out, err := g.complete(ctx, "suggestions", g.persona.SuggestionsPrompt, transcript, 0)
	if err != nil {
		return nil, err
	}
	return splitLines(out, followUpPrefix), nil
}

// Starters proposes up to four opening questions for a new conversation.
func (g *Generator) Starters(ctx context.Context) ([]string, error) {
	request := []openai.ChatMessage{{Role: openai.RoleUser, Content: g.persona.StartersRequest}}
	out, err := g.complete(ctx, "starters", g.persona.StartersPrompt, request, 0)
	if err != nil {
		return nil, err
	}
	return splitLines(out, starterPrefix), nil
}

func (g *Generator) complete(ctx context.Context, kind, system string, messages []openai.ChatMessage, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.persona.AuxModel,
		Messages:    append([]openai.ChatMessage{{Role: openai.RoleSystem, Content: system}}, messages...),
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	}
	start := time.Now()
	resp, err := g.adapter.CreateCompletion(ctx, req)
	g.metrics.RecordAdapterRequest("suggest."+kind, time.Since(start), err)
	if err != nil {
		if g.logger != nil {
			g.logger.Printf("suggest.%s failed model=%s err=%v", kind, req.Model, err)
		}
		return "", fmt.Errorf("suggest: %s: %w", kind, err)
	}
	return resp.Text(), nil
}

func filter(messages []openai.ChatMessage) []openai.ChatMessage {
	out := make([]openai.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role != openai.RoleUser && m.Role != openai.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, "\"'` ")
	if s == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(s) > MaxTitleLength {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	return s
}

func splitLines(s string, prefix *regexp.Regexp) []string {
	out := make([]string, 0, MaxItems)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(prefix.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxItems {
			break
		}
	}
	return out
}
