package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/openai"
)

type cannedAdapter struct {
	reply string
	err   error
	got   openai.ChatCompletionRequest
}

func (c *cannedAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.got = req
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	return openai.NewCompletionResponse("id", req.Model, openai.ChatMessage{Role: "assistant", Content: c.reply}, openai.UsageBreakdown{}), nil
}

var transcript = []openai.ChatMessage{
	{Role: "user", Content: "How do I support toddlers' language?"},
	{Role: "assistant", Content: "Narrate play, expand on words..."},
}

func TestTitle(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain", "  Supporting Toddler Language  ", "Supporting Toddler Language"},
		{"quoted", `"Toddler Talk"`, "Toddler Talk"},
		{"empty", "   ", DefaultTitle},
		{"multi line", "Toddler Talk\nExtra commentary", "Toddler Talk"},
		{"long", strings.Repeat("a", 80), strings.Repeat("a", MaxTitleLength)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &cannedAdapter{reply: tc.reply}
			g := New(a, config.DefaultPersona(), nil, nil)
			got, err := g.Title(context.Background(), transcript)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTitleRequestShape(t *testing.T) {
	a := &cannedAdapter{reply: "x"}
	persona := config.DefaultPersona()
	g := New(a, persona, nil, nil)
	_, err := g.Title(context.Background(), append([]openai.ChatMessage{{Role: "system", Content: "drop me"}}, transcript...))
	require.NoError(t, err)

	assert.Equal(t, persona.AuxModel, a.got.Model)
	assert.Equal(t, 30, a.got.MaxTokens)
	require.NotNil(t, a.got.Temperature)
	assert.InDelta(t, 0.7, *a.got.Temperature, 1e-9)
	require.Len(t, a.got.Messages, 3)
	assert.Equal(t, openai.ChatMessage{Role: "system", Content: persona.TitlePrompt}, a.got.Messages[0])
	assert.Equal(t, transcript[0], a.got.Messages[1])
}

func TestTitleNoMessages(t *testing.T) {
	g := New(&cannedAdapter{}, config.DefaultPersona(), nil, nil)
	_, err := g.Title(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestFollowUps(t *testing.T) {
	a := &cannedAdapter{reply: "1. Could you tell me more about narration?\n\n- Please help me write the learning story.\n2) What EYLF outcome fits?\n   \nHow do I involve families?\nA fifth one"}
	g := New(a, config.DefaultPersona(), nil, nil)
	got, err := g.FollowUps(context.Background(), transcript)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Could you tell me more about narration?",
		"Please help me write the learning story.",
		"What EYLF outcome fits?",
		"How do I involve families?",
	}, got)
	assert.Equal(t, config.DefaultPersona().SuggestionsPrompt, a.got.Messages[0].Content)
	assert.Zero(t, a.got.MaxTokens)
}

func TestStarters(t *testing.T) {
	a := &cannedAdapter{reply: "1. How can I document play?\n2. What is intentional teaching?\n3.   How do I plan for outdoor learning?\n4. How do I write a learning story?\n5. Extra"}
	persona := config.DefaultPersona()
	g := New(a, persona, nil, nil)
	got, err := g.Starters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"How can I document play?",
		"What is intentional teaching?",
		"How do I plan for outdoor learning?",
		"How do I write a learning story?",
	}, got)
	require.Len(t, a.got.Messages, 2)
	assert.Equal(t, "Generate 4 conversation starters.", a.got.Messages[1].Content)
}

func TestProviderError(t *testing.T) {
	g := New(&cannedAdapter{err: errors.New("rate limited")}, config.DefaultPersona(), nil, nil)
	_, err := g.FollowUps(context.Background(), transcript)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggest: suggestions: rate limited")
	_, err = g.Starters(context.Background())
	assert.Error(t, err)
}
