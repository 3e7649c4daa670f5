package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/adapter/loopback"
	"github.com/askbetty/betty/internal/openai"
)

// namedAdapter answers with its own name so tests can see who served a call.
type namedAdapter struct{ name string }

func (n namedAdapter) CreateCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: openai.RoleAssistant, Content: n.name}}},
	}, nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := New()
	for _, name := range []string{"openai", "anthropic", "mini"} {
		require.NoError(t, r.RegisterAdapter(name, namedAdapter{name}))
	}
	require.NoError(t, r.RegisterRoute("gpt-*", "openai"))
	require.NoError(t, r.RegisterRoute("gpt-4o-mini", "mini"))
	require.NoError(t, r.RegisterRoute("claude-*", "anthropic"))
	require.NoError(t, r.RegisterRoute("*-haiku*", "mini"))
	return r
}

func TestResolve(t *testing.T) {
	r := newTestRouter(t)
	cases := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "openai"},
		{"GPT-4o", "openai"},
		{"  gpt-4o-mini ", "mini"},
		{"claude-3-5-sonnet", "anthropic"},
		// "claude-*" has more literal characters than "*-haiku*"
		{"claude-3-haiku-20240307", "anthropic"},
		{"tiny-haiku", "mini"},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			got, err := r.GetAdapterForModel(tc.model)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveWithoutMatch(t *testing.T) {
	r := newTestRouter(t)

	_, err := r.GetAdapterForModel("llama-3")
	assert.True(t, errors.Is(err, ErrNoRoute))

	require.NoError(t, r.SetFallback("openai"))
	got, err := r.GetAdapterForModel("llama-3")
	require.NoError(t, err)
	assert.Equal(t, "openai", got)

	require.NoError(t, r.SetFallback(""))
	_, err = r.GetAdapterForModel("llama-3")
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = r.GetAdapterForModel(" ")
	assert.Error(t, err)
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	assert.Error(t, r.RegisterAdapter("", namedAdapter{}))
	assert.Error(t, r.RegisterAdapter("x", nil))
	assert.Error(t, r.RegisterRoute("gpt-*", "openai"), "adapter must exist first")
	assert.Error(t, r.SetFallback("openai"))

	require.NoError(t, r.RegisterAdapter("openai", namedAdapter{"openai"}))
	assert.Error(t, r.RegisterRoute(" ", "openai"))
}

func TestRegisterRouteReplacesPattern(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.RegisterRoute("GPT-*", "anthropic"))

	got, err := r.GetAdapterForModel("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got)
	assert.Len(t, r.ListRoutes(), 4)
}

func TestCreateCompletionDispatches(t *testing.T) {
	r := newTestRouter(t)
	resp, err := r.CreateCompletion(context.Background(), openai.ChatCompletionRequest{Model: "claude-3-opus"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Choices[0].Message.Content)
}

func TestCreateCompletionStream(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.RegisterAdapter("loopback", loopback.New()))
	require.NoError(t, r.RegisterRoute("loopback", "loopback"))

	ch, err := r.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{
		Model:    "loopback",
		Messages: []openai.ChatMessage{{Role: openai.RoleUser, Content: "hello world"}},
	})
	require.NoError(t, err)
	var text string
	for ev := range ch {
		require.False(t, ev.IsError())
		text += ev.Text()
	}
	assert.Equal(t, "[loopback] hello world", text)

	_, err = r.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4"})
	assert.ErrorIs(t, err, ErrNotStreaming)
}

func TestListings(t *testing.T) {
	r := newTestRouter(t)
	assert.Equal(t, []string{"anthropic", "mini", "openai"}, r.ListAdapters())

	routes := r.ListRoutes()
	assert.Equal(t, map[string]string{
		"gpt-*":       "openai",
		"gpt-4o-mini": "mini",
		"claude-*":    "anthropic",
		"*-haiku*":    "mini",
	}, routes)
	routes["gpt-*"] = "mutated"
	assert.Equal(t, "openai", r.ListRoutes()["gpt-*"])
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"gpt-4", "gpt-4", true},
		{"gpt-4", "gpt-4o", false},
		{"gpt-*", "gpt-", true},
		{"*-turbo", "gpt-3.5-turbo", true},
		{"*3.5*", "gpt-3.5-turbo", true},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "acb", false},
		{"*b*b", "ab", false},
		{"*", "", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchGlob(tc.pattern, tc.s), "%q ~ %q", tc.pattern, tc.s)
	}
}

var _ adapter.ChatAdapter = namedAdapter{}
