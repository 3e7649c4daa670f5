package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/testutil"
)

func newTestAdapter(t *testing.T, h http.Handler) *AnthropicAdapter {
	t.Helper()
	srv := testutil.NewIPv4Server(t, h)
	a, err := New(Config{APIKey: "ak-test", BaseURL: srv.URL, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return a
}

func request(model string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: "You are Betty."},
			{Role: openai.RoleSystem, Content: "Be brief."},
			{Role: openai.RoleUser, Content: "Hello"},
			{Role: openai.RoleAssistant, Content: "Hi! How can I help?"},
			{Role: openai.RoleUser, Content: "Circle time ideas"},
		},
	}
}

// event formats one Messages API stream event with its event line.
func event(kind, payload string) string {
	return "event: " + kind + "\ndata: " + payload + "\n\n"
}

func delta(text string) string {
	b, _ := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
	return event("content_block_delta", string(b))
}

func collect(ch <-chan adapter.StreamEvent) ([]openai.ChatCompletionChunk, error) {
	var chunks []openai.ChatCompletionChunk
	for ev := range ch {
		if ev.IsError() {
			return chunks, ev.Error
		}
		chunks = append(chunks, *ev.Chunk)
	}
	return chunks, nil
}

func joined(chunks []openai.ChatCompletionChunk) string {
	var b strings.Builder
	for i := range chunks {
		b.WriteString(chunks[i].GetDelta().Content)
	}
	return b.String()
}

func TestNewDefaults(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	a, err := New(Config{APIKey: "k", BaseURL: "https://proxy.example/"})
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example", a.BaseURL())
	assert.Equal(t, "2023-06-01", a.version)
}

func TestCreateCompletion(t *testing.T) {
	var (
		header http.Header
		body   map[string]any
	)
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant",
			"content":[{"type":"text","text":"Sing a "},{"type":"tool_use"},{"type":"text","text":"hello song."}],
			"stop_reason":"max_tokens","usage":{"input_tokens":12,"output_tokens":5}}`))
	}))

	resp, err := a.CreateCompletion(context.Background(), request("claude-sonnet"))
	require.NoError(t, err)
	assert.Equal(t, "Sing a hello song.", resp.Text())
	assert.Equal(t, "claude-sonnet", resp.Model)
	assert.Equal(t, "length", resp.Choices[0].FinishReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)

	assert.Equal(t, "ak-test", header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", header.Get("anthropic-version"))
	assert.Equal(t, defaultModel, body["model"])
	assert.Equal(t, "You are Betty.\n\nBe brief.", body["system"])
	assert.Equal(t, float64(defaultMaxTokens), body["max_tokens"])
	assert.NotContains(t, body, "stream")
	assert.Len(t, body["messages"], 3)
}

func TestCreateCompletionErrors(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	_, err := a.CreateCompletion(context.Background(), request("claude-3-haiku"))
	require.Error(t, err)
	assert.Equal(t, "anthropic: slow down (type=rate_limit_error)", err.Error())

	_, err = a.CreateCompletionStream(context.Background(), request("claude-3-haiku"))
	require.Error(t, err)
	assert.Equal(t, "anthropic: slow down (type=rate_limit_error)", err.Error())

	_, err = a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "claude",
		Messages: []openai.ChatMessage{{Role: openai.RoleSystem, Content: "only system"}},
	})
	assert.ErrorContains(t, err, "convert messages")
}

func TestCreateCompletionStream(t *testing.T) {
	var streamFlag any
	sse := testutil.SSEHandler(0,
		event("message_start", `{"type":"message_start","message":{"id":"msg_9"}}`),
		event("content_block_start", `{"type":"content_block_start","index":0}`),
		event("ping", `{"type":"ping"}`),
		delta("Try "),
		event("content_block_delta", `{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`),
		delta("finger painting."),
		event("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`),
		event("message_stop", `{"type":"message_stop"}`),
		delta(" ignored"),
	)
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		streamFlag = body["stream"]
		sse.ServeHTTP(w, r)
	}))

	ch, err := a.CreateCompletionStream(context.Background(), request("claude-3-5-sonnet-latest"))
	require.NoError(t, err)
	chunks, err := collect(ch)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Try finger painting.", joined(chunks))
	assert.Equal(t, "msg_9", chunks[0].ID)
	assert.Equal(t, "claude-3-5-sonnet-latest", chunks[0].Model)
	assert.Equal(t, openai.RoleAssistant, chunks[0].GetDelta().Role)
	assert.Empty(t, chunks[1].GetDelta().Role)
	assert.Equal(t, true, streamFlag)
}

func TestCreateCompletionStreamTypeFromEventLine(t *testing.T) {
	// some proxies drop "type" from the payload
	a := newTestAdapter(t, testutil.SSEHandler(0,
		event("content_block_delta", `{"delta":{"type":"text_delta","text":"ok"}}`),
		event("message_stop", `{}`),
	))
	ch, err := a.CreateCompletionStream(context.Background(), request("claude"))
	require.NoError(t, err)
	chunks, err := collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "ok", joined(chunks))
}

func TestCreateCompletionStreamFailures(t *testing.T) {
	cases := []struct {
		name   string
		frames []string
		want   string
	}{
		{"error event", []string{delta("Par"), event("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)}, "anthropic: Overloaded (type=overloaded_error)"},
		{"error without message", []string{delta("Par"), event("error", `{"type":"error"}`)}, "anthropic: stream error"},
		{"bad json", []string{delta("Par"), "data: {oops\n\n"}, "anthropic: parse stream"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, testutil.SSEHandler(0, tc.frames...))
			ch, err := a.CreateCompletionStream(context.Background(), request("claude"))
			require.NoError(t, err)
			chunks, err := collect(ch)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Equal(t, "Par", joined(chunks))
		})
	}
}

func TestCreateCompletionStreamCanceled(t *testing.T) {
	a := newTestAdapter(t, testutil.SSEHandler(time.Second, delta("slow"), delta(" reply")))
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.CreateCompletionStream(ctx, request("claude"))
	require.NoError(t, err)

	first := <-ch
	require.NotNil(t, first.Chunk)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestConvertMessages(t *testing.T) {
	msgs, system, err := convertMessages([]openai.ChatMessage{
		{Role: "SYSTEM", Content: "a"},
		{Role: "tool", Content: "treated as user"},
		{Role: openai.RoleAssistant, Content: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", system)
	require.Len(t, msgs, 2)
	assert.Equal(t, openai.RoleUser, msgs[0].Role)
	assert.Equal(t, openai.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "b", msgs[1].Content[0].Text)
}

func TestMapModelName(t *testing.T) {
	cases := map[string]string{
		"claude":                     "claude-3-opus-20240229",
		" Claude-Haiku ":             "claude-3-5-haiku-20241022",
		"claude-sonnet":              defaultModel,
		"claude-3-7-sonnet-20250219": "claude-3-7-sonnet-20250219",
		"gpt-4o":                     defaultModel,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapModelName(in), in)
	}
}
