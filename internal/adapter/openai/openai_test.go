package openai

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

func userTurn(text string) []openai.ChatMessage {
	return []openai.ChatMessage{{Role: openai.RoleUser, Content: text}}
}

func newTestAdapter(t *testing.T, h http.Handler, mutate ...func(*Config)) *OpenAIAdapter {
	t.Helper()
	srv := testutil.NewIPv4Server(t, h)
	cfg := Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", RequestTimeout: 2 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func collect(t *testing.T, ch <-chan adapter.StreamEvent) (string, error) {
	t.Helper()
	var b strings.Builder
	for ev := range ch {
		if ev.IsError() {
			return b.String(), ev.Error
		}
		b.WriteString(ev.Text())
	}
	return b.String(), nil
}

func TestNewDefaults(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	a, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", a.BaseURL())
}

func TestCreateCompletionRequestShape(t *testing.T) {
	var (
		header http.Header
		path   string
		body   map[string]any
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header, path = r.Header.Clone(), r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(openai.NewCompletionResponse("cmpl-1", "gpt-4o",
			openai.ChatMessage{Role: openai.RoleAssistant, Content: "Try a sensory bin."}, openai.UsageBreakdown{}))
	})
	a := newTestAdapter(t, h, func(c *Config) {
		c.Organization = "org-betty"
		c.Headers = map[string]string{"Helicone-Auth": "Bearer hk", " ": "dropped"}
	})

	temp := 0.2
	resp, err := a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model: "gpt-4o", Messages: userTurn("ideas for toddlers"), Temperature: &temp, MaxTokens: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, "Try a sensory bin.", resp.Text())

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", header.Get("Authorization"))
	assert.Equal(t, "org-betty", header.Get("OpenAI-Organization"))
	assert.Equal(t, "Bearer hk", header.Get("Helicone-Auth"))
	assert.Equal(t, false, body["stream"])
	assert.Equal(t, 0.2, body["temperature"])
	assert.Equal(t, float64(60), body["max_tokens"])
	assert.NotContains(t, body, "top_p")
}

func TestCreateCompletionErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth","code":"invalid_api_key"}}`, "openai: bad key (type=auth, code=invalid_api_key)"},
		{"plain body", http.StatusBadGateway, "upstream down\n", "openai: http 502: upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			_, err := a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o", Messages: userTurn("hi")})
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())

			_, err = a.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o", Messages: userTurn("hi")})
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
		})
	}

	a := newTestAdapter(t, nil)
	_, err := a.CreateCompletion(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o"})
	assert.Error(t, err)
	_, err = a.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o"})
	assert.Error(t, err)
}

func chunkFrame(text string) string {
	c := openai.NewTextChunk("c1", "gpt-4o", "", text)
	b, _ := json.Marshal(c)
	return testutil.DataFrame(string(b))
}

func TestCreateCompletionStream(t *testing.T) {
	var accept string
	var streamFlag any
	sse := testutil.SSEHandler(0,
		": keep-alive\n\n",
		chunkFrame("Circle"),
		chunkFrame(" time"),
		chunkFrame(""),
		"data: [DONE]\n\n",
		chunkFrame(" ignored"),
	)
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		streamFlag = body["stream"]
		sse.ServeHTTP(w, r)
	}))

	ch, err := a.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o", Messages: userTurn("hi")})
	require.NoError(t, err)
	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Circle time", text)
	assert.Equal(t, "text/event-stream", accept)
	assert.Equal(t, true, streamFlag)
}

func TestCreateCompletionStreamEndsAtEOF(t *testing.T) {
	a := newTestAdapter(t, testutil.SSEHandler(0, chunkFrame("no"), chunkFrame(" done marker")))
	ch, err := a.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o", Messages: userTurn("hi")})
	require.NoError(t, err)
	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "no done marker", text)
}

func TestCreateCompletionStreamFailures(t *testing.T) {
	cases := []struct {
		name   string
		frames []string
		text   string
		want   string
	}{
		{"error frame", []string{chunkFrame("Hel"), testutil.DataFrame(`{"error":{"message":"overloaded"}}`)}, "Hel", "openai: overloaded"},
		{"bad json", []string{chunkFrame("Hel"), testutil.DataFrame(`{nope`)}, "Hel", "openai: parse stream"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, testutil.SSEHandler(0, tc.frames...))
			ch, err := a.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "gpt-4o", Messages: userTurn("hi")})
			require.NoError(t, err)
			text, err := collect(t, ch)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Equal(t, tc.text, text)
		})
	}
}

func TestCreateCompletionStreamCanceled(t *testing.T) {
	a := newTestAdapter(t, testutil.SSEHandler(time.Second, chunkFrame("slow"), chunkFrame(" reply")))
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.CreateCompletionStream(ctx, openai.ChatCompletionRequest{Model: "gpt-4o", Messages: userTurn("hi")})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "slow", first.Text())
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
