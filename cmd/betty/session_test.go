package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbetty/betty/internal/client"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/testutil"
)

func newTestSession(t *testing.T, mux *http.ServeMux) (*session, *bytes.Buffer) {
	t.Helper()
	srv := testutil.NewIPv4Server(t, mux)
	api, err := client.New(srv.URL, "tester", nil)
	require.NoError(t, err)
	var out bytes.Buffer
	return &session{api: api, model: "loopback", out: &out, theme: plainTheme(), idleTimeout: 2 * time.Second}, &out
}

func TestSessionSendAppendsCompletedTurn(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/chat", testutil.SSEHandler(5*time.Millisecond,
		testutil.DataFrame(`{"content":"Hello"}`),
		testutil.DataFrame(`{"content":"Hello there"}`),
		testutil.DataFrame(`{"content":"","done":true}`),
	))
	s, out := newTestSession(t, mux)

	require.NoError(t, s.send(context.Background(), "hi"))
	require.Len(t, s.history, 2)
	assert.Equal(t, openai.ChatMessage{Role: openai.RoleUser, Content: "hi"}, s.history[0])
	assert.Equal(t, openai.ChatMessage{Role: openai.RoleAssistant, Content: "Hello there"}, s.history[1])
	assert.Equal(t, "Betty: Hello there\n", out.String())
}

func TestSessionSendSendsPriorHistory(t *testing.T) {
	var (
		mu  sync.Mutex
		got []client.ChatRequest
	)
	mux := http.NewServeMux()
	sse := testutil.SSEHandler(0, testutil.DataFrame(`{"content":"ok"}`), testutil.DataFrame(`[DONE]`))
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req client.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		sse.ServeHTTP(w, r)
	})
	s, _ := newTestSession(t, mux)

	require.NoError(t, s.send(context.Background(), "one"))
	require.NoError(t, s.send(context.Background(), "two"))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Empty(t, got[0].Messages)
	assert.Equal(t, "two", got[1].Message)
	assert.Equal(t, []openai.ChatMessage{
		{Role: openai.RoleUser, Content: "one"},
		{Role: openai.RoleAssistant, Content: "ok"},
	}, got[1].Messages)
	assert.Len(t, s.history, 4)
}

func TestSessionSendErrorKeepsUserTurn(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/chat", testutil.SSEHandler(0,
		testutil.DataFrame(`{"content":"partial"}`),
		testutil.DataFrame(`{"error":"upstream exploded"}`),
	))
	s, _ := newTestSession(t, mux)

	err := s.send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
	require.Len(t, s.history, 1)
	assert.Equal(t, openai.RoleUser, s.history[0].Role)
}

func TestSessionSendCanceled(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/chat", testutil.SSEHandler(time.Second,
		testutil.DataFrame(`{"content":"slow"}`),
		testutil.DataFrame(`{"content":"slow reply"}`),
	))
	s, _ := newTestSession(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.send(ctx, "hi")
	assert.ErrorIs(t, err, errCanceled)
	assert.Len(t, s.history, 1)
}

func TestSessionRenderReplacesStreaming(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/chat", testutil.SSEHandler(0,
		testutil.DataFrame(`{"content":"**bold**"}`),
		testutil.DataFrame(`{"content":"","done":true}`),
	))
	s, out := newTestSession(t, mux)
	s.render = func(md string) (string, error) { return "<" + md + ">\n", nil }

	require.NoError(t, s.send(context.Background(), "hi"))
	assert.Equal(t, "Betty: \n<**bold**>\n", out.String())
}

func TestSessionAfterReplyTitlesAndSuggests(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/chat", testutil.SSEHandler(0,
		testutil.DataFrame(`{"content":"Channels are pipes."}`),
		testutil.DataFrame(`{"content":"","done":true}`),
	))
	var titled string
	mux.HandleFunc("/api/generate-title", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		titled, _ = body["conversation_id"].(string)
		_ = json.NewEncoder(w).Encode(map[string]string{"title": "Go channels"})
	})
	mux.HandleFunc("/api/suggestions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]string{"suggestions": {"What is select?", "Buffered or not?"}})
	})
	s, out := newTestSession(t, mux)
	s.conversationID = "conv-1"
	s.suggest = true

	require.NoError(t, s.send(context.Background(), "what are channels"))
	assert.Equal(t, "conv-1", titled)
	text := out.String()
	assert.Contains(t, text, "saved as: Go channels")
	assert.Contains(t, text, "1. What is select?")
	assert.Contains(t, text, "2. Buffered or not?")
}

func TestSessionTitlesAfterFailedFirstReply(t *testing.T) {
	var chats, titles atomic.Int32
	failed := testutil.SSEHandler(0, testutil.DataFrame(`{"error":"upstream exploded"}`))
	ok := testutil.SSEHandler(0,
		testutil.DataFrame(`{"content":"Sandpits build motor skills."}`),
		testutil.DataFrame(`{"content":"","done":true}`),
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if chats.Add(1) == 1 {
			failed.ServeHTTP(w, r)
			return
		}
		ok.ServeHTTP(w, r)
	})
	mux.HandleFunc("/api/generate-title", func(w http.ResponseWriter, r *http.Request) {
		titles.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"title": "Sandpit play"})
	})
	s, out := newTestSession(t, mux)
	s.conversationID = "conv-2"

	require.Error(t, s.send(context.Background(), "why sandpits"))
	assert.Zero(t, titles.Load())

	require.NoError(t, s.send(context.Background(), "why sandpits?"))
	require.Len(t, s.history, 3)
	assert.Equal(t, int32(1), titles.Load())
	assert.Contains(t, out.String(), "saved as: Sandpit play")

	require.NoError(t, s.send(context.Background(), "and water play?"))
	assert.Equal(t, int32(1), titles.Load(), "only the first reply names the conversation")
}

func TestChatLoopStopsOnExit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	sse := testutil.SSEHandler(0, testutil.DataFrame(`{"content":"pong"}`), testutil.DataFrame(`[DONE]`))
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		sse.ServeHTTP(w, r)
	})
	s, out := newTestSession(t, mux)

	require.NoError(t, chatLoop(context.Background(), s, strings.NewReader("ping\n\nexit\nignored\n")))
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, out.String(), "Betty: pong")
}

func TestPreviewTruncates(t *testing.T) {
	assert.Equal(t, "a b", preview("  a \n b "))
	long := strings.Repeat("x", 100)
	got := preview(long)
	assert.Equal(t, previewRunes, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour), now))
}
