package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/openai"
)

type fakeAdapter struct {
	calls   int
	err     error
	streamE error
}

func (f *fakeAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.NewCompletionResponse("id", req.Model, openai.ChatMessage{Role: "assistant", Content: "ok"}, openai.UsageBreakdown{}), nil
}

func (f *fakeAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	f.calls++
	if f.streamE != nil {
		return nil, f.streamE
	}
	ch := make(chan adapter.StreamEvent)
	close(ch)
	return ch, nil
}

func TestBreakerPassesThrough(t *testing.T) {
	b := New(&fakeAdapter{}, Config{}, nil)
	resp, err := b.CreateCompletion(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensOnStreamStartFailures(t *testing.T) {
	inner := &fakeAdapter{streamE: errors.New("connection refused")}
	b := New(inner, Config{Name: "openai", MaxFailures: 2, Timeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, err := b.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{})
	require.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, inner.calls, "provider must not be called while open")
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	inner := &fakeAdapter{err: context.Canceled}
	b := New(inner, Config{MaxFailures: 1}, nil)
	for i := 0; i < 3; i++ {
		_, err := b.CreateCompletion(context.Background(), openai.ChatCompletionRequest{})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	inner := &fakeAdapter{streamE: errors.New("boom")}
	b := New(inner, Config{MaxFailures: 1, Timeout: 20 * time.Millisecond}, nil)

	_, err := b.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{})
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, b.State())

	inner.streamE = nil
	time.Sleep(40 * time.Millisecond)
	ch, err := b.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{})
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
