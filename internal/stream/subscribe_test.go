package stream

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe(t *testing.T) {
	var seen []string
	updates, done := Subscribe(context.Background(), okResponse(newBody(threeFrames)),
		WithOnChunk(func(s string) { seen = append(seen, s) }))

	var got []string
	for u := range updates {
		got = append(got, u)
	}
	select {
	case res := <-done:
		assert.Equal(t, Result{Content: "Hi there!"}, res)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	assert.Equal(t, []string{"Hi", "Hi there", "Hi there!"}, got)
	assert.Equal(t, got, seen)
}

func TestSubscribeCancelWithoutDraining(t *testing.T) {
	var raw strings.Builder
	text := ""
	for i := 0; i < 40; i++ {
		text += "x"
		fmt.Fprintf(&raw, "data: {\"content\":%q}\n\n", text)
	}
	body := newBody(raw.String())
	body.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	_, done := Subscribe(ctx, okResponse(body))
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res, ok := <-done:
		require.True(t, ok)
		assert.True(t, res.Canceled)
		assert.False(t, res.Failed())
	case <-time.After(2 * time.Second):
		t.Fatal("no result after cancel")
	}
	assert.EqualValues(t, 1, body.closeCount.Load())
}
