// Package betty exposes the chat stream consumer and API client so programs
// outside this module can talk to bettyd without importing internal packages.
package betty

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/askbetty/betty/internal/client"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/stream"
	"github.com/askbetty/betty/internal/wire"
)

type Result = stream.Result
type Option = stream.Option
type MalformedPolicy = stream.MalformedPolicy

const (
	SkipMalformed      = stream.SkipMalformed
	FailOnMalformed    = stream.FailOnMalformed
	DefaultIdleTimeout = stream.DefaultIdleTimeout
)

func WithOnChunk(fn func(accumulated string)) Option { return stream.WithOnChunk(fn) }
func WithOnComplete(fn func(final string)) Option { return stream.WithOnComplete(fn) }
func WithIdleTimeout(d time.Duration) Option { return stream.WithIdleTimeout(d) }
func WithMalformedPolicy(p MalformedPolicy) Option { return stream.WithMalformedPolicy(p) }

// Read consumes a chat stream response to its end.
func Read(ctx context.Context, resp *http.Response, opts ...Option) Result {
	return stream.Read(ctx, resp, opts...)
}

// Subscribe consumes a chat stream in the background.
func Subscribe(ctx context.Context, resp *http.Response, opts ...Option) (<-chan string, <-chan Result) {
	return stream.Subscribe(ctx, resp, opts...)
}

type Event = wire.Event

var (
	ContentEvent = wire.Content
	ErrorEvent   = wire.Error
	DoneEvent    = wire.Done
)

// WriteEvent writes e as one frame.
func WriteEvent(w io.Writer, e Event) error {
	return wire.WriteEvent(w, e)
}

type Client = client.Client
type ChatRequest = client.ChatRequest
type Message = openai.ChatMessage
type APIError = client.APIError

// NewClient builds an API client for bettyd at baseURL acting as userID.
func NewClient(baseURL, userID string, httpClient client.HTTPClient) (*Client, error) {
	return client.New(baseURL, userID, httpClient)
}
