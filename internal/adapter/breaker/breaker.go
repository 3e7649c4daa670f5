// Package breaker wraps a chat adapter with a circuit breaker so a failing
// provider is answered fast instead of being called again.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/openai"
)

const (
	defaultMaxFailures uint32        = 5
	defaultTimeout     time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// ErrOpen is returned while the circuit is open or probing.
var ErrOpen = errors.New("breaker: circuit open")

// Config tunes the breaker. Zero values fall back to defaults.
type Config struct {
	Name        string
	MaxFailures uint32        // consecutive failures before opening
	Timeout     time.Duration // open duration before a half-open probe
	Interval    time.Duration // closed-state window for clearing counts
}

// Adapter guards stream starts and completions of the wrapped adapter.
// Errors delivered inside an already started stream do not count.
type Adapter struct {
	inner   adapter.StreamingChatAdapter
	name    string
	breaker *gobreaker.CircuitBreaker[any]
}

var _ adapter.StreamingChatAdapter = (*Adapter)(nil)

// New wraps inner. logger may be nil.
func New(inner adapter.StreamingChatAdapter, cfg Config, logger *log.Logger) *Adapter {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	name := cfg.Name
	if name == "" {
		name = "provider"
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Printf("breaker state change name=%s from=%s to=%s", name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about provider health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Adapter{inner: inner, name: name, breaker: cb}
}

// CreateCompletion routes a non-streaming call through the breaker.
func (a *Adapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	out, err := a.breaker.Execute(func() (any, error) {
		return a.inner.CreateCompletion(ctx, req)
	})
	if err != nil {
		return openai.ChatCompletionResponse{}, a.wrap(err)
	}
	return out.(openai.ChatCompletionResponse), nil
}

// CreateCompletionStream guards only the stream start.
func (a *Adapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	var ch <-chan adapter.StreamEvent
	_, err := a.breaker.Execute(func() (any, error) {
		var startErr error
		ch, startErr = a.inner.CreateCompletionStream(ctx, req)
		return nil, startErr
	})
	if err != nil {
		return nil, a.wrap(err)
	}
	return ch, nil
}

// State reports the current breaker state for health output.
func (a *Adapter) State() gobreaker.State { return a.breaker.State() }

func (a *Adapter) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrOpen, a.name, err)
	}
	return err
}
