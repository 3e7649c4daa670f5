// Package chat turns a provider's streamed completion into the SSE frames
// read by stream.Read.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/metrics"
	"github.com/askbetty/betty/internal/openai"
	"github.com/askbetty/betty/internal/tracing"
	"github.com/askbetty/betty/internal/wire"
)

// Producer streams one assistant reply per call. It holds no per-turn state
// and is safe for concurrent use.
type Producer struct {
	adapter adapter.StreamingChatAdapter
	persona config.Persona
	logger  *log.Logger
	metrics *metrics.Collector
	name    string
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger used for stream summaries.
func WithLogger(l *log.Logger) Option { return func(p *Producer) { p.logger = l } }

// WithMetrics records stream and adapter counters on c.
func WithMetrics(c *metrics.Collector) Option { return func(p *Producer) { p.metrics = c } }

// WithAdapterName labels adapter metrics.
func WithAdapterName(name string) Option { return func(p *Producer) { p.name = name } }

// NewProducer builds a Producer over a streaming adapter.
func NewProducer(a adapter.StreamingChatAdapter, persona config.Persona, opts ...Option) *Producer {
	p := &Producer{adapter: a, persona: persona, name: "upstream"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Persona returns the persona the producer was built with.
func (p *Producer) Persona() config.Persona { return p.persona }

// Outcome summarises a finished Stream call.
type Outcome struct {
	Model      string
	Content    string // accumulated assistant text, partial on failure
	Completed  bool   // a Done frame was written
	Canceled   bool   // the client went away or stopped accepting writes
	Err        error  // start, provider or write failure
	Chunks     int    // content frames written
	FirstChunk time.Duration
	Duration   time.Duration
}

// Stream runs turn against the provider and writes frames to w until the
// provider finishes, fails, or the client goes away. If the provider stream
// cannot be started no stream is opened and w gets a JSON error instead.
func (p *Producer) Stream(ctx context.Context, w http.ResponseWriter, turn Turn) Outcome {
	start := time.Now()
	req, err := BuildRequest(p.persona, turn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return Outcome{Model: turn.Model, Err: err, Duration: time.Since(start)}
	}
	out := Outcome{Model: req.Model}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "chat.stream",
		attribute.String("chat.model", req.Model),
		attribute.Int("chat.history", len(req.Messages)))
	defer span.End()

	ch, err := p.adapter.CreateCompletionStream(ctx, req)
	if err != nil {
		p.metrics.RecordAdapterRequest(p.name, time.Since(start), err)
		tracing.Fail(span, err)
		writeError(w, http.StatusBadGateway, err.Error())
		out.Err = err
		out.Duration = time.Since(start)
		p.logf("chat.stream start_failed model=%s err=%v", req.Model, err)
		return out
	}
	p.metrics.RecordAdapterRequest(p.name, time.Since(start), nil)
	p.metrics.RecordStreamStart(req.Model)

	wire.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	defer func() {
		out.Duration = time.Since(start)
		status := metrics.StreamCompleted
		switch {
		case out.Canceled:
			status = metrics.StreamCanceled
			tracing.FailMessage(span, "canceled")
		case out.Err != nil:
			status = metrics.StreamErrored
			tracing.Fail(span, out.Err)
		default:
			tracing.OK(span)
		}
		span.SetAttributes(
			attribute.Int("chat.chunks", out.Chunks),
			attribute.Int("chat.content_length", len(out.Content)),
			attribute.String("chat.status", string(status)))
		p.metrics.RecordStreamEnd(req.Model, status, out.Chunks, out.FirstChunk, openai.EstimateTokens(out.Content))
		p.logf("chat.stream status=%s model=%s chunks=%d ttfb_ms=%d total_ms=%d",
			status, req.Model, out.Chunks, out.FirstChunk.Milliseconds(), out.Duration.Milliseconds())
	}()

	for {
		select {
		case <-ctx.Done():
			out.Canceled = true
			return out
		case ev, ok := <-ch:
			if !ok {
				if err := wire.WriteEvent(w, wire.Done()); err != nil {
					out.Canceled = true
					out.Err = err
					return out
				}
				flush()
				out.Completed = true
				return out
			}
			if ev.IsError() {
				if ctx.Err() != nil {
					out.Canceled = true
					return out
				}
				out.Err = ev.Error
				if werr := wire.WriteEvent(w, wire.Error(ev.Error.Error())); werr == nil {
					flush()
				}
				return out
			}
			text := ev.Text()
			if text == "" {
				continue
			}
			if out.Chunks == 0 {
				out.FirstChunk = time.Since(start)
			}
			out.Content += text
			if err := wire.WriteEvent(w, wire.Content(out.Content)); err != nil {
				// the deferred cancel releases the provider connection
				out.Canceled = true
				out.Err = err
				return out
			}
			flush()
			out.Chunks++
		}
	}
}

func (p *Producer) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// IsClientError reports whether err came from an invalid turn rather than
// the provider.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownModel) || errors.Is(err, ErrEmptyMessage)
}
