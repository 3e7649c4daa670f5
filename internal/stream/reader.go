// Package stream consumes chat responses produced in the wire format and
// reduces them to a Result.
//
// Read never returns a Go error: transport failures, upstream error frames,
// malformed frames and stalls all resolve to a Result whose Error field is
// set, with whatever content arrived before the failure preserved.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/askbetty/betty/internal/tracing"
	"github.com/askbetty/betty/internal/wire"
)

const (
	// DefaultIdleTimeout bounds the gap between two received chunks.
	DefaultIdleTimeout = 10 * time.Second

	readBufferSize = 4096
	maxErrorBody   = 64 << 10
)

// Error messages surfaced in Result.Error for failures detected locally.
const (
	MsgNoResponse = "no response"
	MsgNoBody     = "no response body"
)

// MalformedPolicy decides what happens to a frame that does not decode.
type MalformedPolicy int

const (
	// SkipMalformed drops the frame and keeps reading.
	SkipMalformed MalformedPolicy = iota
	// FailOnMalformed ends the read with the parse error.
	FailOnMalformed
)

// Result is the fully reduced outcome of one consumed stream.
type Result struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	// Canceled is set when the caller's context ended the read. It is not
	// an error and onComplete is not invoked.
	Canceled bool `json:"-"`
}

// Failed reports whether the stream ended abnormally.
func (r Result) Failed() bool { return r.Error != "" }

// Option configures a Read call.
type Option func(*options)

type options struct {
	onChunk     func(accumulated string)
	onComplete  func(final string)
	idleTimeout time.Duration
	policy      MalformedPolicy
	logger      *log.Logger
}

// WithOnChunk is called with the accumulated text after every content frame.
func WithOnChunk(fn func(accumulated string)) Option {
	return func(o *options) { o.onChunk = fn }
}

// WithOnComplete is called once with the final text on normal completion.
func WithOnComplete(fn func(final string)) Option {
	return func(o *options) { o.onComplete = fn }
}

// WithIdleTimeout overrides DefaultIdleTimeout. Non-positive values keep the default.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithMalformedPolicy selects how undecodable frames are handled.
func WithMalformedPolicy(p MalformedPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger receives notes about skipped frames.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{idleTimeout: DefaultIdleTimeout, policy: SkipMalformed}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Read consumes resp until a terminal frame, end of body, idle timeout or
// cancellation of ctx. The response body is closed exactly once before Read
// returns.
func Read(ctx context.Context, resp *http.Response, opts ...Option) Result {
	return read(ctx, resp, newOptions(opts))
}

func read(ctx context.Context, resp *http.Response, o options) Result {
	if resp == nil {
		return Result{Error: MsgNoResponse}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Error: errorBody(resp)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return Result{Error: MsgNoBody}
	}

	ctx, span := tracing.StartSpan(ctx, "stream.read")
	defer span.End()

	r := &reader{body: resp.Body, opts: o}
	res := r.run(ctx)

	span.SetAttributes(
		attribute.Int("stream.frames", r.frames),
		attribute.Int("stream.skipped", r.skipped),
		attribute.Int("stream.content_len", len(res.Content)),
		attribute.Bool("stream.canceled", res.Canceled),
	)
	if res.Failed() {
		tracing.FailMessage(span, res.Error)
	} else {
		tracing.OK(span)
	}
	return res
}

// errorBody turns a non-2xx response into an error message and closes it.
func errorBody(resp *http.Response) string {
	fallback := fmt.Sprintf("http %d", resp.StatusCode)
	if text := http.StatusText(resp.StatusCode); text != "" {
		fallback += ": " + text
	}
	if resp.Body == nil {
		return fallback
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fallback
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return payload.Error
	}
	return text
}

type chunk struct {
	data []byte
	err  error
}

type reader struct {
	body    io.ReadCloser
	once    sync.Once
	opts    options
	carry   []byte
	acc     string
	frames  int
	skipped int
}

func (r *reader) release() {
	r.once.Do(func() { _ = r.body.Close() })
}

func (r *reader) logf(format string, args ...any) {
	if r.opts.logger != nil {
		r.opts.logger.Printf(format, args...)
	}
}

// pump owns the only blocking Read call. Closing the body unblocks it; stop
// keeps it from sending after run has returned.
func (r *reader) pump(chunks chan<- chunk, stop <-chan struct{}) {
	for {
		buf := make([]byte, readBufferSize)
		n, err := r.body.Read(buf)
		if n > 0 {
			select {
			case chunks <- chunk{data: buf[:n]}:
			case <-stop:
				return
			}
		}
		if err != nil {
			select {
			case chunks <- chunk{err: err}:
			case <-stop:
			}
			return
		}
	}
}

func (r *reader) run(ctx context.Context) Result {
	defer r.release()

	chunks := make(chan chunk)
	stop := make(chan struct{})
	defer close(stop)
	go r.pump(chunks, stop)

	idle := r.opts.idleTimeout
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{Content: r.acc, Canceled: true}
		case <-timer.C:
			return Result{Content: r.acc, Error: fmt.Sprintf("stream timeout: no data for %s", idle)}
		case c := <-chunks:
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return r.finish()
				}
				return Result{Content: r.acc, Error: "stream read failed: " + c.err.Error()}
			}
			timer.Reset(idle)
			if res, done := r.feed(c.data); done {
				return res
			}
		}
	}
}

var (
	delimiter = []byte(wire.Delimiter)
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
)

// feed appends data to the carry buffer and handles every complete frame.
func (r *reader) feed(data []byte) (Result, bool) {
	r.carry = append(r.carry, data...)
	if bytes.IndexByte(r.carry, '\r') >= 0 {
		r.carry = bytes.ReplaceAll(r.carry, crlf, lf)
	}
	for {
		idx := bytes.Index(r.carry, delimiter)
		if idx < 0 {
			break
		}
		frame := r.carry[:idx]
		r.carry = r.carry[idx+len(delimiter):]
		if res, done := r.handleFrame(frame); done {
			return res, true
		}
	}
	if len(r.carry) == 0 {
		r.carry = nil
	}
	return Result{}, false
}

// finish handles end of body: a trailing frame without delimiter still counts.
func (r *reader) finish() Result {
	if rest := bytes.TrimSpace(r.carry); len(rest) > 0 {
		r.carry = nil
		if res, done := r.handleFrame(rest); done {
			return res
		}
	}
	return r.complete()
}

func (r *reader) handleFrame(frame []byte) (Result, bool) {
	data, ok := wire.ParseFrame(frame)
	if !ok {
		return Result{}, false
	}
	r.frames++
	ev, err := wire.Decode(data)
	if err != nil {
		if r.opts.policy == FailOnMalformed {
			return Result{Content: r.acc, Error: err.Error()}, true
		}
		r.skipped++
		r.logf("stream: skipping frame: %v", err)
		return Result{}, false
	}
	switch ev.Kind {
	case wire.KindContent:
		r.acc = ev.Text
		if r.opts.onChunk != nil {
			r.opts.onChunk(r.acc)
		}
		return Result{}, false
	case wire.KindError:
		return Result{Content: r.acc, Error: ev.Message}, true
	default:
		return r.complete(), true
	}
}

func (r *reader) complete() Result {
	if r.opts.onComplete != nil {
		r.opts.onComplete(r.acc)
	}
	return Result{Content: r.acc}
}
