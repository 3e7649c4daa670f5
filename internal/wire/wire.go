// Package wire defines the SSE frame format exchanged between the chat
// stream producer and its consumers.
//
// Every frame is a single `data: <json>\n\n` unit. Content frames carry the
// full assistant text accumulated so far, never a delta, so a consumer only
// ever assigns the latest snapshot.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	// DataPrefix starts every payload line of a frame.
	DataPrefix = "data:"
	// Delimiter separates frames on the wire.
	Delimiter = "\n\n"
	// UpstreamDone is the OpenAI-style terminator; accepted as Done on decode.
	UpstreamDone = "[DONE]"
)

// ErrMalformed marks a frame payload that is not a recognised event.
var ErrMalformed = errors.New("wire: malformed frame")

// Kind tags the variant held by an Event.
type Kind int

const (
	KindContent Kind = iota + 1
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one decoded frame.
type Event struct {
	Kind    Kind
	Text    string // KindContent: accumulated assistant text
	Message string // KindError
}

// Content builds a content event carrying the accumulated text.
func Content(text string) Event { return Event{Kind: KindContent, Text: text} }

// Error builds a terminal error event.
func Error(message string) Event { return Event{Kind: KindError, Message: message} }

// Done builds the terminal completion event.
func Done() Event { return Event{Kind: KindDone} }

// Terminal reports whether no further events may follow e.
func (e Event) Terminal() bool {
	return e.Kind == KindError || e.Kind == KindDone
}

// payload is the JSON body of a frame. Pointers distinguish absent keys from
// empty values.
type payload struct {
	Content *string `json:"content,omitempty"`
	Error   *string `json:"error,omitempty"`
	Done    bool    `json:"done,omitempty"`
}

// Marshal returns the JSON payload for e without framing.
func Marshal(e Event) ([]byte, error) {
	var p payload
	switch e.Kind {
	case KindContent:
		text := e.Text
		p.Content = &text
	case KindError:
		msg := e.Message
		if msg == "" {
			msg = "unknown error"
		}
		p.Error = &msg
	case KindDone:
		empty := ""
		p.Content = &empty
		p.Done = true
	default:
		return nil, fmt.Errorf("wire: cannot encode %s", e.Kind)
	}
	return json.Marshal(p)
}

// Encode returns the complete frame for e, delimiter included.
func Encode(e Event) ([]byte, error) {
	body, err := Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(DataPrefix)+1+len(Delimiter))
	out = append(out, DataPrefix...)
	out = append(out, ' ')
	out = append(out, body...)
	out = append(out, Delimiter...)
	return out, nil
}

// WriteEvent encodes e and writes it to w in one call.
func WriteEvent(w io.Writer, e Event) error {
	frame, err := Encode(e)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decode classifies a frame payload (the text after `data:`).
func Decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if string(data) == UpstreamDone {
		return Done(), nil
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case p.Done:
		return Done(), nil
	case p.Error != nil && *p.Error != "":
		return Error(*p.Error), nil
	case p.Content != nil:
		return Content(*p.Content), nil
	default:
		return Event{}, fmt.Errorf("%w: no content, error or done key", ErrMalformed)
	}
}

// ParseFrame extracts the data payload of one frame. Multiple data lines are
// joined with "\n"; comment lines and other SSE fields are ignored. ok is
// false when the frame carries no data line (keep-alive comments, bare
// event: lines).
func ParseFrame(frame []byte) (data []byte, ok bool) {
	var lines [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte(DataPrefix)) {
			continue
		}
		value := line[len(DataPrefix):]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		lines = append(lines, value)
	}
	if len(lines) == 0 {
		return nil, false
	}
	return bytes.Join(lines, []byte("\n")), true
}

// SetStreamHeaders prepares a response for incremental SSE delivery.
// X-Accel-Buffering stops nginx-style proxies from holding the body.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
