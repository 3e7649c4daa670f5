package stream

import (
	"context"
	"net/http"
)

// Subscribe runs Read in a goroutine and exposes progress as channels.
// updates carries accumulated snapshots and is closed before the single
// Result is delivered on done. Callers must drain updates or cancel ctx.
func Subscribe(ctx context.Context, resp *http.Response, opts ...Option) (updates <-chan string, done <-chan Result) {
	up := make(chan string, 16)
	out := make(chan Result, 1)

	o := newOptions(opts)
	userChunk := o.onChunk
	o.onChunk = func(accumulated string) {
		if userChunk != nil {
			userChunk(accumulated)
		}
		select {
		case up <- accumulated:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(out)
		res := read(ctx, resp, o)
		close(up)
		out <- res
	}()
	return up, out
}
