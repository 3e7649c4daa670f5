package testutil

import (
	"net/http"
	"time"
)

// SSEHandler answers every request with the given raw frames, flushing after
// each one and pausing delay between them. Frames are written verbatim, so
// callers include the "data: " prefix and blank-line terminator.
func SSEHandler(delay time.Duration, frames ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i, f := range frames {
			if i > 0 && delay > 0 {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(delay):
				}
			}
			if _, err := w.Write([]byte(f)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
}

// DataFrame formats payload as a single SSE data frame.
func DataFrame(payload string) string {
	return "data: " + payload + "\n\n"
}
