package ratelimit

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(r *http.Request) string

// Middleware wraps an HTTP handler with rate limiting.
type Middleware struct {
	limiter  *Limiter
	enabled  bool
	logger   *log.Logger
	key      KeyFunc
	onReject func(key string)
}

// NewMiddleware creates a rate limiting middleware keyed by key. onReject may
// be nil.
func NewMiddleware(limiter *Limiter, enabled bool, logger *log.Logger, key KeyFunc, onReject func(string)) *Middleware {
	return &Middleware{
		limiter:  limiter,
		enabled:  enabled,
		logger:   logger,
		key:      key,
		onReject: onReject,
	}
}

// Wrap applies rate limiting to an HTTP handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled || m.limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if m.key != nil {
			key = m.key(r)
		}
		d := m.limiter.Allow(key)
		if key != "" {
			addRateLimitHeaders(w.Header(), d)
		}
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			if m.logger != nil {
				m.logger.Printf("rate limit exceeded: key=%s path=%s retry_after=%ds", key, r.URL.Path, retry)
			}
			if m.onReject != nil {
				m.onReject(key)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded. Please try again later."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// addRateLimitHeaders adds standard rate limit headers to the response.
// See: https://datatracker.ietf.org/doc/html/draft-polli-ratelimit-headers
func addRateLimitHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.Reset > 0 {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.Reset).Unix(), 10))
	}
}
