package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.5, Burst: 2})
	defer limiter.Close()

	var rejected []string
	mw := NewMiddleware(limiter, true, nil,
		func(r *http.Request) string { return r.Header.Get("X-User-ID") },
		func(key string) { rejected = append(rejected, key) })
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		rec := do("educator-1")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("missing limit header: %v", rec.Header())
		}
	}

	rec := do("educator-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if !strings.Contains(rec.Body.String(), `"error":"Rate limit exceeded`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if len(rejected) != 1 || rejected[0] != "educator-1" {
		t.Fatalf("unexpected rejections %v", rejected)
	}

	// anonymous requests pass without headers
	rec = do("")
	if rec.Code != http.StatusNoContent || rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("anonymous request: %d %v", rec.Code, rec.Header())
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, Burst: 1})
	defer limiter.Close()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	mw := NewMiddleware(limiter, false, nil, nil, nil)
	if got := mw.Wrap(next); got == nil {
		t.Fatal("nil handler")
	}
	rec := httptest.NewRecorder()
	for i := 0; i < 3; i++ {
		mw.Wrap(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled middleware limited a request: %d", rec.Code)
	}
}
