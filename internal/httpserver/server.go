// Package httpserver exposes the chat API over HTTP.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/askbetty/betty/internal/chat"
	"github.com/askbetty/betty/internal/chatstore"
	"github.com/askbetty/betty/internal/health"
	"github.com/askbetty/betty/internal/logging"
	"github.com/askbetty/betty/internal/metrics"
	"github.com/askbetty/betty/internal/ratelimit"
	"github.com/askbetty/betty/internal/suggest"
)

// UserHeader names the caller. Authentication happens in front of bettyd.
const UserHeader = "X-User-ID"

// AnonymousUser owns requests that carry no UserHeader.
const AnonymousUser = "anonymous"

const maxBodyBytes = 1 << 20

// Options wires the server's collaborators. Store, Health, Metrics and
// Limiter may be nil; without a Store the conversation routes are absent.
type Options struct {
	Producer  *chat.Producer
	Suggest   *suggest.Generator
	Store     chatstore.Store
	Health    *health.Checker
	Metrics   *metrics.Collector
	Limiter   *ratelimit.Limiter
	RateLimit bool
}

// Server routes API requests to the producer, generator and store.
type Server struct {
	producer *chat.Producer
	suggest  *suggest.Generator
	store    chatstore.Store
	health   *health.Checker
	metrics  *metrics.Collector

	limiter          *ratelimit.Limiter
	rateLimitEnabled bool

	logger logging.Leveled
}

// New builds a Server.
func New(opts Options) *Server {
	s := &Server{
		producer: opts.Producer,
		suggest:  opts.Suggest,
		store:    opts.Store,
		health:   opts.Health,
		metrics:  opts.Metrics,

		limiter:          opts.Limiter,
		rateLimitEnabled: opts.RateLimit,

		logger: logging.NewLeveled(log.New(io.Discard, "", 0), "info"),
	}
	return s
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	if logger == nil {
		return
	}
	s.logger = logging.NewLeveled(logger, level)
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger.Logger, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	s.registerEndpoints(r, newOpsEndpoint(s))
	limit := ratelimit.NewMiddleware(s.limiter, s.rateLimitEnabled, s.logger.Logger, rateLimitKey, s.metrics.RecordRateLimitHit)
	r.Route("/api", func(api chi.Router) {
		api.Use(limit.Wrap)
		s.registerEndpoints(api, newChatEndpoint(s), newAssistEndpoint(s))
		if s.store != nil {
			s.registerEndpoints(api, newConversationEndpoint(s))
		}
	})
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...endpoint) {
	for _, ep := range endpoints {
		s.logger.Debugf("registering endpoint %s", ep.Name())
		for _, rt := range ep.Routes() {
			r.Method(rt.Method, rt.Path, rt.Handler)
		}
	}
}

// instrument records per-route latency and 5xx responses, and in-flight
// requests per method.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RecordRequestStart(r.Method)
		defer s.metrics.RecordRequestEnd(r.Method)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.Method + " " + r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = r.Method + " " + pattern
			}
		}
		s.metrics.RecordRequest(route, time.Since(start))
		if ww.Status() >= http.StatusInternalServerError {
			s.metrics.RecordError(route)
		}
	})
}

// userID returns the caller named by UserHeader, or AnonymousUser.
func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
		return id
	}
	return AnonymousUser
}

// rateLimitKey buckets by user, falling back to the client address.
func rateLimitKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	if status >= http.StatusInternalServerError {
		s.logger.Printf("error status=%d err=%v", status, err)
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
