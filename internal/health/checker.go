// Package health probes the chat store, upstream providers and circuit
// breakers and rolls the results up into one status.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the health of one component or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component kinds.
const (
	KindStore    = "database"
	KindUpstream = "http"
	KindBreaker  = "breaker"
)

// Component is the result of one probe.
type Component struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Critical  bool      `json:"critical,omitempty"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the rolled up result of one Check.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// HTTPStatus maps the overall status to a response code; only unhealthy
// answers 503.
func (h HealthStatus) HTTPStatus() int {
	if h.Status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Pinger is satisfied by the conversation store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateFunc reports a circuit breaker state name: closed, half-open or open.
type StateFunc func() string

// Config selects what the checker probes.
type Config struct {
	// Store is critical: when it fails the service is unhealthy.
	Store Pinger
	// Upstreams maps provider name to the base URL probed with a GET.
	Upstreams map[string]string
	// Breakers maps provider name to its breaker state.
	Breakers map[string]StateFunc

	StoreTimeout    time.Duration // default 2s
	UpstreamTimeout time.Duration // default 5s
	// SlowStore marks a store ping above this latency as degraded.
	SlowStore time.Duration // default 100ms
}

type probe struct {
	name     string
	kind     string
	critical bool
	run      func(ctx context.Context) (Status, string, error)
}

// Checker runs the configured probes concurrently.
type Checker struct {
	probes []probe

	mu   sync.RWMutex
	last HealthStatus
}

func New(cfg Config) *Checker {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 5 * time.Second
	}
	if cfg.SlowStore <= 0 {
		cfg.SlowStore = 100 * time.Millisecond
	}

	c := &Checker{}
	if cfg.Store != nil {
		c.probes = append(c.probes, probe{
			name: "chat_store", kind: KindStore, critical: true,
			run: storeProbe(cfg.Store, cfg.StoreTimeout, cfg.SlowStore),
		})
	}
	client := &http.Client{Timeout: cfg.UpstreamTimeout}
	for name, url := range cfg.Upstreams {
		c.probes = append(c.probes, probe{name: name + "_api", kind: KindUpstream, run: upstreamProbe(client, url)})
	}
	for name, state := range cfg.Breakers {
		c.probes = append(c.probes, probe{name: name + "_breaker", kind: KindBreaker, run: breakerProbe(state)})
	}
	sort.Slice(c.probes, func(i, j int) bool { return c.probes[i].name < c.probes[j].name })
	return c
}

// Check runs every probe and returns the overall status. Components are
// ordered by name.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	components := make([]Component, len(c.probes))
	var wg sync.WaitGroup
	for i, p := range c.probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			start := time.Now()
			status, msg, err := p.run(ctx)
			comp := Component{
				Name:      p.name,
				Type:      p.kind,
				Critical:  p.critical,
				Status:    status,
				Message:   msg,
				LatencyMs: time.Since(start).Milliseconds(),
				Timestamp: start.UTC(),
			}
			if err != nil {
				comp.Error = err.Error()
			}
			components[i] = comp
		}(i, p)
	}
	wg.Wait()

	out := rollup(components)
	c.mu.Lock()
	c.last = out
	c.mu.Unlock()
	return out
}

// GetLastStatus returns the result of the most recent Check, or healthy
// when none has run.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last.Status == "" {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Components: []Component{}}
	}
	return c.last
}

// rollup: any failing critical component makes the service unhealthy; any
// other non-healthy component makes it degraded.
func rollup(components []Component) HealthStatus {
	overall := StatusHealthy
	for _, comp := range components {
		switch {
		case comp.Status == StatusHealthy:
		case comp.Critical && comp.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case overall != StatusUnhealthy:
			overall = StatusDegraded
		}
	}
	return HealthStatus{Status: overall, Timestamp: time.Now().UTC(), Components: components}
}

func storeProbe(db Pinger, timeout, slow time.Duration) func(context.Context) (Status, string, error) {
	return func(ctx context.Context) (Status, string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := db.Ping(ctx); err != nil {
			return StatusUnhealthy, "database unreachable", err
		}
		if d := time.Since(start); d > slow {
			return StatusDegraded, fmt.Sprintf("high latency: %v", d.Round(time.Millisecond)), nil
		}
		return StatusHealthy, "connected", nil
	}
}

// upstreamProbe treats any HTTP answer, 4xx and 5xx included, as reachable.
func upstreamProbe(client *http.Client, baseURL string) func(context.Context) (Status, string, error) {
	return func(ctx context.Context) (Status, string, error) {
		if baseURL == "" {
			return StatusHealthy, "not configured", nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return StatusUnhealthy, "invalid endpoint", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return StatusDegraded, "endpoint unreachable", err
		}
		resp.Body.Close()
		return StatusHealthy, fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode), nil
	}
}

func breakerProbe(state StateFunc) func(context.Context) (Status, string, error) {
	return func(context.Context) (Status, string, error) {
		switch s := state(); s {
		case "open", "half-open":
			return StatusDegraded, s, nil
		default:
			return StatusHealthy, s, nil
		}
	}
}
