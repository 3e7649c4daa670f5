// Package router picks the upstream adapter for a model name.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/askbetty/betty/internal/adapter"
	"github.com/askbetty/betty/internal/openai"
)

var _ adapter.StreamingChatAdapter = (*Router)(nil)

var (
	// ErrNoRoute is returned when no rule matches and no fallback is set.
	ErrNoRoute = errors.New("router: no adapter for model")
	// ErrNotStreaming is returned when the selected adapter cannot stream.
	ErrNotStreaming = errors.New("router: adapter does not stream")
)

// rule maps a model pattern to a registered adapter name. Patterns are
// lower-case globs where '*' matches any run of characters.
type rule struct {
	pattern string
	adapter string
	literal int // non-wildcard characters, higher is more specific
}

// Router dispatches requests to named adapters by model pattern. Exact
// patterns win over globs; among globs the one with the most literal
// characters wins, ties broken alphabetically, so resolution never depends
// on registration order.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]adapter.ChatAdapter
	rules    []rule
	fallback string
}

func New() *Router {
	return &Router{adapters: make(map[string]adapter.ChatAdapter)}
}

// RegisterAdapter adds or replaces the adapter called name.
func (r *Router) RegisterAdapter(name string, a adapter.ChatAdapter) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("router: adapter name cannot be empty")
	}
	if a == nil {
		return fmt.Errorf("router: adapter %q is nil", name)
	}
	r.mu.Lock()
	r.adapters[name] = a
	r.mu.Unlock()
	return nil
}

// RegisterRoute sends models matching pattern to the named adapter, which
// must already be registered. Registering a pattern again replaces it.
func (r *Router) RegisterRoute(pattern, adapterName string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return errors.New("router: model pattern cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[adapterName]; !ok {
		return fmt.Errorf("router: adapter %q not registered", adapterName)
	}
	next := rule{pattern: pattern, adapter: adapterName, literal: len(strings.ReplaceAll(pattern, "*", ""))}
	for i := range r.rules {
		if r.rules[i].pattern == pattern {
			r.rules[i] = next
			return nil
		}
	}
	r.rules = append(r.rules, next)
	sort.SliceStable(r.rules, func(i, j int) bool {
		a, b := r.rules[i], r.rules[j]
		aExact, bExact := !strings.Contains(a.pattern, "*"), !strings.Contains(b.pattern, "*")
		if aExact != bExact {
			return aExact
		}
		if a.literal != b.literal {
			return a.literal > b.literal
		}
		return a.pattern < b.pattern
	})
	return nil
}

// SetFallback names the adapter used when no rule matches. An empty name
// clears it.
func (r *Router) SetFallback(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		if _, ok := r.adapters[name]; !ok {
			return fmt.Errorf("router: fallback adapter %q not registered", name)
		}
	}
	r.fallback = name
	return nil
}

func (r *Router) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	_, a, err := r.resolve(req.Model)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return a.CreateCompletion(ctx, req)
}

func (r *Router) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	name, a, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	s, ok := a.(adapter.StreamingChatAdapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotStreaming, name)
	}
	return s.CreateCompletionStream(ctx, req)
}

// GetAdapterForModel reports which adapter would serve model.
func (r *Router) GetAdapterForModel(model string) (string, error) {
	name, _, err := r.resolve(model)
	return name, err
}

func (r *Router) resolve(model string) (string, adapter.ChatAdapter, error) {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return "", nil, errors.New("router: model name required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := r.fallback
	for _, rl := range r.rules {
		if matchGlob(rl.pattern, model) {
			name = rl.adapter
			break
		}
	}
	if name == "" {
		return "", nil, fmt.Errorf("%w %q", ErrNoRoute, model)
	}
	return name, r.adapters[name], nil
}

// matchGlob reports whether s matches pattern, where '*' matches any
// (possibly empty) run of characters.
func matchGlob(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return len(s) >= len(last) && strings.HasSuffix(s, last)
}

// ListAdapters returns the registered adapter names, sorted.
func (r *Router) ListAdapters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRoutes returns a copy of the pattern to adapter table.
func (r *Router) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[string]string, len(r.rules))
	for _, rl := range r.rules {
		routes[rl.pattern] = rl.adapter
	}
	return routes
}
