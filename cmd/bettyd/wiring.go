package main

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/askbetty/betty/internal/adapter"
	adapteranthropic "github.com/askbetty/betty/internal/adapter/anthropic"
	"github.com/askbetty/betty/internal/adapter/breaker"
	"github.com/askbetty/betty/internal/adapter/loopback"
	adapteropenai "github.com/askbetty/betty/internal/adapter/openai"
	adapterrouter "github.com/askbetty/betty/internal/adapter/router"
	"github.com/askbetty/betty/internal/chatstore"
	"github.com/askbetty/betty/internal/chatstore/postgres"
	"github.com/askbetty/betty/internal/chatstore/sqlite"
	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/health"
)

const upstreamTimeout = 60 * time.Second

// upstreams is the adapter graph built from configuration.
type upstreams struct {
	router   *adapterrouter.Router
	breakers map[string]*breaker.Adapter
	// base URLs probed by the health checker
	endpoints map[string]string
}

func (u upstreams) breakerStates() map[string]health.StateFunc {
	out := make(map[string]health.StateFunc, len(u.breakers))
	for name, b := range u.breakers {
		b := b
		out[name] = func() string { return b.State().String() }
	}
	return out
}

// buildUpstreams registers loopback plus each provider that has a key,
// each behind its own circuit breaker, then applies the route table.
func buildUpstreams(cfg config.Config, logger *log.Logger) (upstreams, error) {
	u := upstreams{
		router:    adapterrouter.New(),
		breakers:  map[string]*breaker.Adapter{},
		endpoints: map[string]string{},
	}
	lb := loopback.New(loopback.WithDelay(20 * time.Millisecond))
	if err := u.router.RegisterAdapter("loopback", lb); err != nil {
		return upstreams{}, err
	}

	guard := func(name string, inner adapter.StreamingChatAdapter) adapter.StreamingChatAdapter {
		b := breaker.New(inner, breaker.Config{
			Name:        name,
			MaxFailures: uint32(max(cfg.BreakerMaxFailures, 1)),
			Timeout:     cfg.BreakerTimeout,
		}, logger)
		u.breakers[name] = b
		return b
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		oa, err := adapteropenai.New(adapteropenai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Organization:   cfg.OpenAIOrg,
			RequestTimeout: upstreamTimeout,
			Headers:        cfg.OpenAIHeaders,
		})
		if err != nil {
			logger.Printf("openai adapter init failed: %v", err)
		} else if err := u.router.RegisterAdapter("openai", guard("openai", oa)); err != nil {
			return upstreams{}, err
		} else {
			u.endpoints["openai"] = firstNonEmpty(cfg.OpenAIBaseURL, "https://api.openai.com/v1")
		}
	}

	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		aa, err := adapteranthropic.New(adapteranthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			BaseURL:        cfg.AnthropicBaseURL,
			Version:        cfg.AnthropicVersion,
			RequestTimeout: upstreamTimeout,
		})
		if err != nil {
			logger.Printf("anthropic adapter init failed: %v", err)
		} else if err := u.router.RegisterAdapter("anthropic", guard("anthropic", aa)); err != nil {
			return upstreams{}, err
		} else {
			u.endpoints["anthropic"] = firstNonEmpty(cfg.AnthropicBaseURL, "https://api.anthropic.com")
		}
	}

	patterns := make([]string, 0, len(cfg.Routes))
	for pattern := range cfg.Routes {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		if err := u.router.RegisterRoute(pattern, cfg.Routes[pattern]); err != nil {
			logger.Printf("route rule %q=>%q skipped: %v", pattern, cfg.Routes[pattern], err)
		}
	}

	if fb := cfg.FallbackAdapter; fb != "" && fb != "none" {
		if err := u.router.SetFallback(fb); err != nil {
			return upstreams{}, fmt.Errorf("fallback adapter %q is not configured: %w", fb, err)
		}
	}

	logger.Printf("adapters registered: %v", u.router.ListAdapters())
	logger.Printf("routes configured: %v", u.router.ListRoutes())
	return u, nil
}

// openStore opens the configured conversation store.
func openStore(cfg config.Config) (chatstore.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return postgres.New(cfg.PostgresDSN, postgres.PoolConfig{
			MaxOpen:     20,
			MaxIdle:     5,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		})
	default:
		return sqlite.New(cfg.StorePath)
	}
}

// loadPersona reads the persona and applies the configured default model.
func loadPersona(cfg config.Config) (config.Persona, error) {
	persona, err := config.LoadPersona(cfg.PersonaFile)
	if err != nil {
		return config.Persona{}, err
	}
	if m := strings.TrimSpace(cfg.DefaultModel); m != "" {
		if !persona.HasModel(m) {
			return config.Persona{}, fmt.Errorf("default_model %q is not offered by the persona", m)
		}
		persona.DefaultModel = m
	}
	return persona, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
