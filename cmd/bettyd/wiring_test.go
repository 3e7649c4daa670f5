package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/openai"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		StoreDriver:        "sqlite",
		StorePath:          filepath.Join(t.TempDir(), "betty.db"),
		FallbackAdapter:    "loopback",
		BreakerMaxFailures: 3,
		BreakerTimeout:     time.Second,
		Routes: map[string]string{
			"gpt-*":    "openai",
			"claude-*": "anthropic",
			"loopback": "loopback",
		},
	}
}

func TestBuildUpstreamsLoopbackOnly(t *testing.T) {
	up, err := buildUpstreams(testConfig(t), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("buildUpstreams: %v", err)
	}
	if len(up.breakers) != 0 || len(up.endpoints) != 0 {
		t.Fatalf("unexpected providers: %v %v", up.breakers, up.endpoints)
	}
	// routes to missing providers are skipped, so gpt models use the fallback
	name, err := up.router.GetAdapterForModel("gpt-4o")
	if err != nil || name != "loopback" {
		t.Fatalf("gpt-4o routed to %q, %v", name, err)
	}

	ch, err := up.router.CreateCompletionStream(context.Background(), openai.ChatCompletionRequest{
		Model:    "loopback",
		Messages: []openai.ChatMessage{{Role: openai.RoleUser, Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var text string
	for ev := range ch {
		text += ev.Text()
	}
	if text != "[loopback] ping" {
		t.Fatalf("text = %q", text)
	}
}

func TestBuildUpstreamsWithProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = "sk-test"
	cfg.AnthropicAPIKey = "ak-test"
	cfg.AnthropicBaseURL = "http://127.0.0.1:1"
	cfg.FallbackAdapter = "openai"

	up, err := buildUpstreams(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("buildUpstreams: %v", err)
	}
	for _, name := range []string{"openai", "anthropic"} {
		if _, ok := up.breakers[name]; !ok {
			t.Fatalf("missing breaker for %s", name)
		}
	}
	if up.endpoints["openai"] != "https://api.openai.com/v1" || up.endpoints["anthropic"] != "http://127.0.0.1:1" {
		t.Fatalf("endpoints = %v", up.endpoints)
	}
	states := up.breakerStates()
	if got := states["openai"](); got != "closed" {
		t.Fatalf("openai breaker state %q", got)
	}
	for model, want := range map[string]string{"claude-3-5-sonnet": "anthropic", "gpt-4o": "openai", "mistral": "openai"} {
		if got, err := up.router.GetAdapterForModel(model); err != nil || got != want {
			t.Fatalf("%s routed to %q (%v), want %s", model, got, err, want)
		}
	}
}

func TestBuildUpstreamsUnknownFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.FallbackAdapter = "gemini"
	if _, err := buildUpstreams(cfg, log.New(io.Discard, "", 0)); err == nil {
		t.Fatal("expected error for unknown fallback")
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := testConfig(t)
	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(cfg.StorePath); err != nil {
		t.Fatalf("store file: %v", err)
	}
}

func TestLoadPersonaDefaultModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultModel = "gpt-4"
	p, err := loadPersona(cfg)
	if err != nil {
		t.Fatalf("loadPersona: %v", err)
	}
	if p.DefaultModel != "gpt-4" {
		t.Fatalf("default model = %q", p.DefaultModel)
	}
	cfg.DefaultModel = "llama"
	if _, err := loadPersona(cfg); err == nil {
		t.Fatal("expected error for model outside the persona")
	}
}
