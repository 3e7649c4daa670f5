package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPersona(t *testing.T) {
	p := DefaultPersona()
	if err := p.Validate(); err != nil {
		t.Fatalf("default persona invalid: %v", err)
	}
	if !strings.HasPrefix(p.SystemPrompt, "You are Betty") {
		t.Fatalf("unexpected system prompt %q", p.SystemPrompt[:40])
	}
	if !p.HasModel("gpt-4o") || p.HasModel("gpt-5") {
		t.Fatalf("unexpected model list %#v", p.Models)
	}
	if p.DefaultModel != "gpt-4o" || p.AuxModel != "gpt-4o-mini" {
		t.Fatalf("unexpected models %s/%s", p.DefaultModel, p.AuxModel)
	}
	if p.Temperature != 0.7 || p.MaxTokens != 1000 {
		t.Fatalf("unexpected sampling %v/%d", p.Temperature, p.MaxTokens)
	}
}

func TestLoadPersonaEmptyPath(t *testing.T) {
	p, err := LoadPersona("")
	if err != nil {
		t.Fatalf("LoadPersona: %v", err)
	}
	if p.Greeting != DefaultPersona().Greeting {
		t.Fatalf("expected default greeting")
	}
}

func TestLoadPersonaOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	content := `name: Betty Test
greeting: Hello from the test persona.
default_model: loopback
models:
  - id: loopback
    name: Loopback
  - id: gpt-4o
    name: GPT-4o
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("LoadPersona: %v", err)
	}
	if p.Name != "Betty Test" || p.Greeting != "Hello from the test persona." {
		t.Fatalf("overrides not applied: %#v", p)
	}
	if p.SystemPrompt != DefaultPersona().SystemPrompt {
		t.Fatalf("system prompt should keep default")
	}
	if len(p.Models) != 2 || !p.HasModel("loopback") || p.HasModel("o1-preview") {
		t.Fatalf("unexpected models %#v", p.Models)
	}
	if p.Temperature != 0.7 || p.MaxTokens != 1000 {
		t.Fatalf("sampling should keep defaults, got %v/%d", p.Temperature, p.MaxTokens)
	}
}

func TestLoadPersonaSampling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("temperature: 0\nmax_tokens: 400\n"), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("LoadPersona: %v", err)
	}
	if p.Temperature != 0 || p.MaxTokens != 400 {
		t.Fatalf("sampling overrides not applied: %v/%d", p.Temperature, p.MaxTokens)
	}
}

func TestLoadPersonaErrors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"yaml", "models: [unclosed", "parse persona"},
		{"default model", "default_model: claude-9\n", "default model"},
		{"empty id", "default_model: x\nmodels:\n  - id: x\n  - name: nameless\n", "empty id"},
		{"temperature", "temperature: 3.5\n", "temperature"},
		{"max tokens", "max_tokens: -1\n", "max_tokens"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadPersona(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if _, err := LoadPersona(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
