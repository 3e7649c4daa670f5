package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/betty.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the daemon and the CLI.
type Config struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// Conversation store
	StoreDriver string // sqlite|postgres
	StorePath   string
	PostgresDSN string

	// Upstream adapter configuration
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIOrg        string
	OpenAIHeaders    map[string]string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string
	// Routing configuration: pattern=adapter pairs, comma-separated
	Routes          map[string]string
	FallbackAdapter string

	DefaultModel      string
	PersonaFile       string
	StreamIdleTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	TracingEnabled  bool
	TracingExporter string

	// CLI side
	APIBaseURL string
	UserID     string
}

// Load reads the current environment and merges setting.ini, the
// environment file and BETTY_* variables, in increasing precedence.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		values := append([]string{os.Getenv(envKey(key)), merged[key]}, fallback...)
		return firstNonEmpty(values...)
	}

	cfg := Config{
		Environment:      s.Environment,
		HTTPAddress:      get("http_address", ":8080"),
		LogFile:          get("log_file"),
		LogLevel:         strings.ToLower(get("log_level", "info")),
		StoreDriver:      strings.ToLower(get("store_driver", "sqlite")),
		StorePath:        get("store_path", DefaultStorePath()),
		PostgresDSN:      get("postgres_dsn"),
		OpenAIAPIKey:     firstNonEmpty(os.Getenv(envKey("openai_api_key")), os.Getenv("OPENAI_API_KEY"), merged["openai_api_key"]),
		OpenAIBaseURL:    get("openai_base_url"),
		OpenAIOrg:        get("openai_org"),
		OpenAIHeaders:    parseMap(get("openai_headers")),
		AnthropicAPIKey:  firstNonEmpty(os.Getenv(envKey("anthropic_api_key")), os.Getenv("ANTHROPIC_API_KEY"), merged["anthropic_api_key"]),
		AnthropicBaseURL: get("anthropic_base_url"),
		AnthropicVersion: get("anthropic_version", "2023-06-01"),
		Routes:           parseRoutes(get("routes")),
		FallbackAdapter:  get("fallback_adapter", "loopback"),
		DefaultModel:     get("default_model"),
		PersonaFile:      get("persona_file"),
		RateLimitBurst:   parseOptionalInt(get("ratelimit_burst"), 20),
		TracingEnabled:   parseBool(get("tracing_enabled")),
		TracingExporter:  strings.ToLower(get("tracing_exporter", "stdout")),
		APIBaseURL:       strings.TrimSuffix(get("api_base_url", "http://localhost:8080"), "/"),
		UserID:           get("user_id", "local"),
	}
	cfg.BreakerMaxFailures = parseOptionalInt(get("breaker_max_failures"), 5)

	// Helicone proxies authenticate with their own header.
	if key := os.Getenv("HELICONE_API_KEY"); key != "" {
		if cfg.OpenAIHeaders == nil {
			cfg.OpenAIHeaders = map[string]string{}
		}
		if _, ok := cfg.OpenAIHeaders["Helicone-Auth"]; !ok {
			cfg.OpenAIHeaders["Helicone-Auth"] = "Bearer " + key
		}
	}

	if cfg.StreamIdleTimeout, err = parseDuration("stream_idle_timeout", get("stream_idle_timeout"), 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BreakerTimeout, err = parseDuration("breaker_timeout", get("breaker_timeout"), 30*time.Second); err != nil {
		return Config{}, err
	}
	if v := get("ratelimit_rps"); v != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ratelimit_rps %q: %w", v, err)
		}
		cfg.RateLimitRPS = parsed
	} else {
		cfg.RateLimitRPS = 5
	}

	switch cfg.StoreDriver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return Config{}, errors.New("store_driver=postgres requires postgres_dsn")
		}
	default:
		return Config{}, fmt.Errorf("invalid store_driver %q", cfg.StoreDriver)
	}

	if len(cfg.Routes) == 0 {
		cfg.Routes = map[string]string{
			"gpt-*":    "openai",
			"o1*":      "openai",
			"claude-*": "anthropic",
			"loopback": "loopback",
		}
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Debug reports whether debug logging is enabled.
func (c Config) Debug() bool { return c.LogLevel == "debug" }

func envKey(key string) string {
	return "BETTY_" + strings.ToUpper(key)
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv("BETTY_ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("BETTY_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseDuration(key, v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// parseRoutes parses model routing rules from a CSV or newline-separated string.
// Format examples:
//
//	gpt-* = openai, claude-* = anthropic, loopback = loopback
//	gpt-*=>openai\nclaude-3-5-sonnet=>anthropic\nloopback=>loopback
func parseRoutes(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	routes := make(map[string]string)
	var entries []string
	for _, line := range strings.Split(input, "\n") {
		for _, p := range strings.Split(line, ",") {
			if strings.TrimSpace(p) != "" {
				entries = append(entries, p)
			}
		}
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		// support '=' or '=>'
		var kv []string
		if strings.Contains(e, "=>") {
			kv = strings.SplitN(e, "=>", 2)
		} else {
			kv = strings.SplitN(e, "=", 2)
		}
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if key != "" && val != "" {
			routes[key] = val
		}
	}
	if len(routes) == 0 {
		return nil
	}
	return routes
}

// DefaultStorePath returns the fallback conversation database under the user's home directory.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "betty.db"
	}
	return filepath.Join(home, ".betty", "betty.db")
}
