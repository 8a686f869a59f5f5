// Package config loads server configuration once at startup. The upstream
// credential lives only here; request handlers receive it by reference and
// never read the environment themselves.
package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Storage  StorageConfig  `koanf:"storage"`
}

type ServerConfig struct {
	Port int `koanf:"port"`

	// AllowedOrigin optionally exposes the ask routes cross-origin. Empty
	// means same-origin only.
	AllowedOrigin string `koanf:"allowed_origin"`
}

type UpstreamConfig struct {
	// BaseURL is the reasoning service's base URL. Its absence is a hard
	// configuration error surfaced per request, never a crash.
	BaseURL string `koanf:"base_url"`

	// APIKey is the server-held credential injected on every upstream call.
	// Its absence degrades to forwarding without the header.
	APIKey string `koanf:"api_key"`

	// Timeout is the per-call upstream timeout as a duration string.
	Timeout string `koanf:"timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // none, memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// Aliases accepted for values commonly set as bare environment variables by
// deploy tooling. First non-empty wins; koanf-sourced values take precedence.
var (
	baseURLAliases = []string{"AGENT_BASE_URL", "UPSTREAM_BASE_URL"}
	apiKeyAliases  = []string{"AGENT_API_KEY", "ASK_API_KEY", "API_KEY"}
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load from config.yaml file first
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("ASKRELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ASKRELAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "none")
	}
	if !k.Exists("upstream.timeout") {
		k.Set("upstream.timeout", "60s")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute ${VAR} references so secrets can stay out of config.yaml
	cfg.Upstream.BaseURL = substituteEnvVars(cfg.Upstream.BaseURL)
	cfg.Upstream.APIKey = substituteEnvVars(cfg.Upstream.APIKey)

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = firstNonEmptyEnv(baseURLAliases)
	}
	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = firstNonEmptyEnv(apiKeyAliases)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func firstNonEmptyEnv(names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
