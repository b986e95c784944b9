// Package config loads process configuration: environment variables
// (optionally layered on top of a .env file via godotenv), returned as a
// validated struct rather than read ad hoc at call sites. It additionally
// loads the JSON provider-priority file, which has no env-var equivalent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/jbelanger/exitbook-sub001/internal/providers"
)

// Config holds process-wide configuration resolved from the environment
// plus, optionally, a provider-priority JSON file.
type Config struct {
	DatabaseURL string
	LogLevel    string
	LogPretty   bool

	Providers map[string][]providers.ProviderConfig // blockchain -> ordered provider configs
}

// Load reads environment variables (after loading a .env file if present)
// and, when configPath is non-empty, a provider-priority JSON file,
// validating the result and the provider file against registry. An empty
// configPath is valid: every blockchain simply has no configured providers,
// which the caller's provider manager construction will reject lazily.
func Load(configPath string, registry *providers.Registry) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", "./data/ledger.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvAsBool("LOG_PRETTY", false),
		Providers:   make(map[string][]providers.ProviderConfig),
	}

	if configPath != "" {
		providerCfg, err := loadProviderFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Providers = providerCfg
	}

	if err := cfg.Validate(registry); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields are present and, when a registry is
// given, that every configured provider name is actually registered for
// its blockchain; an unknown provider name is fatal at startup.
func (c *Config) Validate(registry *providers.Registry) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if registry == nil {
		return nil
	}
	for blockchain, configs := range c.Providers {
		if errs := registry.ValidateConfig(blockchain, configs); len(errs) > 0 {
			return fmt.Errorf("config: invalid provider configuration for %s: %v", blockchain, errs[0])
		}
	}
	return nil
}

// providerFileEntry is one provider's JSON shape in the priority file.
// Timeout is seconds on the wire (plain JSON has no duration type).
type providerFileEntry struct {
	Name            string `json:"name"`
	Priority        int    `json:"priority"`
	Enabled         bool   `json:"enabled"`
	APIKeyEnvVar    string `json:"apiKeyEnvVar,omitempty"`
	BaseURL         string `json:"baseUrl,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
	Retries         int    `json:"retries,omitempty"`
	RateLimitPerSec int    `json:"rateLimitPerSecond,omitempty"`
}

// loadProviderFile reads a JSON document of the shape
// {"<blockchain>": [{"name": "...", "priority": 1, "enabled": true, ...}]}.
func loadProviderFile(path string) (map[string][]providers.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config file: %w", err)
	}

	var raw map[string][]providerFileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse provider config file: %w", err)
	}

	out := make(map[string][]providers.ProviderConfig, len(raw))
	for blockchain, entries := range raw {
		parsed := make([]providers.ProviderConfig, 0, len(entries))
		for _, e := range entries {
			apiKey := ""
			if e.APIKeyEnvVar != "" {
				apiKey = os.Getenv(e.APIKeyEnvVar)
			}
			pc := providers.ProviderConfig{
				Name:     e.Name,
				Priority: e.Priority,
				Enabled:  e.Enabled,
				APIKey:   apiKey,
				BaseURL:  e.BaseURL,
				Retries:  e.Retries,
			}
			if e.TimeoutSeconds > 0 {
				pc.Timeout = time.Duration(e.TimeoutSeconds) * time.Second
			}
			if e.RateLimitPerSec > 0 {
				pc.RateLimit = providers.RateLimitConfig{PerSecond: e.RateLimitPerSec, Burst: e.RateLimitPerSec}
			}
			parsed = append(parsed, pc)
		}
		out[blockchain] = parsed
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
