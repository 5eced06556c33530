// Package config loads gateway configuration from an optional YAML file
// merged with environment variables. Environment values win. A missing
// provider key is "not configured", never a startup error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the process-level credentials for one provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// StorageConfig selects the subscription store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory|sqlite|postgres
	Path   string `yaml:"path"`   // sqlite file path
	DSN    string `yaml:"dsn"`    // postgres DSN
}

// RateLimitConfig holds the per-user token bucket knobs.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             float64 `yaml:"burst"`
}

// Config describes runtime options for the gateway daemon.
type Config struct {
	Port         int             `yaml:"port"`
	AuthSecret   string          `yaml:"auth_secret"`
	AuthDisabled bool            `yaml:"auth_disabled"`
	LogFile      string          `yaml:"log_file"`
	LogLevel     string          `yaml:"log_level"`
	Storage      StorageConfig   `yaml:"storage"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`

	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Google    ProviderConfig `yaml:"google"`
	Stability ProviderConfig `yaml:"stability"`
}

// Load reads the YAML file at path (when it exists) and applies environment
// overrides. An empty path checks the default location only.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = "config/gateway.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// config file is optional
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	if cfg.Port <= 0 {
		cfg.Port = 5000
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Port:     5000,
		LogLevel: "info",
		Storage:  StorageConfig{Driver: "memory", Path: "data/subscriptions.db"},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		OpenAI:    ProviderConfig{BaseURL: "https://api.openai.com/v1"},
		Anthropic: ProviderConfig{BaseURL: "https://api.anthropic.com"},
		Google:    ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com"},
		Stability: ProviderConfig{BaseURL: "https://api.stability.ai"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	cfg.AuthSecret = firstNonEmpty(os.Getenv("JWT_SECRET"), cfg.AuthSecret)
	if v := os.Getenv("AUTH_DISABLED"); v != "" {
		cfg.AuthDisabled = parseBool(v)
	}
	cfg.LogFile = firstNonEmpty(os.Getenv("LOG_FILE"), cfg.LogFile)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.LogLevel)

	cfg.Storage.Driver = firstNonEmpty(os.Getenv("STORAGE_DRIVER"), cfg.Storage.Driver)
	cfg.Storage.Path = firstNonEmpty(os.Getenv("STORAGE_PATH"), cfg.Storage.Path)
	cfg.Storage.DSN = firstNonEmpty(os.Getenv("DATABASE_URL"), cfg.Storage.DSN)

	cfg.OpenAI.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), cfg.OpenAI.BaseURL)
	cfg.Anthropic.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.Anthropic.APIKey)
	cfg.Anthropic.BaseURL = firstNonEmpty(os.Getenv("ANTHROPIC_BASE_URL"), cfg.Anthropic.BaseURL)
	cfg.Google.APIKey = firstNonEmpty(os.Getenv("GOOGLE_AI_API_KEY"), cfg.Google.APIKey)
	cfg.Google.BaseURL = firstNonEmpty(os.Getenv("GOOGLE_AI_BASE_URL"), cfg.Google.BaseURL)
	cfg.Stability.APIKey = firstNonEmpty(os.Getenv("STABILITY_API_KEY"), cfg.Stability.APIKey)
	cfg.Stability.BaseURL = firstNonEmpty(os.Getenv("STABILITY_BASE_URL"), cfg.Stability.BaseURL)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
