package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Config holds all CostPilot configuration.
type Config struct {
	Listen     string             `yaml:"listen"`
	LogLevel   string             `yaml:"log_level"`
	Backends   BackendsConfig     `yaml:"backends"`
	Pricing    PricingConfig      `yaml:"pricing"`
	Cache      CacheConfig        `yaml:"cache"`
	Classifier ClassifierConfig   `yaml:"classifier"`
	Gateway    GatewayConfig      `yaml:"gateway"`
	Audit      models.AuditConfig `yaml:"audit"`
}

// BackendsConfig defines the two model backends.
type BackendsConfig struct {
	Local LocalBackendConfig `yaml:"local"`
	Cloud CloudBackendConfig `yaml:"cloud"`
}

// LocalBackendConfig points at an Ollama server.
type LocalBackendConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// CloudBackendConfig points at an OpenAI-compatible chat completions API.
type CloudBackendConfig struct {
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PricingConfig carries per-tier token rates in dollars per 1K tokens.
type PricingConfig struct {
	Local TierRates `yaml:"local"`
	Cloud TierRates `yaml:"cloud"`
}

// TierRates are the rates for one tier.
type TierRates struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Backend is "redis" or "sqlite".
	Backend          string        `yaml:"backend"`
	TTL              time.Duration `yaml:"ttl"`
	Redis            RedisConfig   `yaml:"redis"`
	SQLitePath       string        `yaml:"sqlite_path"`
	MaxResponseBytes int           `yaml:"max_response_bytes"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ClassifierConfig tunes complexity classification. An empty vocabulary
// keeps the built-in list.
type ClassifierConfig struct {
	WordThreshold int      `yaml:"word_threshold"`
	Vocabulary    []string `yaml:"vocabulary"`
}

// GatewayConfig controls the HTTP serving surface.
type GatewayConfig struct {
	// APIKeys are the accepted client keys. Empty disables auth.
	APIKeys        []string      `yaml:"api_keys"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Backends: BackendsConfig{
			Local: LocalBackendConfig{
				URL:     "http://localhost:11434/api/generate",
				Model:   "llama3.1:8b",
				Timeout: 60 * time.Second,
			},
			Cloud: CloudBackendConfig{
				URL:         "https://api.llmapi.com/v1/chat/completions",
				Model:       "llama3.3-70b",
				MaxTokens:   500,
				Temperature: 0.7,
				Timeout:     30 * time.Second,
			},
		},
		Pricing: PricingConfig{
			Local: TierRates{InputPer1K: 0.0001, OutputPer1K: 0.0002},
			Cloud: TierRates{InputPer1K: 0.0006, OutputPer1K: 0.0006},
		},
		Cache: CacheConfig{
			Backend:          "redis",
			TTL:              time.Hour,
			Redis:            RedisConfig{Addr: "localhost:6379"},
			SQLitePath:       "costpilot-cache.db",
			MaxResponseBytes: 4096,
		},
		Classifier: ClassifierConfig{
			WordThreshold: 12,
		},
		Gateway: GatewayConfig{
			RequestTimeout: 90 * time.Second,
		},
		Audit: models.AuditConfig{
			Enabled:         true,
			DBPath:          "costpilot-audit.db",
			RetentionDays:   30,
			MaxResponseSize: 4096,
		},
	}
}

// Load reads a YAML config file and expands environment variables, so
// api_key can be "${LLM_API_KEY}".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations that would fail at first use. The cloud
// API key in particular is checked here so a missing credential surfaces
// at startup, not on the first complex query.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return &ConfigError{Field: "listen", Reason: "must not be empty"}
	}
	if c.Backends.Local.URL == "" {
		return &ConfigError{Field: "backends.local.url", Reason: "must not be empty"}
	}
	if c.Backends.Cloud.URL == "" {
		return &ConfigError{Field: "backends.cloud.url", Reason: "must not be empty"}
	}
	if c.Backends.Cloud.APIKey == "" {
		return &ConfigError{Field: "backends.cloud.api_key", Reason: "missing credential"}
	}
	switch c.Cache.Backend {
	case "redis", "sqlite":
	default:
		return &ConfigError{Field: "cache.backend", Reason: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	if c.Cache.TTL <= 0 {
		return &ConfigError{Field: "cache.ttl", Reason: "must be positive"}
	}
	if c.Pricing.Local.InputPer1K < 0 || c.Pricing.Local.OutputPer1K < 0 ||
		c.Pricing.Cloud.InputPer1K < 0 || c.Pricing.Cloud.OutputPer1K < 0 {
		return &ConfigError{Field: "pricing", Reason: "rates must not be negative"}
	}
	return nil
}

// Table builds the pricing table from the configured rates, keeping the
// default model labels.
func (c *Config) Table() pricing.Table {
	t := pricing.DefaultTable()
	local := t.Rates(pricing.TierLocal)
	local.InputPer1K = c.Pricing.Local.InputPer1K
	local.OutputPer1K = c.Pricing.Local.OutputPer1K
	cloud := t.Rates(pricing.TierCloud)
	cloud.InputPer1K = c.Pricing.Cloud.InputPer1K
	cloud.OutputPer1K = c.Pricing.Cloud.OutputPer1K
	return pricing.NewTable(local, cloud)
}
