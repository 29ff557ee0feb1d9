package models

import (
	"time"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// AuditEntry is one row in the query audit trail. The prompt itself is
// never stored; PromptHash is the same hex16 SHA-256 digest used for the
// cache key, so audit rows and cache entries correlate.
type AuditEntry struct {
	RequestID        string       `json:"request_id"`
	PromptHash       string       `json:"prompt_hash"`
	ClientKeyPrefix  string       `json:"client_key_prefix"`
	Outcome          string       `json:"outcome"` // cache_hit, cache_miss, blocked, failed
	Tier             pricing.Tier `json:"tier,omitempty"`
	Cost             float64      `json:"cost"`
	PromptTokens     float64      `json:"prompt_tokens"`
	CompletionTokens float64      `json:"completion_tokens"`
	Estimated        bool         `json:"estimated,omitempty"`
	// Response is truncated to the configured maximum before storage.
	Response  string    `json:"response,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// SecurityEvent records an auth failure or a blocked injection attempt.
type SecurityEvent struct {
	Event           string    `json:"event"`
	Severity        string    `json:"severity"`
	Detail          string    `json:"detail"`
	ClientKeyPrefix string    `json:"client_key_prefix"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditConfig controls the audit subsystem.
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DBPath          string `yaml:"db_path"`
	RetentionDays   int    `yaml:"retention_days"`
	MaxResponseSize int    `yaml:"max_response_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	RequestID string
	Outcome   string
	Tier      pricing.Tier
	Since     time.Time
	Limit     int
}
