package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

func newTestLogger(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "audit_test.db")
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testAuditEntry(requestID string) models.AuditEntry {
	return models.AuditEntry{
		RequestID:        requestID,
		PromptHash:       "2cf24dba5fb0a30e",
		ClientKeyPrefix:  "cp_12345",
		Outcome:          "cache_miss",
		Tier:             pricing.TierLocal,
		Cost:             0.000123,
		PromptTokens:     10,
		CompletionTokens: 5,
		Response:         "the answer",
		LatencyMs:        42,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := newTestLogger(t, models.AuditConfig{Enabled: true})
	ctx := context.Background()

	if err := l.Log(ctx, testAuditEntry("req-1")); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.PromptHash != "2cf24dba5fb0a30e" {
		t.Errorf("prompt hash = %q", e.PromptHash)
	}
	if e.Tier != pricing.TierLocal {
		t.Errorf("tier = %q", e.Tier)
	}
	if e.Response != "the answer" {
		t.Errorf("response = %q", e.Response)
	}
	if e.LatencyMs != 42 {
		t.Errorf("latency = %d", e.LatencyMs)
	}
}

func TestQueryFilters(t *testing.T) {
	l := newTestLogger(t, models.AuditConfig{Enabled: true})
	ctx := context.Background()

	hit := testAuditEntry("req-hit")
	hit.Outcome = "cache_hit"
	miss := testAuditEntry("req-miss")
	miss.Tier = pricing.TierCloud
	if err := l.Log(ctx, hit); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(ctx, miss); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{Outcome: "cache_hit"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-hit" {
		t.Errorf("outcome filter returned %v", entries)
	}

	entries, err = l.Query(ctx, models.AuditQueryOpts{Tier: pricing.TierCloud})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-miss" {
		t.Errorf("tier filter returned %v", entries)
	}
}

func TestLogTruncatesResponse(t *testing.T) {
	l := newTestLogger(t, models.AuditConfig{Enabled: true, MaxResponseSize: 5})
	ctx := context.Background()

	entry := testAuditEntry("req-long")
	entry.Response = strings.Repeat("x", 100)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-long"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || len(entries[0].Response) != 5 {
		t.Errorf("stored response should be truncated to 5 bytes")
	}
}

func TestLogTruncatesOnRuneBoundary(t *testing.T) {
	l := newTestLogger(t, models.AuditConfig{Enabled: true, MaxResponseSize: 5})
	ctx := context.Background()

	entry := testAuditEntry("req-utf8")
	entry.Response = strings.Repeat("é", 10)
	if err := l.Log(ctx, entry); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-utf8"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !utf8.ValidString(entries[0].Response) {
		t.Errorf("stored response is not valid UTF-8: %q", entries[0].Response)
	}
	if entries[0].Response != "éé" {
		t.Errorf("stored response = %q, want %q", entries[0].Response, "éé")
	}
}

func TestSecurityEvents(t *testing.T) {
	l := newTestLogger(t, models.AuditConfig{Enabled: true})
	ctx := context.Background()

	err := l.LogSecurityEvent(ctx, models.SecurityEvent{
		Event:           "injection_blocked",
		Severity:        "error",
		Detail:          `matched phrase "ignore all previous instructions"`,
		ClientKeyPrefix: "cp_12345",
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	events, err := l.SecurityEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Event != "injection_blocked" || events[0].Severity != "error" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestCleanup(t *testing.T) {
	l := newTestLogger(t, models.AuditConfig{Enabled: true, RetentionDays: 7})
	ctx := context.Background()

	old := testAuditEntry("req-old")
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -30)
	fresh := testAuditEntry("req-fresh")
	if err := l.Log(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, err := l.Query(ctx, models.AuditQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-fresh" {
		t.Errorf("remaining entries = %v", entries)
	}
}

func TestKeyPrefix(t *testing.T) {
	if got := KeyPrefix("cp_1234567890"); got != "cp_12345" {
		t.Errorf("KeyPrefix = %q, want cp_12345", got)
	}
	if got := KeyPrefix("short"); got != "short" {
		t.Errorf("KeyPrefix short key = %q", got)
	}
}
