// Package audit keeps a persistent trail of processed queries and security
// events in a dedicated SQLite database. Prompts are never stored; rows
// carry the same hex16 SHA-256 digest used for cache keys so the trail
// correlates with cache entries without retaining user text.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Logger writes and queries audit rows.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the audit database, creates the schema, and starts the
// retention loop.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{db: db, cfg: cfg, done: make(chan struct{})}
	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}
	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS query_audit (
		request_id        TEXT PRIMARY KEY,
		prompt_hash       TEXT NOT NULL,
		client_key_prefix TEXT,
		outcome           TEXT NOT NULL,
		tier              TEXT,
		cost              REAL NOT NULL DEFAULT 0,
		prompt_tokens     REAL NOT NULL DEFAULT 0,
		completion_tokens REAL NOT NULL DEFAULT 0,
		estimated         INTEGER NOT NULL DEFAULT 0,
		response          TEXT,
		latency_ms        INTEGER NOT NULL DEFAULT 0,
		created_at        DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_hash ON query_audit(prompt_hash)`); err != nil {
		return err
	}
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON query_audit(created_at)`); err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS security_events (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		event             TEXT NOT NULL,
		severity          TEXT NOT NULL,
		detail            TEXT,
		client_key_prefix TEXT,
		created_at        DATETIME NOT NULL
	)`)
	return err
}

// Log inserts a query audit row, truncating the response to the configured
// maximum.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	response := entry.Response
	if l.cfg.MaxResponseSize > 0 && len(response) > l.cfg.MaxResponseSize {
		// Back off to a rune boundary so truncation never writes invalid
		// UTF-8 into the row.
		cut := l.cfg.MaxResponseSize
		for cut > 0 && !utf8.RuneStart(response[cut]) {
			cut--
		}
		response = response[:cut]
	}
	estimated := 0
	if entry.Estimated {
		estimated = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO query_audit
		 (request_id, prompt_hash, client_key_prefix, outcome, tier, cost,
		  prompt_tokens, completion_tokens, estimated, response, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.PromptHash, entry.ClientKeyPrefix,
		entry.Outcome, string(entry.Tier), entry.Cost,
		entry.PromptTokens, entry.CompletionTokens, estimated,
		response, entry.LatencyMs, entry.CreatedAt,
	)
	return err
}

// LogSecurityEvent records an auth failure or blocked injection attempt.
func (l *Logger) LogSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO security_events (event, severity, detail, client_key_prefix, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Event, ev.Severity, ev.Detail, ev.ClientKeyPrefix, ev.CreatedAt,
	)
	return err
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, prompt_hash, client_key_prefix, outcome, tier, cost,
		prompt_tokens, completion_tokens, estimated, response, latency_ms, created_at
		FROM query_audit WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	if opts.Tier != "" {
		q += " AND tier = ?"
		args = append(args, string(opts.Tier))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e         models.AuditEntry
			tier      sql.NullString
			prefix    sql.NullString
			response  sql.NullString
			estimated int
		)
		if err := rows.Scan(&e.RequestID, &e.PromptHash, &prefix, &e.Outcome,
			&tier, &e.Cost, &e.PromptTokens, &e.CompletionTokens,
			&estimated, &response, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.ClientKeyPrefix = prefix.String
		e.Response = response.String
		e.Estimated = estimated != 0
		if tier.Valid {
			e.Tier = pricing.Tier(tier.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SecurityEvents returns recent security events, newest first.
func (l *Logger) SecurityEvents(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT event, severity, detail, client_key_prefix, created_at
		 FROM security_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []models.SecurityEvent
	for rows.Next() {
		var (
			ev     models.SecurityEvent
			detail sql.NullString
			prefix sql.NullString
		)
		if err := rows.Scan(&ev.Event, &ev.Severity, &detail, &prefix, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		ev.Detail = detail.String
		ev.ClientKeyPrefix = prefix.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Cleanup deletes rows older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM query_audit WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// KeyPrefix returns the first 8 characters of a client key for audit rows,
// enough to attribute traffic without storing the credential.
func KeyPrefix(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
