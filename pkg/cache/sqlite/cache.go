package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/costpilot-ai/costpilot/pkg/cache"
	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Store is a SQLite-backed cache.Store for single-node deployments where a
// Redis instance is not worth running. Expiry is enforced on read: an entry
// past its TTL is reported absent and replaced by the next put.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	tier TEXT NOT NULL,
	cost REAL NOT NULL,
	response TEXT NOT NULL,
	prompt_tokens REAL NOT NULL,
	completion_tokens REAL NOT NULL,
	estimated INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

// New opens (or creates) the cache database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies the database is reachable, for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Get retrieves an entry, returning (nil, nil) when the key is absent or
// the entry's TTL has elapsed.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var (
		tier       string
		entry      models.CacheEntry
		estimated  int
		ttlSeconds int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tier, cost, response, prompt_tokens, completion_tokens, estimated, created_at, ttl_seconds
		 FROM cache_entries WHERE key = ?`, key,
	).Scan(&tier, &entry.Cost, &entry.Response, &entry.PromptTokens,
		&entry.CompletionTokens, &estimated, &entry.CreatedAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}

	if time.Since(entry.CreatedAt) > time.Duration(ttlSeconds)*time.Second {
		return nil, nil
	}

	parsed, err := pricing.ParseTier(tier)
	if err != nil {
		return nil, nil
	}
	entry.Tier = parsed
	entry.Estimated = estimated != 0
	return &entry, nil
}

// Put stores an entry with the given TTL, replacing any existing value.
func (s *Store) Put(ctx context.Context, key string, entry *models.CacheEntry, ttl time.Duration) error {
	estimated := 0
	if entry.Estimated {
		estimated = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries
		 (key, tier, cost, response, prompt_tokens, completion_tokens, estimated, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, string(entry.Tier), entry.Cost, entry.Response,
		entry.PromptTokens, entry.CompletionTokens, estimated,
		entry.CreatedAt.UTC(), int64(ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Clear removes cache entries. If expiredOnly is true, only entries past
// their TTL are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	query := `DELETE FROM cache_entries`
	if expiredOnly {
		query = `DELETE FROM cache_entries WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
