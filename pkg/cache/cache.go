package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/costpilot-ai/costpilot/pkg/models"
)

// ErrUnavailable marks a store that could not be reached. The processor
// treats it as a forced miss rather than a request failure.
var ErrUnavailable = errors.New("cache store unavailable")

// KeyPrefix namespaces cache keys in shared stores.
const KeyPrefix = "llm:"

// Normalize trims surrounding whitespace. It is the only transformation
// applied to a query before hashing.
func Normalize(query string) string {
	return strings.TrimSpace(query)
}

// Key derives the deterministic cache key for a query: the fixed prefix
// plus the first 16 hex characters of the SHA-256 digest of the normalized
// text. Identical normalized text always yields the identical key.
func Key(query string) string {
	return KeyPrefix + Hash(query)
}

// Hash returns the hex16 SHA-256 digest of the normalized query. The same
// digest keys cache entries and correlates audit rows.
func Hash(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])[:16]
}

// Store is a key/value store with per-entry expiry. Get returns (nil, nil)
// when the key is absent or expired; a store that cannot be reached returns
// an error wrapping ErrUnavailable. Entries are immutable once written: Put
// fully replaces any existing value.
type Store interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, key string, entry *models.CacheEntry, ttl time.Duration) error
	Close() error
}
