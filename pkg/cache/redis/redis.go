package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/costpilot-ai/costpilot/pkg/cache"
	"github.com/costpilot-ai/costpilot/pkg/models"
)

// Store is a Redis-backed cache.Store. Expiry is enforced by Redis itself
// via SET ... EX; the application never sees an expired entry. Concurrent
// readers and writers on distinct keys need no coordination beyond the
// Redis client's own connection pool.
type Store struct {
	client *redis.Client
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New creates a Store. The connection is established lazily; reachability
// problems surface as ErrUnavailable on first use (and from Ping).
func New(opts Options) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

// Ping checks connectivity, wrapping failures in ErrUnavailable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Get retrieves an entry. Absent or expired keys return (nil, nil). An
// entry that fails to decode is treated as absent so the next miss
// overwrites it.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry with the given TTL, replacing any existing value.
func (s *Store) Put(ctx context.Context, key string, entry *models.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

// Close releases the client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}
