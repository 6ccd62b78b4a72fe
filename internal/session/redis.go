package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the mapping retention window when none is configured.
// After it elapses a placeholder becomes unrecoverable; that is the
// privacy-enforcing behavior, not a defect.
const DefaultTTL = time.Hour

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or
	// "redis://:password@host:6379/0")
	URL string

	// TTL is the retention window for counters and mappings (defaults to DefaultTTL).
	TTL time.Duration
}

// RedisStore implements the session store on Redis. Counter allocation uses
// INCR, which is the linearization point required for concurrent redactions
// of the same session: two parallel calls can never observe the same value.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	slog.Info("session store connected", "backend", "redis", "ttl", ttl)

	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NextCounter atomically increments the per-(session, entity type) counter
// and refreshes its TTL so an idle session's counters expire together with
// its mappings.
func (s *RedisStore) NextCounter(ctx context.Context, sessionID, entityType string) (int64, error) {
	key := counterKey(sessionID, entityType)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to allocate counter: %w", err)
	}

	return incr.Val(), nil
}

// PutMapping upserts placeholder -> value with the configured TTL.
func (s *RedisStore) PutMapping(ctx context.Context, sessionID, placeholder, value string) error {
	if err := s.client.Set(ctx, mappingKey(sessionID, placeholder), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store mapping: %w", err)
	}
	return nil
}

// GetMapping reads a mapping without consuming it. Absence is a normal
// outcome (expired or never issued), reported as found=false.
func (s *RedisStore) GetMapping(ctx context.Context, sessionID, placeholder string) (string, bool, error) {
	val, err := s.client.Get(ctx, mappingKey(sessionID, placeholder)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read mapping: %w", err)
	}
	return val, true, nil
}

// ClearSession bulk-deletes every key belonging to the session, independent
// of TTL expiry. Uses SCAN rather than KEYS so a purge cannot stall Redis.
func (s *RedisStore) ClearSession(ctx context.Context, sessionID string) error {
	iter := s.client.Scan(ctx, 0, sessionPattern(sessionID), 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan session keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}

	slog.Info("session cleared", "session_id", sessionID, "keys", len(keys))
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
