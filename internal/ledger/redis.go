package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "inbox:dedup:"

// RedisDedup implements Dedup on Redis with TTL-expired markers.
type RedisDedup struct {
	client *redis.Client
}

var _ Dedup = (*RedisDedup)(nil)

// NewRedisDedup wraps a Redis client.
func NewRedisDedup(client *redis.Client) *RedisDedup {
	return &RedisDedup{client: client}
}

// IsDuplicate checks whether the key has already been processed.
func (r *RedisDedup) IsDuplicate(ctx context.Context, key string) (bool, error) {
	_, err := r.client.Get(ctx, dedupPrefix+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return true, nil
}

// MarkProcessed stores a marker that expires after ttl.
func (r *RedisDedup) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Set(ctx, dedupPrefix+key, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}
