package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayProtector implements ReplayProtector on top of Redis SETNX.
type RedisReplayProtector struct {
	Client *redis.Client
	Prefix string
}

func (r *RedisReplayProtector) key(k string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "replay:"
	}
	return prefix + k
}

// Acquire reserves the key for the TTL. Returns false when the key is already held.
func (r *RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r == nil || r.Client == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.Client.SetNX(ctx, r.key(key), 1, ttl).Result()
}

// Release removes the reservation so a future delivery can proceed immediately.
func (r *RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, r.key(key)).Err()
}
