package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisGuard is a fixed-window counter in Redis. The window starts with the
// first attempt and the key expires with it.
type RedisGuard struct {
	rdb    redis.Cmdable
	policy Policy
	prefix string
}

// NewRedisGuard creates a Redis-backed guard.
func NewRedisGuard(rdb redis.Cmdable, policy Policy) *RedisGuard {
	return &RedisGuard{rdb: rdb, policy: policy, prefix: "ratelimit"}
}

// Allow increments the attempt counter for (addr, bucket).
func (g *RedisGuard) Allow(ctx context.Context, addr, bucket string) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", g.prefix, bucket, addr)

	var incr *redis.IntCmd
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, g.policy.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(g.policy.MaxAttempts), nil
}
