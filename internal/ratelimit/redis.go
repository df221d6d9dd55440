package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// RedisLimiter は複数プロセスで同じウィンドウを共有するための Redis 実装です。
type RedisLimiter struct {
	rdb    redis.UniversalClient
	window time.Duration
	max    int
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb redis.UniversalClient, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, window: window, max: max}
}

// Allow はキーのカウンタを INCR し、初回だけウィンドウ長の期限を付けます。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := keyPrefix + key

	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("redis pexpire: %w", err)
		}
	}

	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis pttl: %w", err)
	}
	if ttl < 0 {
		// 期限が付かなかったキーを残さない
		if err := l.rdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("redis pexpire: %w", err)
		}
		ttl = l.window
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    int(count) <= l.max,
		Limit:      l.max,
		Remaining:  remaining,
		ResetAfter: ttl,
	}, nil
}
