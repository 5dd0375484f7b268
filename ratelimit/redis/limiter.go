package redislimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limit defines window and max count for a bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is a Redis-backed sliding window limiter using ZSETs, so every
// process sharing the cache also shares the refresh budget.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	limits map[string]Limit
	now    func() time.Time
}

// New builds a limiter. Keys are stored under prefix (default "auth:appleid:rl:").
func New(rdb *redis.Client, prefix string, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	if prefix == "" {
		prefix = "auth:appleid:rl:"
	}
	return &Limiter{rdb: rdb, prefix: prefix, limits: limits, now: time.Now}
}

func (l *Limiter) get(bucket string) Limit {
	if v, ok := l.limits[bucket]; ok {
		return v
	}
	if v, ok := l.limits["default"]; ok {
		return v
	}
	return Limit{Limit: 6, Window: time.Minute}
}

func (l *Limiter) key(bucket, key string) string {
	return l.prefix + key + ":" + bucket
}

// Allow records an event and reports whether it fits the bucket's window.
// A nil limiter or client allows everything.
func (l *Limiter) Allow(ctx context.Context, bucket, key string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}
	lim := l.get(bucket)
	now := l.now().UnixMilli()
	start := now - lim.Window.Milliseconds()
	limitKey := l.key(bucket, key)
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, limitKey, redis.Z{Score: float64(now), Member: member})
	pipe.ZRemRangeByScore(ctx, limitKey, "0", strconv.FormatInt(start, 10))
	countCmd := pipe.ZCard(ctx, limitKey)
	pipe.Expire(ctx, limitKey, lim.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}
	if count > int64(lim.Limit) {
		// Denied events do not consume budget.
		l.rdb.ZRem(ctx, limitKey, member)
		return false, nil
	}
	return true, nil
}
