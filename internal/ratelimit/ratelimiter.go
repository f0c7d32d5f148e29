package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the sliding window every limit is expressed over.
const Window = time.Minute

// Limiter decides whether a request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

// slidingWindow trims the window, then records the request only if there is
// room. Denied requests do not consume capacity.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]
	local ttl = tonumber(ARGV[5])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		count = count + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, ttl)

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local oldest_score = now
	if oldest[2] then
		oldest_score = tonumber(oldest[2])
	end
	return {allowed, count, oldest_score}
`)

// RateLimiter is a distributed sliding-window limiter on Redis sorted sets.
type RateLimiter struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

// NewRateLimiter creates a limiter admitting limitPerMinute requests per key
// through Allow. A non-positive limit disables limiting.
func NewRateLimiter(client *redis.Client, limitPerMinute int) *RateLimiter {
	return &RateLimiter{client: client, limit: limitPerMinute, now: time.Now}
}

// Allow applies the configured per-minute limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, _, err := rl.AllowWithDetails(ctx, key, rl.limit)
	return allowed, err
}

// AllowWithDetails checks key against limit and reports the remaining
// capacity and when the oldest request leaves the window. A limit of 0 is
// unlimited and reports remaining -1 with a zero reset time.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := rl.now()
	windowStart := now.Add(-Window)

	res, err := slidingWindow.Run(ctx, rl.client,
		[]string{redisKey(key)},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		limit,
		fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()),
		(2 * Window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := res[0] == 1
	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.UnixMilli(res[2]).Add(Window)

	return allowed, remaining, resetAt, nil
}

func redisKey(key string) string {
	return "ratelimit:" + key
}
