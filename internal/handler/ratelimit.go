package handler

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RateLimiter is a sliding-window limiter over a redis sorted set per
// caller. Each admitted request adds one member scored by its arrival time
// in milliseconds; members older than the window are trimmed first.
type RateLimiter struct {
	client    redis.Cmdable
	limit     int
	window    time.Duration
	now       func() time.Time
	newMember func() string
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:    client,
		limit:     limit,
		window:    window,
		now:       time.Now,
		newMember: uuid.NewString,
	}
}

func rateLimitKey(identifier string) string {
	return "ratelimit:" + identifier
}

// Allow records a request for identifier if it fits in the window.
func (l *RateLimiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	key := rateLimitKey(identifier)
	now := l.now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	if err := l.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10)).Err(); err != nil {
		return Decision{}, fmt.Errorf("trim window: %w", err)
	}
	current, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("count window: %w", err)
	}

	if int(current) >= l.limit {
		retryAfter := l.window
		oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			retryAfter = time.Duration(int64(oldest[0].Score)+l.window.Milliseconds()-now) * time.Millisecond
		}
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, Limit: l.limit, RetryAfter: retryAfter}, nil
	}

	member := &redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10) + ":" + l.newMember()}
	if err := l.client.ZAdd(ctx, key, member).Err(); err != nil {
		return Decision{}, fmt.Errorf("record request: %w", err)
	}
	if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
		return Decision{}, fmt.Errorf("expire window: %w", err)
	}
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - int(current) - 1}, nil
}

// retryAfterSeconds rounds up to whole seconds for the Retry-After header.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
