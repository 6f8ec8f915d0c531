package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

// ErrDailyQuotaExceeded is returned when the daily send quota is used up.
// The dispatcher records it as the recipient's failure.
var ErrDailyQuotaExceeded = errors.New("daily send quota exceeded")

// RateLimiter provides atomic send-rate limiting using a Redis Lua script.
// Prevents race conditions that occur with GET → check → INCR patterns when
// several server processes share one SES account.
type RateLimiter struct {
	redis *redis.Client
	name  string

	perSecond int
	daily     int

	limitScript *redis.Script
	now         func() time.Time
}

// Lua script for atomic two-key rate limit check.
// Only increments if BOTH limits pass; a limit of 0 disables it.
const sendLimitLuaScript = `
local secondKey = KEYS[1]
local dailyKey = KEYS[2]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local dailyLimit = tonumber(ARGV[3])
local secondTTL = tonumber(ARGV[4])
local dailyTTL = tonumber(ARGV[5])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secondLimit > 0 and secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}  -- denied, reason=second limit
end
if dailyLimit > 0 and dayCurrent + increment > dailyLimit then
    return {0, 2, dayCurrent}  -- denied, reason=daily limit
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, secondTTL)
end

local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, dailyTTL)
end

return {1, 0, newDay}
`

// NewRateLimiter creates a limiter allowing perSecond sends per second and
// daily sends per UTC day. Zero disables a limit.
func NewRateLimiter(redisClient *redis.Client, perSecond, daily int) *RateLimiter {
	return &RateLimiter{
		redis:       redisClient,
		name:        "ses",
		perSecond:   perSecond,
		daily:       daily,
		limitScript: redis.NewScript(sendLimitLuaScript),
		now:         time.Now,
	}
}

func (r *RateLimiter) keys(now time.Time) (string, string) {
	now = now.UTC()
	return fmt.Sprintf("ratelimit:%s:sec:%d", r.name, now.Unix()),
		fmt.Sprintf("ratelimit:%s:day:%s", r.name, now.Format("2006-01-02"))
}

// CheckAndIncrement atomically checks and increments the counters by n.
// When the per-second limit is hit, waitTime is the time to the next
// second. A daily denial returns ErrDailyQuotaExceeded.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, n int) (allowed bool, waitTime time.Duration, err error) {
	now := r.now()
	secondKey, dailyKey := r.keys(now)

	result, err := r.limitScript.Run(ctx, r.redis,
		[]string{secondKey, dailyKey},
		n,
		r.perSecond,
		r.daily,
		2,     // second TTL
		90000, // daily TTL (25 hours)
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1: // Second limit
		waitTime = time.Second - time.Duration(now.Nanosecond())
		if waitTime <= 0 {
			waitTime = time.Millisecond
		}
		return false, waitTime, nil
	default: // Daily limit
		return false, 0, ErrDailyQuotaExceeded
	}
}

// Wait blocks until one send is allowed. It implements sending.Throttle.
// Redis failures allow the send; the quota is advisory when Redis is down.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, waitTime, err := r.CheckAndIncrement(ctx, 1)
		if errors.Is(err, ErrDailyQuotaExceeded) {
			return err
		}
		if err != nil {
			logger.Warn("rate limiter: check failed, allowing send", "error", err)
			return nil
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// GetCurrentUsage returns current usage against the configured limits.
// The health endpoint reports it as the rate_limit check.
func (r *RateLimiter) GetCurrentUsage(ctx context.Context) (map[string]int64, error) {
	secondKey, dailyKey := r.keys(r.now())

	pipe := r.redis.Pipeline()
	secCmd := pipe.Get(ctx, secondKey)
	dayCmd := pipe.Get(ctx, dailyKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	sec, _ := secCmd.Int64()
	day, _ := dayCmd.Int64()

	return map[string]int64{
		"second_current": sec,
		"second_limit":   int64(r.perSecond),
		"daily_current":  day,
		"daily_limit":    int64(r.daily),
	}, nil
}
