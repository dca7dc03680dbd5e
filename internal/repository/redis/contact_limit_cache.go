package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"contact-service/internal/client"
	"contact-service/internal/ratelimit"
	"contact-service/internal/util"
)

const contactRateLimitPrefix = "contact_rate_limit:"

// takeScript applies one submission attempt atomically. The counter only
// moves when the attempt is admitted, so the stored count never exceeds the
// limit inside an unexpired window. The expiry set on the first increment
// marks the window end.
const takeScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = tonumber(redis.call('GET', key) or '0')
if count >= limit then
    local ttl = redis.call('PTTL', key)
    if ttl > 0 then
        return {0, count, ttl}
    end
    -- Key without expiry is stale state; drop it and start a fresh window.
    redis.call('DEL', key)
end

count = redis.call('INCR', key)
if count == 1 then
    redis.call('PEXPIRE', key, window_ms)
end
return {1, count, redis.call('PTTL', key)}
`

// ContactLimitCache is the redis-backed ratelimit.Store, used when multiple
// processes must share one rate-limit view.
type ContactLimitCache struct {
	client *client.RedisClient
}

func NewContactLimitCache(client *client.RedisClient) *ContactLimitCache {
	return &ContactLimitCache{client: client}
}

// Take implements ratelimit.Store on top of the Lua script above.
func (c *ContactLimitCache) Take(ctx context.Context, identity string, limit int, window time.Duration) (ratelimit.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := contactRateLimitPrefix + identity

	raw, err := c.client.Eval(ctx, takeScript, []string{key}, limit, window.Milliseconds())
	if err != nil {
		util.Error("Failed to execute contact rate limit script",
			zap.String("identity", identity),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return ratelimit.Result{}, fmt.Errorf("failed to execute contact rate limit script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return ratelimit.Result{}, fmt.Errorf("unexpected result format from rate limit script")
	}

	allowed := values[0].(int64) == 1
	count := int(values[1].(int64))
	resetIn := time.Duration(values[2].(int64)) * time.Millisecond

	util.Debug("Contact rate limit check",
		zap.String("identity", identity),
		zap.Bool("allowed", allowed),
		zap.Int("count", count),
		zap.Duration("reset_in", resetIn))

	return ratelimit.Result{Allowed: allowed, Count: count, ResetIn: resetIn}, nil
}

// Reset clears the window for an identity, used by operators to unblock a
// submitter.
func (c *ContactLimitCache) Reset(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, contactRateLimitPrefix+identity); err != nil {
		util.Error("Failed to reset contact rate limit",
			zap.String("identity", identity),
			zap.Error(err))
		return fmt.Errorf("failed to reset contact rate limit: %w", err)
	}
	return nil
}
