// Package ratelimit enforces a per-tenant sliding window over a Redis
// sorted set, shared across gateway processes. The limiter fails open:
// rate limiting is a courtesy to shared resources, not a security
// control, so a Redis outage admits the request with a warning.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/keys"
)

// admitScript trims, counts and conditionally inserts in one atomic
// unit, so concurrent requests can never all read the same stale count
// and overshoot the limit. Returns {admitted, count, reset_unix}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local reset = now + window
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if oldest[2] then
		reset = tonumber(oldest[2]) + window
	end
	return {0, count, reset}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('EXPIRE', key, window + 60)
return {1, count + 1, now + window}
`)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter int // seconds, 0 when allowed
}

// Limiter is the sliding-window rate limiter.
type Limiter struct {
	rdb     *redis.Client
	limit   int
	window  time.Duration
	enabled bool
}

func New(rdb *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		rdb:     rdb,
		limit:   cfg.PerWindow,
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		enabled: cfg.Enabled,
	}
}

// Allow runs one admission check for the tenant. Same-second arrivals
// get unique members so no request is ever counted twice, and the whole
// trim-count-insert sequence runs server-side in one step.
func (l *Limiter) Allow(ctx context.Context, tenantID uuid.UUID) Decision {
	if !l.enabled {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	key := keys.RateBucket(tenantID, "tenant")
	now := time.Now()
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.New())

	raw, err := admitScript.Run(ctx, l.rdb, []string{key},
		now.Unix(), int(l.window.Seconds()), l.limit, member).Slice()
	if err != nil || len(raw) != 3 {
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("rate limit store unreachable, admitting request")
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	admitted := asInt64(raw[0]) == 1
	count := int(asInt64(raw[1]))
	reset := time.Unix(asInt64(raw[2]), 0)

	if !admitted {
		retryAfter := int(time.Until(reset).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: retryAfter,
		}
	}

	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - count,
		ResetTime: reset,
	}
}

func asInt64(v any) int64 {
	n, _ := v.(int64)
	return n
}
