package ratelimit

import (
	"context"
	"fmt"
	"time"

	"taskmail/internal/config"
	"taskmail/internal/types"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript atomically prunes expired entries, checks both windows
// against their limits, and reserves a slot for the current send. Running
// it as a single script removes the check-then-append race the log-backed
// limiter accepts.
//
// KEYS[1] = per-identity sorted set of send timestamps (nanoseconds)
// ARGV    = now, hourAgo, dayAgo, maxPerHour, maxPerDay, member
// Returns "ok", "hourly" or "daily".
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local hour_ago = ARGV[2]
local day_ago = ARGV[3]
local max_hour = tonumber(ARGV[4])
local max_day = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', day_ago)

local hourly = redis.call('ZCOUNT', key, '(' .. hour_ago, '+inf')
if hourly >= max_hour then
    return 'hourly'
end

local daily = redis.call('ZCARD', key)
if daily >= max_day then
    return 'daily'
end

redis.call('ZADD', key, now, ARGV[6])
redis.call('EXPIRE', key, 86400)
return 'ok'
`)

// RedisLimiter provides strict admission control: the check and the slot
// reservation happen atomically, so concurrent dispatches for the same
// identity cannot both slip under the limit.
type RedisLimiter struct {
	client *redis.Client
	limits types.Limits
}

// NewRedisLimiter connects to redis and verifies the connection.
func NewRedisLimiter(cfg config.RedisConfig, limits types.Limits) (*RedisLimiter, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &RedisLimiter{
		client: client,
		limits: limits,
	}, nil
}

// Limits returns the configured quota windows.
func (l *RedisLimiter) Limits() types.Limits {
	return l.limits
}

// Check reserves a send slot for the identity or reports which window is
// exhausted. A reserved slot is consumed regardless of delivery outcome,
// matching the audit-log policy of counting failed attempts.
func (l *RedisLimiter) Check(ctx context.Context, identityID string, now time.Time) (Decision, error) {
	key := "taskmail:quota:" + identityID
	nowNs := now.UnixNano()

	result, err := admitScript.Run(ctx, l.client, []string{key},
		nowNs,
		now.Add(-time.Hour).UnixNano(),
		now.Add(-24*time.Hour).UnixNano(),
		l.limits.MaxPerHour,
		l.limits.MaxPerDay,
		uuid.New().String(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to run admission script: %w", err)
	}

	switch result {
	case "ok":
		return Decision{Allowed: true}, nil
	case "hourly":
		return Decision{
			Window: types.WindowHourly,
			Reason: fmt.Sprintf("hourly limit exceeded: %d sends per hour allowed, try again in under an hour",
				l.limits.MaxPerHour),
		}, nil
	case "daily":
		return Decision{
			Window: types.WindowDaily,
			Reason: fmt.Sprintf("daily limit exceeded: %d sends per day allowed, try again tomorrow",
				l.limits.MaxPerDay),
		}, nil
	default:
		return Decision{}, fmt.Errorf("unexpected admission script result: %v", result)
	}
}

// Close releases the redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
