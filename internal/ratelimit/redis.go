package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const slidingWindowScript = `
local nowData = redis.call("TIME")
local now = (nowData[1] * 1000000) + nowData[2]
local windowStart = now - (tonumber(ARGV[2]) * 1000000)

redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, windowStart)

local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[1]) then
  return 0
end

redis.call("ZADD", KEYS[1], now, now)
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`

// RedisLimiter is a sliding-window limiter shared across instances. Each
// attempt is a member of a per-key sorted set scored by the Redis server
// clock, so limits hold regardless of app-server clock skew.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.script.Run(ctx, l.client,
		[]string{fmt.Sprintf("%s:%s", l.prefix, key)},
		l.limit,
		int(l.window.Seconds()),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
