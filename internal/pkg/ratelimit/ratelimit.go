package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "volunteerhub:ratelimit:"

// tokenBucketLua 原子地补充令牌并尝试扣减。
// 返回 {allowed, wait_ms, tokens}。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + (delta * rate) / 1000.0)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// Decision 一次限流判定的结果。
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter 按 key 区分的 Redis 令牌桶，多个 API 实例共享同一份额度。
type Limiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
	now    func() time.Time
}

// NewLimiter 创建限流器。rate 或 burst <= 0 时不限流。
func NewLimiter(rdb *redis.Client, logger *slog.Logger, namespace string, rate, burst float64) *Limiter {
	prefix := defaultPrefix
	if namespace != "" {
		prefix += namespace + ":"
	}
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// Allow 为 key 扣减一个令牌。
//
// Redis 出错时返回放行结果与错误，由调用方决定是否降级放行。
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil || l.rdb == nil || l.rate <= 0 || l.burst <= 0 {
		return Decision{Allowed: true}, nil
	}

	res, err := l.script.Run(ctx, l.rdb, []string{l.prefix + key}, l.rate, l.burst, l.now().UnixMilli(), 1).Result()
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return Decision{Allowed: true}, fmt.Errorf("ratelimit invalid result")
	}

	d := Decision{Allowed: toInt64(values[0]) == 1}
	if !d.Allowed {
		d.RetryAfter = time.Duration(toInt64(values[1])) * time.Millisecond
		if l.logger != nil {
			l.logger.Debug("rate limited", slog.String("key", key), slog.String("retry_after", d.RetryAfter.String()))
		}
	}
	return d, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
