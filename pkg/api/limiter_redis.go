package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisRateLimiter enforces a shared token bucket across several API
// processes. Used instead of the in-memory limiter when more than one
// replica serves the Action API.
type RedisRateLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
}

// NewRedisRateLimiter connects to Redis and returns a shared limiter.
func NewRedisRateLimiter(addr, password string, rps, burst int) *RedisRateLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &RedisRateLimiter{client: rdb, rps: float64(rps), burst: burst}
}

// Allow consumes one token from the caller's bucket. Redis errors fail
// open: a broken limiter must not take the API down.
func (l *RedisRateLimiter) Allow(ctx context.Context, callerID string) bool {
	key := fmt.Sprintf("limiter:%s", callerID)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return true
	}
	allowed, ok := res.(int64)
	return !ok || allowed == 1
}

// Middleware enforces the shared limit per client IP.
func (l *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.Allow(r.Context(), ip) {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
