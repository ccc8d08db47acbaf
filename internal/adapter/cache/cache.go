// Package cache provides a thin Redis-backed layer used for three
// distinct, unrelated concerns that all happen to fit a token-bucket /
// short-TTL-key shape: the admission-time cache-key fast path, the
// wake-up notifier's per-(cluster,service) debounce, and a token-bucket
// signal the results poller can consult before hammering the status
// endpoint. Grounded on the teacher's redis_lua_limiter.go Lua token
// bucket, generalized beyond AI-provider rate limiting.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a redis.Client with the operations this package exposes.
type Client struct {
	rdb          *redis.Client
	bucketScript *redis.Script
}

// NewClient parses redisURL and returns a connected Client.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=cache.new_client: %w", err)
	}
	return &Client{
		rdb:          redis.NewClient(opts),
		bucketScript: redis.NewScript(luaTokenBucketScript),
	}, nil
}

// NewClientFromRedis wraps an existing *redis.Client (used by tests with
// miniredis).
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, bucketScript: redis.NewScript(luaTokenBucketScript)}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Ping checks connectivity, used by the readiness surface.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// --- C2 admission-time cache-key fast path ---

func cacheHitKey(clusterID, service, targetFn, cacheKey string) string {
	return fmt.Sprintf("cachehit:%s:%s:%s:%s", clusterID, service, targetFn, cacheKey)
}

// RememberCacheHit stores the job id that resolved (cluster, service, fn,
// cacheKey) so a subsequent admission call with the same cache key can
// skip the database lookup entirely until ttl elapses.
func (c *Client) RememberCacheHit(ctx context.Context, clusterID, service, targetFn, cacheKey, jobID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.rdb.Set(ctx, cacheHitKey(clusterID, service, targetFn, cacheKey), jobID, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.remember_cache_hit: %w", err)
	}
	return nil
}

// LookupCacheHit returns the remembered job id, if any, and whether it was
// found.
func (c *Client) LookupCacheHit(ctx context.Context, clusterID, service, targetFn, cacheKey string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, cacheHitKey(clusterID, service, targetFn, cacheKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=cache.lookup_cache_hit: %w", err)
	}
	return val, true, nil
}

// --- C7 wake-up notifier debounce ---

func debounceKey(clusterID, service string) string {
	return fmt.Sprintf("wakeup:debounce:%s:%s", clusterID, service)
}

// TryDebounce atomically claims the right to fire a wake-up notification
// for (cluster, service); it returns true only for the first caller within
// the window, so concurrent admissions don't each page the serverless
// provider.
func (c *Client) TryDebounce(ctx context.Context, clusterID, service string, window time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, debounceKey(clusterID, service), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("op=cache.try_debounce: %w", err)
	}
	return ok, nil
}

// --- C10 results poller rate-limit signal (token bucket) ---

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return { allowed, tokens, last_refill, retry_after }
`

// BucketConfig configures a token bucket's capacity and refill rate.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// Allow consumes cost tokens from the named bucket, returning whether the
// call is allowed and, if not, how long the caller should wait before
// retrying. Used by usecase.StatusService to cap a cluster's status polls;
// a denied call there becomes ErrRateLimited (HTTP 429).
func (c *Client) Allow(ctx context.Context, key string, cfg BucketConfig, cost int64) (allowed bool, retryAfter time.Duration, err error) {
	if cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	now := float64(time.Now().UnixNano()) / 1e9
	res, err := c.bucketScript.Run(ctx, c.rdb, []string{"bucket:" + key}, cfg.Capacity, cfg.RefillRate, now, cost).Result()
	if err != nil {
		// Fail open: a Redis outage must never block job dispatch/polling.
		return true, 0, fmt.Errorf("op=cache.allow: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		return true, 0, nil
	}
	allowed = toInt64(vals[0]) == 1
	retryAfterSec := toFloat64(vals[3])
	return allowed, time.Duration(retryAfterSec * float64(time.Second)), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return math.NaN()
	}
}
