package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLimiterUnavailable = errors.New("rate_limiter_unavailable")
	ErrInvalidBucket      = errors.New("invalid_rate_limit_bucket")
)

// takeTokens refills the bucket from the elapsed redis clock time and then
// tries to take ARGV[3] tokens at once. Partial takes never happen.
// Reply: {allowed, tokens_left_x1000, now_ms}.
var takeTokens = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens * 1000), now}
`)

// Bucket describes a refill rate in tokens per second and the bucket size.
type Bucket struct {
	Rate  float64
	Burst int
}

func (b Bucket) validate(cost int) error {
	switch {
	case b.Rate <= 0:
		return fmt.Errorf("%w: rate must be positive", ErrInvalidBucket)
	case b.Burst <= 0:
		return fmt.Errorf("%w: burst must be positive", ErrInvalidBucket)
	case cost <= 0:
		return fmt.Errorf("%w: cost must be positive", ErrInvalidBucket)
	case cost > b.Burst:
		return fmt.Errorf("%w: cost %d exceeds burst %d", ErrInvalidBucket, cost, b.Burst)
	}
	return nil
}

// ttl keeps idle buckets around for two full refills.
func (b Bucket) ttl() time.Duration {
	if b.Rate <= 0 || b.Burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(b.Burst)/b.Rate*2))
	return time.Duration(seconds) * time.Second
}

// retryAfter is how long until cost tokens are available again.
func (b Bucket) retryAfter(remaining float64, cost int) time.Duration {
	missing := float64(cost) - remaining
	if missing <= 0 || b.Rate <= 0 {
		return 0
	}
	return time.Duration(missing / b.Rate * float64(time.Second))
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type TokenBucket struct {
	client *redis.Client
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take spends cost tokens from the bucket stored under key.
func (t *TokenBucket) Take(ctx context.Context, key string, bucket Bucket, cost int) (*RateLimitResult, error) {
	denied := &RateLimitResult{Limit: bucket.Burst}
	if t == nil || t.client == nil {
		return denied, ErrLimiterUnavailable
	}
	if key == "" {
		return denied, fmt.Errorf("%w: empty key", ErrInvalidBucket)
	}
	if err := bucket.validate(cost); err != nil {
		return denied, err
	}

	reply, err := takeTokens.Run(ctx, t.client, []string{key},
		bucket.Rate, bucket.Burst, cost, bucket.ttl().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return denied, err
	}
	return resultFromReply(reply, bucket, cost)
}

func resultFromReply(reply []int64, bucket Bucket, cost int) (*RateLimitResult, error) {
	if len(reply) != 3 {
		return &RateLimitResult{Limit: bucket.Burst}, fmt.Errorf("unexpected token bucket reply of %d values", len(reply))
	}
	allowed := reply[0] == 1
	remaining := float64(reply[1]) / 1000

	res := &RateLimitResult{
		Allowed:   allowed,
		Limit:     bucket.Burst,
		Remaining: int(remaining),
		ResetTime: time.UnixMilli(reply[2]),
	}
	if !allowed {
		res.RetryAfter = bucket.retryAfter(remaining, cost)
		res.ResetTime = res.ResetTime.Add(res.RetryAfter)
	}
	return res, nil
}
