package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/syncbridge/syncbridge/pkg/store"
)

// bucketTTL keeps idle bucket state alive well past any expected
// quiet interval; an expired bucket re-materializes full on the next
// acquire, which is permissive for exactly one burst.
const bucketTTL = time.Hour

// acquireScript refills and consumes in one atomic step. Tokens are
// real-valued and never go negative; state is written back (with the
// refresh applied) even when the request is denied, so last_refill
// always tracks the latest observation.
const acquireScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil then tokens = capacity end
if last_refill == nil then last_refill = now end

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = tokens + elapsed * refill_rate
if tokens > capacity then tokens = capacity end

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', key, ttl)
return allowed
`

// Status is a point-in-time view of one bucket with the pending
// refill applied but nothing consumed.
type Status struct {
	Tokens      float64 `json:"tokens"`
	Capacity    float64 `json:"capacity"`
	RefillRate  float64 `json:"refill_rate"`
	Utilization float64 `json:"utilization"`
}

// TokenBucket is the shared token bucket for a single provider. The
// state lives in the backing store so every worker process draws from
// the same budget.
type TokenBucket struct {
	provider   string
	capacity   float64
	refillRate float64 // tokens per second
	store      store.Store
	now        func() time.Time
}

// NewTokenBucket creates a bucket view over the shared store state.
func NewTokenBucket(st store.Store, provider string, capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		provider:   provider,
		capacity:   capacity,
		refillRate: refillRate,
		store:      st,
		now:        time.Now,
	}
}

func (b *TokenBucket) key() string {
	return "rate_limit:" + b.provider
}

// RefillRate returns the refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	return b.refillRate
}

// Acquire attempts to deduct n tokens atomically. It reports false
// when the refilled balance cannot cover the request.
func (b *TokenBucket) Acquire(ctx context.Context, n float64) (bool, error) {
	nowSec := float64(b.now().UnixNano()) / float64(time.Second)
	res, err := b.store.Eval(ctx, acquireScript,
		[]string{b.key()},
		b.capacity, b.refillRate, n, nowSec, int64(bucketTTL.Seconds()),
	)
	if err != nil {
		return false, fmt.Errorf("bucket acquire %s: %w", b.provider, err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("bucket acquire %s: unexpected reply %T", b.provider, res)
	}
	return allowed == 1, nil
}

// Status reads the bucket with refill applied but without consuming.
func (b *TokenBucket) Status(ctx context.Context) (*Status, error) {
	nowSec := float64(b.now().UnixNano()) / float64(time.Second)

	vals, err := b.store.HMGet(ctx, b.key(), "tokens", "last_refill")
	if err != nil {
		return nil, fmt.Errorf("bucket status %s: %w", b.provider, err)
	}

	tokens := b.capacity
	lastRefill := nowSec
	if len(vals) == 2 {
		if s, ok := vals[0].(string); ok {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				tokens = v
			}
		}
		if s, ok := vals[1].(string); ok {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				lastRefill = v
			}
		}
	}

	elapsed := nowSec - lastRefill
	if elapsed > 0 {
		tokens += elapsed * b.refillRate
	}
	if tokens > b.capacity {
		tokens = b.capacity
	}

	utilization := 0.0
	if b.capacity > 0 {
		utilization = 1.0 - tokens/b.capacity
	}
	return &Status{
		Tokens:      tokens,
		Capacity:    b.capacity,
		RefillRate:  b.refillRate,
		Utilization: utilization,
	}, nil
}
