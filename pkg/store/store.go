package store

import (
	"context"
	"time"
)

// Store is the backing-store contract every durable piece of state
// goes through: priority-ordered sets for the queue tiers, lists for
// the terminal tiers, hashes for bucket state, integer counters for
// metrics, and server-side atomic scripting.
type Store interface {
	// Ordered sets (queue tiers, score = priority).
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) (bool, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRangeAll(ctx context.Context, key string) ([]string, error)

	// PopMinMove atomically pops the minimum-score member of src and
	// adds it to dst at the same score. It polls up to timeout and
	// reports ok=false when src stayed empty.
	PopMinMove(ctx context.Context, src, dst string, timeout time.Duration) (member string, score float64, ok bool, err error)

	// Append-only lists (terminal tiers).
	LPush(ctx context.Context, key, value string) error
	LLen(ctx context.Context, key string) (int64, error)
	LRangeAll(ctx context.Context, key string) ([]string, error)

	// Hashes (token bucket state).
	HMGet(ctx context.Context, key string, fields ...string) ([]any, error)
	HSet(ctx context.Context, key string, values map[string]any) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Integer counters (hour-bucket metrics).
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	GetInt64(ctx context.Context, key string) (int64, error)

	// Eval runs a server-side script atomically.
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)

	Ping(ctx context.Context) error
	Close() error
}
