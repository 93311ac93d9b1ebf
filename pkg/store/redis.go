package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// popMinMoveScript pops the lowest-score member from KEYS[1] and adds
// it to KEYS[2] at the same score in one atomic step. The score is
// returned as a string so fractional scores survive the Lua reply
// conversion.
const popMinMoveScript = `
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
redis.call('ZADD', KEYS[2], popped[2], popped[1])
return {popped[1], tostring(popped[2])}
`

// DefaultPollInterval is how often PopMinMove retries an empty source.
const DefaultPollInterval = 250 * time.Millisecond

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client *redis.Client

	// PollInterval controls the PopMinMove retry cadence. Tests
	// shrink it; production uses the default.
	PollInterval time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and returns the store adapter.
func NewRedisStore(opts Options) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisStore{client: client, PollInterval: DefaultPollInterval}
}

// NewRedisStoreFromClient wraps an existing client, used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, PollInterval: DefaultPollInterval}
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRem(ctx context.Context, key string, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	return n > 0, err
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *RedisStore) ZRangeAll(ctx context.Context, key string) ([]string, error) {
	return s.client.ZRange(ctx, key, 0, -1).Result()
}

func (s *RedisStore) PopMinMove(ctx context.Context, src, dst string, timeout time.Duration) (string, float64, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		res, err := s.client.Eval(ctx, popMinMoveScript, []string{src, dst}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", 0, false, fmt.Errorf("pop-min-move: %w", err)
		}
		if err == nil {
			member, score, perr := parsePopReply(res)
			if perr != nil {
				return "", 0, false, perr
			}
			return member, score, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", 0, false, nil
		}
		wait := s.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return "", 0, false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func parsePopReply(res any) (string, float64, error) {
	pair, ok := res.([]any)
	if !ok || len(pair) != 2 {
		return "", 0, fmt.Errorf("pop-min-move: unexpected reply %T", res)
	}
	member, ok := pair[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("pop-min-move: unexpected member type %T", pair[0])
	}
	raw, ok := pair[1].(string)
	if !ok {
		return "", 0, fmt.Errorf("pop-min-move: unexpected score type %T", pair[1])
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, fmt.Errorf("pop-min-move: bad score %q: %w", raw, err)
	}
	return member, score, nil
}

func (s *RedisStore) LPush(ctx context.Context, key, value string) error {
	return s.client.LPush(ctx, key, value).Err()
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) LRangeAll(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

func (s *RedisStore) HMGet(ctx context.Context, key string, fields ...string) ([]any, error) {
	return s.client.HMGet(ctx, key, fields...).Result()
}

func (s *RedisStore) HSet(ctx context.Context, key string, values map[string]any) error {
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.client.IncrBy(ctx, key, n).Result()
}

func (s *RedisStore) GetInt64(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *RedisStore) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	return s.client.Eval(ctx, script, keys, args...).Result()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
