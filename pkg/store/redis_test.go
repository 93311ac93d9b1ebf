package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := NewRedisStoreFromClient(client)
	st.PollInterval = 10 * time.Millisecond
	return st
}

func TestPopMinMoveOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ZAdd(ctx, "src", 5, "mid"))
	require.NoError(t, st.ZAdd(ctx, "src", 1, "first"))
	require.NoError(t, st.ZAdd(ctx, "src", 10, "last"))

	member, score, ok, err := st.PopMinMove(ctx, "src", "dst", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", member)
	assert.Equal(t, 1.0, score)

	// The popped member must land in dst at the same score.
	moved, err := st.ZRangeAll(ctx, "dst")
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, moved)

	remaining, err := st.ZCard(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}

func TestPopMinMoveEmptyTimesOut(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	start := time.Now()
	_, _, ok, err := st.PopMinMove(ctx, "empty", "dst", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPopMinMoveCancellation(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, ok, err := st.PopMinMove(ctx, "empty", "dst", 5*time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPopMinMovePicksUpLateArrival(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = st.ZAdd(ctx, "src", 3, "late")
	}()

	member, _, ok, err := st.PopMinMove(ctx, "src", "dst", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "late", member)
}

func TestListOperations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.LPush(ctx, "done", "a"))
	require.NoError(t, st.LPush(ctx, "done", "b"))

	n, err := st.LLen(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := st.LRangeAll(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, all)
}

func TestCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	v, err := st.GetInt64(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = st.IncrBy(ctx, "counter", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = st.GetInt64(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestHashOperations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.HSet(ctx, "bucket", map[string]any{"tokens": "4.5", "last_refill": "100"}))

	vals, err := st.HMGet(ctx, "bucket", "tokens", "last_refill", "missing")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, "4.5", vals[0])
	assert.Equal(t, "100", vals[1])
	assert.Nil(t, vals[2])
}

func TestZRem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ZAdd(ctx, "z", 1, "a"))

	removed, err := st.ZRem(ctx, "z", "a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = st.ZRem(ctx, "z", "a")
	require.NoError(t, err)
	assert.False(t, removed)
}
