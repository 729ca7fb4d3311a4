package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore_TokenBucketAcrossInstances(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := NewManualClock(testStart)
	a := NewRedisStore(rdb, WithRedisClock(clock))
	b := NewRedisStore(rdb, WithRedisClock(clock))
	p := domain.Policy{Algorithm: domain.AlgorithmTokenBucket, Limit: 4, BurstCapacity: 4, RefillRate: 1}.Normalize()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		store := a
		if i%2 == 1 {
			store = b
		}
		_, v, err := store.IncrementAndCheck(ctx, "user:1|GET:/x", p, domain.TokenBucket)
		require.NoError(t, err)
		require.True(t, v.Allowed)
	}
	_, v, err := a.IncrementAndCheck(ctx, "user:1|GET:/x", p, domain.TokenBucket)
	require.NoError(t, err)
	assert.False(t, v.Allowed)

	clock.Advance(2 * time.Second)
	_, v, err = b.IncrementAndCheck(ctx, "user:1|GET:/x", p, domain.TokenBucket)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, int64(1), v.Remaining)
}

func TestRedisStore_SetsIdleTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, WithKeyPrefix("rl"))
	p := domain.Policy{Algorithm: domain.AlgorithmFixedWindow, Limit: 1, Window: 30 * time.Second}.Normalize()

	_, _, err := s.IncrementAndCheck(context.Background(), "k", p, domain.FixedWindow)
	require.NoError(t, err)
	assert.True(t, mr.Exists("rl:k"))
	assert.Equal(t, p.IdleTTL(), mr.TTL("rl:k"))

	st, ok, err := s.Peek(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Count)

	require.NoError(t, s.ExpireKey(context.Background(), "k"))
	assert.False(t, mr.Exists("rl:k"))
}

func TestRedisStore_ConcurrentIncrementIsAtomic(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, WithMaxRetries(1000))
	p := domain.Policy{Algorithm: domain.AlgorithmFixedWindow, Limit: 10, Window: time.Hour}.Normalize()

	const n = 40
	var admitted, failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, v, err := s.IncrementAndCheck(context.Background(), "shared", p, domain.FixedWindow)
			if err != nil {
				failed.Add(1)
				return
			}
			if v.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failed.Load())
	assert.Equal(t, int64(10), admitted.Load())
}

func TestRedisStore_UnreachableWrapsStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, err := s.IncrementAndCheck(ctx, "k", fixedPolicy(1, time.Minute), domain.FixedWindow)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
