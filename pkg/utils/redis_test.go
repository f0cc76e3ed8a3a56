package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapLimiter_ValidatesArguments(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	ctx := context.Background()

	cases := []struct {
		name string
		l    *CapLimiter
		id   string
	}{
		{"nil client", NewCapLimiter(nil, "dial", 1, time.Second), "ws"},
		{"empty id", NewCapLimiter(rdb, "dial", 1, time.Second), ""},
		{"zero limit", NewCapLimiter(rdb, "dial", 0, time.Second), "ws"},
		{"zero ttl", NewCapLimiter(rdb, "dial", 1, 0), "ws"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.l.Acquire(ctx, tc.id)
			assert.Error(t, err)
			assert.Error(t, tc.l.Release(ctx, tc.id))
		})
	}
}

func TestCapLimiter_Key(t *testing.T) {
	l := NewCapLimiter(nil, "dial", 3, time.Minute)
	assert.Equal(t, "dial:ws-1", l.Key("ws-1"))
}

func TestRedisConfig_Defaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	assert.Equal(t, 20, c.PoolSize)
	assert.Equal(t, 2*time.Second, c.PingTimeout)
	assert.Equal(t, 2*time.Second, c.IOTimeout)
	assert.Equal(t, 15*time.Second, c.StartupMaxWait)

	c = RedisConfig{PoolSize: 5, PingTimeout: time.Second}.withDefaults()
	assert.Equal(t, 5, c.PoolSize)
	assert.Equal(t, time.Second, c.PingTimeout)
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func newMiniLimiter(t *testing.T, limit int, ttl time.Duration) (*CapLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCapLimiter(rdb, "dial", limit, ttl), mr
}

func TestCapLimiter_RefusesAtLimit(t *testing.T) {
	l, mr := newMiniLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(ctx, "ws1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	assert.False(t, ok)

	// a refused acquire does not take a slot
	n, err := mr.Get("dial:ws1")
	require.NoError(t, err)
	assert.Equal(t, "2", n)

	// other workspaces have their own counter
	ok, err = l.Acquire(ctx, "ws2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, "ws1"))
	ok, err = l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCapLimiter_AcquireSetsAndRefreshesTTL(t *testing.T) {
	l, mr := newMiniLimiter(t, 3, time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("dial:ws1"))

	mr.FastForward(40 * time.Second)
	assert.Equal(t, 20*time.Second, mr.TTL("dial:ws1"))

	ok, err = l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("dial:ws1"))
}

func TestCapLimiter_ReleaseNeverGoesNegative(t *testing.T) {
	l, mr := newMiniLimiter(t, 1, time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("dial:ws1"))

	// late releases for the expired slot leave no counter behind
	require.NoError(t, l.Release(ctx, "ws1"))
	require.NoError(t, l.Release(ctx, "ws1"))
	assert.False(t, mr.Exists("dial:ws1"))

	// so the limit still holds afterwards
	ok, err = l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Acquire(ctx, "ws1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapLimiter_ReleaseOfLastSlotDeletesKey(t *testing.T) {
	l, mr := newMiniLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Acquire(ctx, "ws1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Release(ctx, "ws1"))
	n, err := mr.Get("dial:ws1")
	require.NoError(t, err)
	assert.Equal(t, "1", n)

	require.NoError(t, l.Release(ctx, "ws1"))
	assert.False(t, mr.Exists("dial:ws1"))
}
