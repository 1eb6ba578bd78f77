package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepLock_TryLock(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client, "")
	ctx := context.Background()

	token, ok, err := lock.TryLock(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	stored, err := s.Get(defaultSweepLockKey)
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}

func TestSweepLock_HeldByOther(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	first := NewSweepLock(client, "sweep")
	second := NewSweepLock(client, "sweep")
	ctx := context.Background()

	_, ok, err := first.TryLock(ctx, 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryLock(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not acquire a held lock")
}

func TestSweepLock_ExpiresAfterTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client, "sweep")
	ctx := context.Background()

	_, ok, err := lock.TryLock(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	_, ok, err = lock.TryLock(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be free after its TTL")
}

func TestSweepLock_UnlockOnlyOwnToken(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewSweepLock(client, "sweep")
	ctx := context.Background()

	token, ok, err := lock.TryLock(ctx, 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale token leaves the lock in place.
	require.NoError(t, lock.Unlock(ctx, "stale-token"))
	assert.True(t, s.Exists("sweep"))

	require.NoError(t, lock.Unlock(ctx, token))
	assert.False(t, s.Exists("sweep"))

	_, ok, err = lock.TryLock(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSweepLock_ConnectionError(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	lock := NewSweepLock(client, "sweep")
	s.Close()

	_, ok, err := lock.TryLock(context.Background(), time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestHealthCheck(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	hc := NewHealthCheck(client)

	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Ping(context.Background()))
}
