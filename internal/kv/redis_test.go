package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r, err := NewRedis(client)
	require.NoError(t, err)
	return r, mr
}

func TestRedis_SetNXAndExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	ok, err := r.SetNX(ctx, "claim", "t1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.SetNX(ctx, "claim", "t2", 10*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(11 * time.Second)

	ok, err = r.SetNX(ctx, "claim", "t3", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	v, err := r.Get(ctx, "claim")
	require.NoError(t, err)
	require.Equal(t, "t3", v)
}

func TestRedis_GetMissing(t *testing.T) {
	r, _ := newTestRedis(t)
	_, err := r.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_HashOps(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, r.HDel(ctx, "h", "a"))
	got, err := r.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"b": "2"}, got)
}

func TestNewRedis_RejectsNil(t *testing.T) {
	_, err := NewRedis(nil)
	require.Error(t, err)
}
