package kv

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_SetNXGrantsOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.SetNX(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "a", v)
}

func TestMemory_EntriesExpire(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithNow(func() time.Time { return clock })
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock = clock.Add(time.Second)
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err = m.SetNX(ctx, "k", "b", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithNow(func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	clock = clock.Add(365 * 24 * time.Hour)
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestMemory_HashOps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, m.HSet(ctx, "h", map[string]string{"b": "3"}))
	got, err := m.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "3"}, got)

	require.NoError(t, m.HDel(ctx, "h", "a", "b"))
	got, err = m.HGetAll(ctx, "h")
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = m.Get(ctx, "h")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_SweepEvictsExpiredClaims(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithOptions(func() time.Time { return clock }, 0)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		ok, err := m.SetNX(ctx, "idem:"+strconv.Itoa(i), "1", 24*time.Hour)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, m.Set(ctx, "pinned", "v", 0))
	require.Equal(t, 1001, m.Len())

	clock = clock.Add(48 * time.Hour)
	m.Sweep()
	require.Equal(t, 1, m.Len())

	v, err := m.Get(ctx, "pinned")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestMemory_JanitorEvictsWithoutReads(t *testing.T) {
	m := NewMemoryWithOptions(time.Now, 10*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, m.Set(ctx, "qr:"+strconv.Itoa(i), "payload", 20*time.Millisecond))
	}
	require.Equal(t, 100, m.Len())

	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
