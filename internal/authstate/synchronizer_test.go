package authstate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"wa-gateway-lite/internal/kv"
	"wa-gateway-lite/internal/model"
)

func strp(s string) *string { return &s }

func newSQLite(t *testing.T) *SQLiteSnapshots {
	t.Helper()
	s, err := NewSQLiteSnapshots(filepath.Join(t.TempDir(), "auth", "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSync(t *testing.T, store kv.Store, snaps SnapshotStore) *Synchronizer {
	t.Helper()
	hot, err := NewHotState(store)
	require.NoError(t, err)
	s, err := NewSynchronizer(hot, snaps, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSynchronizer_PersistThenRestoreOnEmptyHotStore(t *testing.T) {
	ctx := context.Background()
	snaps := newSQLite(t)

	first := newSync(t, kv.NewMemory(), snaps)
	err := first.ApplyAndPersist(ctx, "s1", Update{
		Creds: strp(`{"me":"15550001111"}`),
		Keys:  map[string]*string{"pre-key-1": strp("AAA"), "session-x": strp("BBB")},
	})
	require.NoError(t, err)
	require.NoError(t, first.ApplyAndPersist(ctx, "s1", Update{Keys: map[string]*string{"pre-key-1": nil}}))

	// Fresh hot store, as after a process restart.
	second := newSync(t, kv.NewMemory(), snaps)
	restored, err := second.Restore(ctx, "s1")
	require.NoError(t, err)
	require.True(t, restored)

	creds, ok, err := second.Hot().Creds(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"me":"15550001111"}`, creds)

	keys, err := second.Hot().Keys(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"session-x": "BBB"}, keys)
}

func TestSynchronizer_RestoreDropsLeftoverKeys(t *testing.T) {
	ctx := context.Background()
	snaps := newSQLite(t)
	require.NoError(t, snaps.Save(ctx, model.AuthSnapshot{
		SessionID: "s1",
		Creds:     "snap-creds",
		Keys:      map[string]string{"session-x": "BBB"},
	}))

	// The creds entry was evicted but a key deleted before the snapshot remains.
	store := kv.NewMemory()
	require.NoError(t, store.HSet(ctx, "auth:s1:keys", map[string]string{"pre-key-1": "AAA", "session-x": "OLD"}))

	s := newSync(t, store, snaps)
	restored, err := s.Restore(ctx, "s1")
	require.NoError(t, err)
	require.True(t, restored)

	keys, err := s.Hot().Keys(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"session-x": "BBB"}, keys)
}

func TestSynchronizer_RestoreNoopWhenHotPresent(t *testing.T) {
	ctx := context.Background()
	snaps := newSQLite(t)
	require.NoError(t, snaps.Save(ctx, model.AuthSnapshot{SessionID: "s1", Creds: "old"}))

	s := newSync(t, kv.NewMemory(), snaps)
	require.NoError(t, s.Hot().Apply(ctx, "s1", Update{Creds: strp("live")}))

	restored, err := s.Restore(ctx, "s1")
	require.NoError(t, err)
	require.False(t, restored)

	creds, _, err := s.Hot().Creds(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "live", creds)
}

func TestSynchronizer_RestoreWithoutSnapshot(t *testing.T) {
	s := newSync(t, kv.NewMemory(), newSQLite(t))
	restored, err := s.Restore(context.Background(), "unknown")
	require.NoError(t, err)
	require.False(t, restored)
}

func TestSynchronizer_Forget(t *testing.T) {
	ctx := context.Background()
	snaps := newSQLite(t)
	s := newSync(t, kv.NewMemory(), snaps)
	require.NoError(t, s.ApplyAndPersist(ctx, "s1", Update{Creds: strp("c")}))

	require.NoError(t, s.Forget(ctx, "s1"))
	_, ok, err := s.Hot().Creds(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = snaps.Load(ctx, "s1")
	require.ErrorIs(t, err, ErrNoSnapshot)
}

type failingSnapshots struct{ SnapshotStore }

func (failingSnapshots) Save(context.Context, model.AuthSnapshot) error {
	return errors.New("disk full")
}

func TestSynchronizer_PersistFailureKeepsHotWrite(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.NewMemory(), failingSnapshots{newSQLite(t)})

	err := s.ApplyAndPersist(ctx, "s1", Update{Creds: strp("c")})
	require.Error(t, err)

	creds, ok, err := s.Hot().Creds(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", creds)
}
