// Package authstate mirrors connector credential and key material between the
// hot store, which connectors read and write, and a durable snapshot store
// used only to bootstrap a session whose hot copy is gone.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/model"
)

type Synchronizer struct {
	hot       *HotState
	snapshots SnapshotStore
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSynchronizer(hot *HotState, snapshots SnapshotStore, logger zerolog.Logger) (*Synchronizer, error) {
	if hot == nil {
		return nil, errors.New("authstate: hot state must not be nil")
	}
	if snapshots == nil {
		return nil, errors.New("authstate: snapshot store must not be nil")
	}
	return &Synchronizer{hot: hot, snapshots: snapshots, logger: logger, now: time.Now}, nil
}

func (s *Synchronizer) Hot() *HotState { return s.hot }

// Restore replaces the hot state with the latest snapshot when the hot creds
// are missing. Leftover key records are dropped so the key map matches the
// snapshot. It reports whether anything was copied.
func (s *Synchronizer) Restore(ctx context.Context, sessionID string) (bool, error) {
	_, present, err := s.hot.Creds(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}

	snap, err := s.snapshots.Load(ctx, sessionID)
	if errors.Is(err, ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("authstate: restore %s: %w", sessionID, err)
	}

	keys := make(map[string]*string, len(snap.Keys))
	for k, v := range snap.Keys {
		v := v
		keys[k] = &v
	}
	creds := snap.Creds
	if err := s.hot.Clear(ctx, sessionID); err != nil {
		return false, fmt.Errorf("authstate: restore %s: %w", sessionID, err)
	}
	if err := s.hot.Apply(ctx, sessionID, Update{Creds: &creds, Keys: keys}); err != nil {
		return false, fmt.Errorf("authstate: restore %s: %w", sessionID, err)
	}
	s.logger.Info().Str("session", sessionID).Int("keys", len(keys)).Msg("auth state restored from snapshot")
	return true, nil
}

// PersistSnapshot copies the current hot credentials and full key map into the
// snapshot store. It must complete before a credential mutation is treated as
// handled.
func (s *Synchronizer) PersistSnapshot(ctx context.Context, sessionID string) error {
	creds, present, err := s.hot.Creds(ctx, sessionID)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	keys, err := s.hot.Keys(ctx, sessionID)
	if err != nil {
		return err
	}

	snap := model.AuthSnapshot{
		SessionID: sessionID,
		Creds:     creds,
		Keys:      keys,
		SavedAt:   s.now().UnixMilli(),
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("authstate: persist %s: %w", sessionID, err)
	}
	return nil
}

// ApplyAndPersist writes a credential mutation to the hot store and then
// snapshots it. A snapshot failure is returned but leaves the hot write in
// place; the next mutation retries the snapshot.
func (s *Synchronizer) ApplyAndPersist(ctx context.Context, sessionID string, u Update) error {
	if err := s.hot.Apply(ctx, sessionID, u); err != nil {
		return err
	}
	return s.PersistSnapshot(ctx, sessionID)
}

// Forget drops both copies, so the next start pairs from scratch.
func (s *Synchronizer) Forget(ctx context.Context, sessionID string) error {
	if err := s.hot.Clear(ctx, sessionID); err != nil {
		return err
	}
	return s.snapshots.Delete(ctx, sessionID)
}
