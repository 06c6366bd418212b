package authstate

import (
	"context"
	"errors"
	"fmt"

	"wa-gateway-lite/internal/kv"
)

func credsKey(sessionID string) string { return "auth:" + sessionID + ":creds" }
func keysKey(sessionID string) string  { return "auth:" + sessionID + ":keys" }

// Update is one credential mutation reported by a connector. A nil entry in
// Keys removes that key record.
type Update struct {
	Creds *string
	Keys  map[string]*string
}

// HotState is the operational copy of connector credentials in the hot store.
type HotState struct {
	store kv.Store
}

func NewHotState(store kv.Store) (*HotState, error) {
	if store == nil {
		return nil, errors.New("authstate: store must not be nil")
	}
	return &HotState{store: store}, nil
}

// Creds returns the credential blob and whether one is present.
func (h *HotState) Creds(ctx context.Context, sessionID string) (string, bool, error) {
	v, err := h.store.Get(ctx, credsKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("authstate: read creds: %w", err)
	}
	return v, true, nil
}

func (h *HotState) Keys(ctx context.Context, sessionID string) (map[string]string, error) {
	m, err := h.store.HGetAll(ctx, keysKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("authstate: read keys: %w", err)
	}
	return m, nil
}

func (h *HotState) Apply(ctx context.Context, sessionID string, u Update) error {
	if u.Creds != nil {
		if err := h.store.Set(ctx, credsKey(sessionID), *u.Creds, 0); err != nil {
			return fmt.Errorf("authstate: write creds: %w", err)
		}
	}

	set := make(map[string]string)
	var drop []string
	for k, v := range u.Keys {
		if v == nil {
			drop = append(drop, k)
			continue
		}
		set[k] = *v
	}
	if len(set) > 0 {
		if err := h.store.HSet(ctx, keysKey(sessionID), set); err != nil {
			return fmt.Errorf("authstate: write keys: %w", err)
		}
	}
	if len(drop) > 0 {
		if err := h.store.HDel(ctx, keysKey(sessionID), drop...); err != nil {
			return fmt.Errorf("authstate: delete keys: %w", err)
		}
	}
	return nil
}

func (h *HotState) Clear(ctx context.Context, sessionID string) error {
	if err := h.store.Del(ctx, credsKey(sessionID), keysKey(sessionID)); err != nil {
		return fmt.Errorf("authstate: clear: %w", err)
	}
	return nil
}
