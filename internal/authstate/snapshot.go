package authstate

import (
	"context"
	"errors"

	"wa-gateway-lite/internal/model"
)

var ErrNoSnapshot = errors.New("authstate: no snapshot")

// SnapshotStore is the durable crash-recovery copy of hot auth material.
// Save is last-write-wins per session id.
type SnapshotStore interface {
	Load(ctx context.Context, sessionID string) (model.AuthSnapshot, error)
	Save(ctx context.Context, snap model.AuthSnapshot) error
	Delete(ctx context.Context, sessionID string) error
}
