// Package store holds the session and message repositories.
package store

import (
	"context"
	"errors"

	"wa-gateway-lite/internal/model"
)

var ErrNotFound = errors.New("store: not found")

const DefaultHistoryLimit = 100

type SessionRepository interface {
	// Create stores s unless a session with the same phone number exists, in
	// which case the existing session is returned with created false.
	Create(ctx context.Context, s model.Session) (model.Session, bool, error)
	Save(ctx context.Context, s model.Session) error
	FindByID(ctx context.Context, id string) (model.Session, error)
	FindByPhoneNumber(ctx context.Context, phone string) (model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
}

type MessageRepository interface {
	Save(ctx context.Context, m model.Message) error
	FindByID(ctx context.Context, id string) (model.Message, error)
	FindByWireID(ctx context.Context, sessionID, wireID string) (model.Message, error)
	// FindBySessionID returns the latest limit messages in ascending
	// timestamp order.
	FindBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus, updatedAt int64) error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
