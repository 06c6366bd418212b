package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"wa-gateway-lite/internal/model"
)

func newSession(id, phone string, now int64) model.Session {
	return model.Session{ID: id, PhoneNumber: phone, Status: model.SessionPending, CreatedAt: now, UpdatedAt: now}
}

// exerciseRepositories runs the same contract checks against any backend.
func exerciseRepositories(t *testing.T, sessions SessionRepository, messages MessageRepository) {
	t.Helper()
	ctx := context.Background()
	now := int64(1000)

	sess, created, err := sessions.Create(ctx, newSession("s1", "+15550001111", now))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatalf("expected created")
	}

	again, created, err := sessions.Create(ctx, newSession("s2", "+15550001111", now+1))
	if err != nil {
		t.Fatalf("Create duplicate: %v", err)
	}
	if created || again.ID != sess.ID {
		t.Fatalf("expected existing session %q, got %q (created=%v)", sess.ID, again.ID, created)
	}

	sess.Status = model.SessionConnected
	sess.UpdatedAt = now + 2
	if err := sessions.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := sessions.FindByPhoneNumber(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("FindByPhoneNumber: %v", err)
	}
	if got.Status != model.SessionConnected {
		t.Fatalf("expected connected, got %q", got.Status)
	}
	if _, err := sessions.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sessions.Save(ctx, newSession("ghost", "+15550009999", now)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound saving unknown session, got %v", err)
	}

	list, err := sessions.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}

	// Inserted out of timestamp order on purpose.
	for i, ts := range []int64{30, 10, 20, 40} {
		msg := model.Message{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Type:      model.MessageText,
			Content:   fmt.Sprintf("c%d", ts),
			Timestamp: ts,
			Direction: model.DirectionIncoming,
			Status:    model.StatusDelivered,
			Key:       &model.MessageKey{ID: fmt.Sprintf("W%d", i), RemoteJID: "x@s.whatsapp.net"},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := messages.Save(ctx, msg); err != nil {
			t.Fatalf("Save message: %v", err)
		}
	}

	history, err := messages.FindBySessionID(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("FindBySessionID: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, want := range []string{"c20", "c30", "c40"} {
		if history[i].Content != want {
			t.Fatalf("history[%d] = %q, want %q", i, history[i].Content, want)
		}
	}

	byWire, err := messages.FindByWireID(ctx, "s1", "W1")
	if err != nil {
		t.Fatalf("FindByWireID: %v", err)
	}
	if byWire.ID != "m1" {
		t.Fatalf("expected m1, got %q", byWire.ID)
	}
	if _, err := messages.FindByWireID(ctx, "s2", "W1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wire ids are scoped by session, got %v", err)
	}

	if err := messages.UpdateStatus(ctx, "m1", model.StatusRead, now+5); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	m1, err := messages.FindByID(ctx, "m1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if m1.Status != model.StatusRead || m1.UpdatedAt != now+5 {
		t.Fatalf("unexpected message after update: %+v", m1)
	}
	if err := messages.UpdateStatus(ctx, "missing", model.StatusRead, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_Repositories(t *testing.T) {
	m := NewMemory()
	exerciseRepositories(t, m.Sessions(), m.Messages())
}

func TestMemory_MessagesAreCopied(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	msg := model.Message{ID: "m1", SessionID: "s1", Key: &model.MessageKey{ID: "W1"}}
	if err := m.Messages().Save(ctx, msg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	msg.Key.ID = "changed"

	got, err := m.Messages().FindByWireID(ctx, "s1", "W1")
	if err != nil {
		t.Fatalf("FindByWireID: %v", err)
	}
	if got.Key.ID != "W1" {
		t.Fatalf("stored key was aliased: %q", got.Key.ID)
	}
}

func TestMemory_HistoryDefaultLimitAndTies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		msg := model.Message{ID: fmt.Sprintf("m%03d", i), SessionID: "s1", Timestamp: 7}
		if err := m.Messages().Save(ctx, msg); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	history, err := m.Messages().FindBySessionID(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("FindBySessionID: %v", err)
	}
	if len(history) != DefaultHistoryLimit {
		t.Fatalf("expected %d, got %d", DefaultHistoryLimit, len(history))
	}
	if history[0].ID != "m005" || history[len(history)-1].ID != fmt.Sprintf("m%03d", DefaultHistoryLimit+4) {
		t.Fatalf("equal timestamps should keep insertion order: first=%s last=%s", history[0].ID, history[len(history)-1].ID)
	}
}
