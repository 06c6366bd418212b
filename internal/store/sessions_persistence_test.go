package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/model"
)

func TestMemory_SessionsPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "sessions-state.json")
	ctx := context.Background()

	s1, err := NewMemoryWithOptions(Options{StateFile: stateFile, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewMemoryWithOptions: %v", err)
	}
	_, created, err := s1.Sessions().Create(ctx, newSession("s1", "+15550001111", 1000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatalf("expected session created")
	}

	info, err := os.Stat(stateFile)
	if err != nil {
		t.Fatalf("expected state file written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected state file mode 0600, got %o", info.Mode().Perm())
	}

	s2, err := NewMemoryWithOptions(Options{StateFile: stateFile, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := s2.Sessions().FindByPhoneNumber(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("expected session loaded: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("unexpected session loaded: %+v", got)
	}
}

func TestMemory_SessionsPersistence_PersistsUpdates(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "sessions-state.json")
	ctx := context.Background()

	s1, err := NewMemoryWithOptions(Options{StateFile: stateFile, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewMemoryWithOptions: %v", err)
	}
	sess, _, err := s1.Sessions().Create(ctx, newSession("s1", "+15550001111", 1000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess.Status = model.SessionDisconnected
	sess.LastDisconnectCode = 428
	if err := s1.Sessions().Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2, err := NewMemoryWithOptions(Options{StateFile: stateFile, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := s2.Sessions().FindByID(ctx, "s1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.SessionDisconnected || got.LastDisconnectCode != 428 {
		t.Fatalf("expected updated session, got %+v", got)
	}
}

func TestMemory_SessionsPersistence_RejectsUnknownVersion(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "sessions-state.json")
	if err := os.WriteFile(stateFile, []byte(`{"version":9,"sessions":[]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewMemoryWithOptions(Options{StateFile: stateFile, Logger: zerolog.Nop()}); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}
