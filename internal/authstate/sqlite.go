package authstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"wa-gateway-lite/internal/model"
)

// SQLiteSnapshots keeps auth snapshots in a local SQLite file.
type SQLiteSnapshots struct {
	db *sql.DB
}

func NewSQLiteSnapshots(dbPath string) (*SQLiteSnapshots, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("authstate: create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("authstate: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteSnapshots{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("authstate: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSnapshots) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS auth_snapshots (
		session_id TEXT PRIMARY KEY,
		creds      TEXT NOT NULL,
		keys_json  TEXT NOT NULL,
		saved_at   INTEGER NOT NULL
	);`)
	return err
}

func (s *SQLiteSnapshots) Close() error { return s.db.Close() }

func (s *SQLiteSnapshots) Load(ctx context.Context, sessionID string) (model.AuthSnapshot, error) {
	var (
		snap     model.AuthSnapshot
		keysJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, creds, keys_json, saved_at FROM auth_snapshots WHERE session_id = ?`, sessionID,
	).Scan(&snap.SessionID, &snap.Creds, &keysJSON, &snap.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuthSnapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return model.AuthSnapshot{}, fmt.Errorf("authstate: load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(keysJSON), &snap.Keys); err != nil {
		return model.AuthSnapshot{}, fmt.Errorf("authstate: decode keys: %w", err)
	}
	if snap.Keys == nil {
		snap.Keys = map[string]string{}
	}
	return snap, nil
}

func (s *SQLiteSnapshots) Save(ctx context.Context, snap model.AuthSnapshot) error {
	keys := snap.Keys
	if keys == nil {
		keys = map[string]string{}
	}
	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("authstate: encode keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_snapshots (session_id, creds, keys_json, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET creds = excluded.creds, keys_json = excluded.keys_json, saved_at = excluded.saved_at`,
		snap.SessionID, snap.Creds, string(keysJSON), snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("authstate: save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshots) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("authstate: delete snapshot: %w", err)
	}
	return nil
}
