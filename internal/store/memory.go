package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/model"
)

type Options struct {
	// StateFile, when set, receives an atomic JSON snapshot of every session
	// after each change and is loaded on startup.
	StateFile string
	Logger    zerolog.Logger
}

// Memory keeps sessions and messages in process memory.
type Memory struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex
	logger    zerolog.Logger

	sessionsByID     map[string]model.Session
	sessionIDByPhone map[string]string

	messages *messageStore
}

func NewMemory() *Memory {
	m, _ := NewMemoryWithOptions(Options{Logger: zerolog.Nop()})
	return m
}

func NewMemoryWithOptions(opts Options) (*Memory, error) {
	m := &Memory{
		stateFile:        opts.StateFile,
		logger:           opts.Logger,
		sessionsByID:     make(map[string]model.Session),
		sessionIDByPhone: make(map[string]string),
		messages:         newMessageStore(),
	}
	if m.stateFile != "" {
		if err := m.loadSessionsFromFile(m.stateFile); err != nil {
			return nil, fmt.Errorf("store: load %s: %w", m.stateFile, err)
		}
	}
	return m, nil
}

// Sessions and Messages expose the two repositories of a Memory store.
func (m *Memory) Sessions() SessionRepository { return memorySessions{m} }
func (m *Memory) Messages() MessageRepository { return m.messages }

type memorySessions struct{ m *Memory }

func (r memorySessions) Create(ctx context.Context, s model.Session) (model.Session, bool, error) {
	return r.m.createSession(ctx, s)
}
func (r memorySessions) Save(ctx context.Context, s model.Session) error {
	return r.m.saveSession(ctx, s)
}
func (r memorySessions) FindByID(ctx context.Context, id string) (model.Session, error) {
	return r.m.findSession(ctx, id)
}
func (r memorySessions) FindByPhoneNumber(ctx context.Context, phone string) (model.Session, error) {
	return r.m.findSessionByPhone(ctx, phone)
}
func (r memorySessions) List(ctx context.Context) ([]model.Session, error) {
	return r.m.listSessions(ctx)
}

func (m *Memory) createSession(_ context.Context, s model.Session) (model.Session, bool, error) {
	if s.ID == "" {
		return model.Session{}, false, errors.New("store: missing session id")
	}
	if s.PhoneNumber == "" {
		return model.Session{}, false, errors.New("store: missing phone number")
	}

	m.mu.Lock()
	if sid, ok := m.sessionIDByPhone[s.PhoneNumber]; ok {
		existing := m.sessionsByID[sid]
		m.mu.Unlock()
		return existing, false, nil
	}
	m.sessionsByID[s.ID] = s
	m.sessionIDByPhone[s.PhoneNumber] = s.ID
	snapshot := m.snapshotSessionsLocked()
	m.mu.Unlock()

	m.persistSessionsSnapshot(snapshot)
	return s, true, nil
}

func (m *Memory) saveSession(_ context.Context, s model.Session) error {
	m.mu.Lock()
	existing, ok := m.sessionsByID[s.ID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if existing.PhoneNumber != s.PhoneNumber {
		if other, taken := m.sessionIDByPhone[s.PhoneNumber]; taken && other != s.ID {
			m.mu.Unlock()
			return fmt.Errorf("store: phone number %s already in use", s.PhoneNumber)
		}
		delete(m.sessionIDByPhone, existing.PhoneNumber)
		m.sessionIDByPhone[s.PhoneNumber] = s.ID
	}
	m.sessionsByID[s.ID] = s
	snapshot := m.snapshotSessionsLocked()
	m.mu.Unlock()

	m.persistSessionsSnapshot(snapshot)
	return nil
}

func (m *Memory) findSession(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessionsByID[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) findSessionByPhone(_ context.Context, phone string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sid, ok := m.sessionIDByPhone[phone]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return m.sessionsByID[sid], nil
}

func (m *Memory) listSessions(_ context.Context) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Session, 0, len(m.sessionsByID))
	for _, s := range m.sessionsByID {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt == result[j].UpdatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt > result[j].UpdatedAt
	})
	return result, nil
}

type persistedSessionsFile struct {
	Version  int             `json:"version"`
	Sessions []model.Session `json:"sessions"`
	SavedAt  int64           `json:"savedAt"`
}

func (m *Memory) loadSessionsFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedSessionsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported sessions state version")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range file.Sessions {
		if s.ID == "" || s.PhoneNumber == "" {
			continue
		}
		m.sessionsByID[s.ID] = s
		m.sessionIDByPhone[s.PhoneNumber] = s.ID
	}
	return nil
}

func (m *Memory) snapshotSessionsLocked() []model.Session {
	if m.stateFile == "" {
		return nil
	}
	result := make([]model.Session, 0, len(m.sessionsByID))
	for _, s := range m.sessionsByID {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// persistSessionsSnapshot writes through a temp file and a rename so a crash
// never leaves a truncated state file behind. Failures are logged only.
func (m *Memory) persistSessionsSnapshot(sessions []model.Session) {
	path := m.stateFile
	if path == "" || sessions == nil {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	log := m.logger.With().Str("file", path).Logger()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Error().Err(err).Msg("sessions persistence: mkdir failed")
		return
	}

	file := persistedSessionsFile{Version: 1, Sessions: sessions, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("sessions persistence: marshal failed")
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Error().Err(err).Msg("sessions persistence: create temp failed")
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Error().Err(err).Msg("sessions persistence: chmod temp failed")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Error().Err(err).Msg("sessions persistence: write temp failed")
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Error().Err(err).Msg("sessions persistence: sync temp failed")
		return
	}
	if err := tmp.Close(); err != nil {
		log.Error().Err(err).Msg("sessions persistence: close temp failed")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Error().Err(err).Msg("sessions persistence: rename failed")
	}
}
