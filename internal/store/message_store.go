package store

import (
	"context"
	"sort"
	"sync"

	"wa-gateway-lite/internal/model"
)

type storedMessage struct {
	msg model.Message
	seq int64
}

// messageStore is the in-memory MessageRepository.
type messageStore struct {
	mu     sync.RWMutex
	byID   map[string]*storedMessage
	bySess map[string][]*storedMessage
	byWire map[string]*storedMessage // sessionID + "|" + wire id

	// inserted orders messages that share a timestamp.
	inserted int64
}

func newMessageStore() *messageStore {
	return &messageStore{
		byID:   make(map[string]*storedMessage),
		bySess: make(map[string][]*storedMessage),
		byWire: make(map[string]*storedMessage),
	}
}

func wireKey(sessionID, wireID string) string {
	return sessionID + "|" + wireID
}

// cloneMessage detaches the optional key so stored rows are not shared with
// callers.
func cloneMessage(msg model.Message) model.Message {
	if msg.Key != nil {
		k := *msg.Key
		msg.Key = &k
	}
	return msg
}

func (m *messageStore) Save(_ context.Context, msg model.Message) error {
	msg = cloneMessage(msg)
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byID[msg.ID]; ok {
		if old := existing.msg.WireID(); old != "" && old != msg.WireID() {
			delete(m.byWire, wireKey(existing.msg.SessionID, old))
		}
		existing.msg = msg
		if w := msg.WireID(); w != "" {
			m.byWire[wireKey(msg.SessionID, w)] = existing
		}
		return nil
	}

	m.inserted++
	sm := &storedMessage{msg: msg, seq: m.inserted}
	m.byID[msg.ID] = sm
	m.bySess[msg.SessionID] = append(m.bySess[msg.SessionID], sm)
	if w := msg.WireID(); w != "" {
		m.byWire[wireKey(msg.SessionID, w)] = sm
	}
	return nil
}

func (m *messageStore) FindByID(_ context.Context, id string) (model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm, ok := m.byID[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return cloneMessage(sm.msg), nil
}

func (m *messageStore) FindByWireID(_ context.Context, sessionID, wireID string) (model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sm, ok := m.byWire[wireKey(sessionID, wireID)]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return cloneMessage(sm.msg), nil
}

func (m *messageStore) FindBySessionID(_ context.Context, sessionID string, limit int) ([]model.Message, error) {
	limit = normalizeLimit(limit)

	m.mu.RLock()
	list := make([]*storedMessage, len(m.bySess[sessionID]))
	copy(list, m.bySess[sessionID])
	result := make([]model.Message, 0, len(list))
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].msg.Timestamp == list[j].msg.Timestamp {
			return list[i].seq < list[j].seq
		}
		return list[i].msg.Timestamp < list[j].msg.Timestamp
	})
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	for _, sm := range list {
		result = append(result, cloneMessage(sm.msg))
	}
	m.mu.RUnlock()
	return result, nil
}

func (m *messageStore) UpdateStatus(_ context.Context, id string, status model.MessageStatus, updatedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	sm.msg.Status = status
	sm.msg.UpdatedAt = updatedAt
	return nil
}
