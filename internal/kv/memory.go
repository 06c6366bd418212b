package kv

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSweepInterval is how often a Memory store evicts expired entries.
const DefaultSweepInterval = time.Minute

type entry struct {
	value     string
	hash      map[string]string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a process-local Store backed by go-cache. It is the default for
// single-node deployments and for tests.
//
// Entries carry their own deadline so an injected clock decides visibility;
// the cache janitor and Sweep reclaim the memory of dead keys.
type Memory struct {
	mu    sync.Mutex
	items *cache.Cache
	now   func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithOptions(time.Now, DefaultSweepInterval)
}

func NewMemoryWithNow(now func() time.Time) *Memory {
	return NewMemoryWithOptions(now, DefaultSweepInterval)
}

// NewMemoryWithOptions builds a store whose janitor runs every sweep.
// A non-positive sweep disables the janitor; Sweep can still be called.
func NewMemoryWithOptions(now func() time.Time, sweep time.Duration) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		items: cache.New(cache.NoExpiration, sweep),
		now:   now,
	}
}

// Len reports the number of entries held, expired or not.
func (m *Memory) Len() int {
	return m.items.ItemCount()
}

// Sweep drops every entry that is expired according to the store clock.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
}

func (m *Memory) sweepLocked() {
	now := m.now()
	for key, item := range m.items.Items() {
		if e, ok := item.Object.(*entry); ok && e.expired(now) {
			m.items.Delete(key)
		}
	}
	m.items.DeleteExpired()
}

func (m *Memory) lookupLocked(key string) (*entry, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.expired(m.now()) {
		m.items.Delete(key)
		return nil, false
	}
	return e, true
}

func (m *Memory) storeLocked(key string, e *entry, ttl time.Duration) {
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
		m.items.Set(key, e, ttl)
		return
	}
	m.items.Set(key, e, cache.NoExpiration)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok || e.hash != nil {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(key, &entry{value: value}, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookupLocked(key); ok {
		return false, nil
	}
	m.storeLocked(key, &entry{value: value}, ttl)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok || e.hash == nil {
		e = &entry{hash: make(map[string]string, len(fields))}
		m.items.Set(key, e, cache.NoExpiration)
	}
	for f, v := range fields {
		e.hash[f] = v
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	e, ok := m.lookupLocked(key)
	if !ok {
		return out, nil
	}
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookupLocked(key)
	if !ok || e.hash == nil {
		return nil
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		m.items.Delete(key)
	}
	return nil
}
