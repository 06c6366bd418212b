package session

import (
	"sort"
	"sync"

	"wa-gateway-lite/internal/connector"
)

// Binding is one connector instance bound to a session. Each bind gets a new
// generation, so events from a replaced connector can be told apart.
type Binding struct {
	Conn connector.Connector
	gen  uint64
}

// Registry tracks the connector bound to each session id. A session has at
// most one bound connector.
type Registry struct {
	mu      sync.RWMutex
	nextGen uint64
	bound   map[string]*Binding
}

func NewRegistry() *Registry {
	return &Registry{bound: make(map[string]*Binding)}
}

// Lookup reports the current binding for sessionID; ok is false when the
// session has no connector.
func (r *Registry) Lookup(sessionID string) (b *Binding, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok = r.bound[sessionID]
	return b, ok
}

func (r *Registry) newBinding() *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGen++
	return &Binding{gen: r.nextGen}
}

func (r *Registry) bind(sessionID string, b *Binding) {
	r.mu.Lock()
	r.bound[sessionID] = b
	r.mu.Unlock()
}

// unbind removes b if it is still the current binding.
func (r *Registry) unbind(sessionID string, b *Binding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.bound[sessionID]; ok && cur == b {
		delete(r.bound, sessionID)
		return true
	}
	return false
}

func (r *Registry) isCurrent(sessionID string, b *Binding) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bound[sessionID] == b
}

func (r *Registry) Sessions() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.bound))
	for id := range r.bound {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
