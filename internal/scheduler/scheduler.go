// Package scheduler runs delayed tasks keyed by name, with at most one
// pending task per key.
package scheduler

import (
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// AfterFunc matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type task struct {
	id    uint64
	timer Timer
}

type Scheduler struct {
	after AfterFunc

	mu      sync.Mutex
	nextID  uint64
	pending map[string]task
	stopped bool
}

func New() *Scheduler {
	return NewWithAfterFunc(realAfterFunc)
}

func NewWithAfterFunc(after AfterFunc) *Scheduler {
	if after == nil {
		after = realAfterFunc
	}
	return &Scheduler{after: after, pending: make(map[string]task)}
}

// Schedule runs fn after delay unless a task for key is already pending, in
// which case it does nothing and returns false. The key is free again by the
// time fn runs, so fn may schedule a follow-up under the same key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, ok := s.pending[key]; ok {
		return false
	}
	s.nextID++
	id := s.nextID
	timer := s.after(delay, func() {
		s.mu.Lock()
		current, ok := s.pending[key]
		if !ok || current.id != id {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()
		fn()
	})
	s.pending[key] = task{id: id, timer: timer}
	return true
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Cancel drops the pending task for key and reports whether there was one.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[key]
	if !ok {
		return false
	}
	delete(s.pending, key)
	t.timer.Stop()
	return true
}

// Stop cancels every pending task and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.pending {
		t.timer.Stop()
		delete(s.pending, key)
	}
}
