package session

import (
	"sync"

	"wa-gateway-lite/internal/connector"
)

type queuedEvent struct {
	binding *Binding
	event   connector.Event
}

type eventQueue struct {
	items   []queuedEvent
	running bool
}

// dispatcher hands connector events to handle one at a time per session, in
// the order they were emitted. Queues are unbounded so a connector's read
// loop never waits on event handling.
type dispatcher struct {
	handle func(sessionID string, b *Binding, ev connector.Event)

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	queues  map[string]*eventQueue
}

func newDispatcher(handle func(string, *Binding, connector.Event)) *dispatcher {
	d := &dispatcher{handle: handle, queues: make(map[string]*eventQueue)}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) enqueue(sessionID string, b *Binding, ev connector.Event) {
	d.mu.Lock()
	q := d.queues[sessionID]
	if q == nil {
		q = &eventQueue{}
		d.queues[sessionID] = q
	}
	q.items = append(q.items, queuedEvent{binding: b, event: ev})
	d.pending++
	start := !q.running
	q.running = true
	d.mu.Unlock()

	if start {
		go d.drain(sessionID, q)
	}
}

func (d *dispatcher) drain(sessionID string, q *eventQueue) {
	for {
		d.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			delete(d.queues, sessionID)
			d.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		d.mu.Unlock()

		d.handle(sessionID, item.binding, item.event)

		d.mu.Lock()
		d.pending--
		if d.pending == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}
}

// wait blocks until every queued event has been handled.
func (d *dispatcher) wait() {
	d.mu.Lock()
	for d.pending > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
