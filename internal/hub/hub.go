// Package hub relays session events to realtime subscribers. Delivery is best
// effort: a subscriber that cannot be written to is dropped and has to
// resubscribe and pull history.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GlobalRoom receives the events of every session.
const GlobalRoom = "*"

const (
	EventConnectionUpdate = "connection.update"
	EventSessionQR        = "session.qr"
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventPresenceUpdate   = "presence.update"
	EventContactsUpsert   = "contacts.upsert"
	EventContactsUpdate   = "contacts.update"
	EventChatsUpsert      = "chats.upsert"
	EventChatsUpdate      = "chats.update"
)

type Event struct {
	Name      string `json:"event"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
	At        int64  `json:"at"`
}

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one subscriber. Room is a session id, or GlobalRoom.
type Connection struct {
	Room   string
	Writer Writer
}

// Sink is another realtime transport fed by Publish, such as the socket.io
// endpoint.
type Sink interface {
	Publish(ev Event)
}

type Hub struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
	sinks []Sink
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{logger: logger, rooms: make(map[string]map[*Connection]struct{})}
}

// Attach adds a transport that receives every published event.
func (h *Hub) Attach(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

func (h *Hub) Register(conn *Connection) {
	if conn.Room == "" {
		conn.Room = GlobalRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[conn.Room] == nil {
		h.rooms[conn.Room] = make(map[*Connection]struct{})
	}
	h.rooms[conn.Room][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.rooms[conn.Room]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.rooms, conn.Room)
	}
}

func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Publish sends ev to the session's room and to the global room.
func (h *Hub) Publish(ev Event) {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Name).Msg("hub: encode event")
		return
	}
	if ev.SessionID != "" && ev.SessionID != GlobalRoom {
		h.Broadcast(ev.SessionID, payload)
	}
	h.Broadcast(GlobalRoom, payload)

	h.mu.RLock()
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(ev)
	}
}

func (h *Hub) Broadcast(room string, message []byte) {
	h.mu.RLock()
	set := h.rooms[room]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.logger.Debug().Str("room", room).Msg("hub: dropping subscriber after failed write")
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
