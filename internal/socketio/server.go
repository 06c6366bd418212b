// Package socketio serves session events over the socket.io v4 protocol
// (engine.io on a websocket transport). Each client joins a session room, or
// the global room when its token is not scoped to particular sessions.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/auth"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/session"
)

const (
	maxPayload   int64         = 64 * 1024
	writeTimeout time.Duration = 10 * time.Second
	pingInterval time.Duration = 25 * time.Second
	pingTimeout  time.Duration = 20 * time.Second
	lookupWait   time.Duration = 5 * time.Second
)

var (
	errMissingAuth   = errors.New("Missing auth")
	errInvalidToken  = errors.New("Invalid authentication token")
	errScopedToken   = errors.New("Token is scoped to specific sessions")
	errOutOfScope    = errors.New("Session not in token scope")
	errNoSuchSession = errors.New("Session not found")
)

// SessionLookup resolves a session id before a client may join its room.
type SessionLookup interface {
	Get(ctx context.Context, sessionID string) (session.View, error)
}

type Deps struct {
	Sessions    SessionLookup
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
}

type Server struct {
	sessions    SessionLookup
	tokenConfig auth.TokenConfig
	logger      zerolog.Logger

	upgrader websocket.Upgrader

	mu     sync.RWMutex
	rooms  map[string]map[*conn]struct{}
	conns  map[*conn]struct{}
	closed bool
}

func NewServer(deps Deps) *Server {
	return &Server{
		sessions:    deps.Sessions,
		tokenConfig: deps.TokenConfig,
		logger:      deps.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*conn]struct{}),
		conns: make(map[*conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws)
	if !s.registerConn(c) {
		c.close()
		return
	}
	defer s.unregisterConn(c)

	open := map[string]any{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": pingInterval.Milliseconds(),
		"pingTimeout":  pingTimeout.Milliseconds(),
		"maxPayload":   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	_ = c.writeText(string(engineOpen) + string(openBytes))

	go c.pingLoop()
	c.readLoop(func(msg string) {
		s.handleMessage(r.Context(), c, msg)
	})
}

// Publish emits ev to its session room and to the global room. A client in
// both rooms receives it once.
func (s *Server) Publish(ev hub.Event) {
	packet, err := buildEventPacket("/", ev.Name, ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event", ev.Name).Msg("socketio: encode event")
		return
	}
	s.broadcastToRoom(packet, ev.SessionID, hub.GlobalRoom)
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.unregisterConn(c)
	}
}

// Members reports how many connected clients have joined room.
func (s *Server) Members(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

func (s *Server) registerConn(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) unregisterConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	for room := range c.rooms {
		s.leaveRoom(room, c)
	}
	s.mu.Unlock()

	c.close()
}

// joinRoom and leaveRoom require s.mu.
func (s *Server) joinRoom(key string, c *conn) {
	if key == "" {
		return
	}
	set, ok := s.rooms[key]
	if !ok {
		set = make(map[*conn]struct{})
		s.rooms[key] = set
	}
	set[c] = struct{}{}
	c.rooms[key] = struct{}{}
}

func (s *Server) leaveRoom(key string, c *conn) {
	delete(c.rooms, key)
	set, ok := s.rooms[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.rooms, key)
	}
}

func (s *Server) broadcastToRoom(payload string, keys ...string) {
	s.mu.RLock()
	seen := make(map[*conn]struct{})
	conns := make([]*conn, 0)
	for _, key := range keys {
		if key == "" {
			continue
		}
		for c := range s.rooms[key] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeText(string(engineMessage) + payload); err != nil {
			s.logger.Debug().Str("sid", c.sid).Msg("socketio: dropping client after failed write")
			s.unregisterConn(c)
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, c *conn, msg string) {
	if msg == "" {
		return
	}

	switch enginePacketType(msg[0]) {
	case enginePong:
		c.markPong()
	case engineMessage:
		s.handleSocketPayload(ctx, c, msg[1:])
	case engineClose:
		c.close()
	}
}

type connectAuth struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleSocketPayload(ctx context.Context, c *conn, payload string) {
	if payload == "" {
		return
	}

	switch socketPacketType(payload[0]) {
	case socketConnect:
		s.handleConnect(ctx, c, payload)
	case socketEvent:
		s.handleEvent(ctx, c, payload)
	case socketDisconnect:
		c.close()
	}
}

// authorizeRoom picks the room a token may join. An empty session id asks for
// the global room, which only unscoped tokens may join.
func (s *Server) authorizeRoom(ctx context.Context, claims *auth.Claims, sessionID string) (string, error) {
	if sessionID == "" {
		if len(claims.Sessions) > 0 {
			return "", errScopedToken
		}
		return hub.GlobalRoom, nil
	}
	if !claims.AllowsSession(sessionID) {
		return "", errOutOfScope
	}
	lookupCtx, cancel := context.WithTimeout(ctx, lookupWait)
	defer cancel()
	if _, err := s.sessions.Get(lookupCtx, sessionID); err != nil {
		return "", errNoSuchSession
	}
	return sessionID, nil
}

func (s *Server) rejectConnect(c *conn, namespace string, reason error) {
	packet, err := buildConnectErrorPacket(namespace, reason.Error())
	if err == nil {
		_ = c.writeText(string(engineMessage) + packet)
	}
	c.close()
}

func (s *Server) handleConnect(ctx context.Context, c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	if rest == "" {
		s.rejectConnect(c, ns, errMissingAuth)
		return
	}
	var authObj connectAuth
	if err := json.Unmarshal([]byte(rest), &authObj); err != nil || authObj.Token == "" {
		s.rejectConnect(c, ns, errMissingAuth)
		return
	}
	claims, err := auth.VerifyToken(authObj.Token, s.tokenConfig)
	if err != nil {
		s.rejectConnect(c, ns, errInvalidToken)
		return
	}
	room, err := s.authorizeRoom(ctx, claims, authObj.SessionID)
	if err != nil {
		s.rejectConnect(c, ns, err)
		return
	}

	c.claims = claims
	s.mu.Lock()
	s.joinRoom(room, c)
	s.mu.Unlock()
	c.connected.Store(true)
	s.logger.Debug().Str("room", room).Str("subject", claims.Subject).Msg("socketio client joined")

	packet, err := buildConnectPacket(ns, c.sid)
	if err == nil {
		_ = c.writeText(string(engineMessage) + packet)
	}
}

type roomBody struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleEvent(ctx context.Context, c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := parseEventPacket(payload)
	if err != nil {
		return
	}

	switch pkt.Event {
	case "ping":
		s.ack(c, pkt)

	case "subscribe":
		var body roomBody
		if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil {
			s.ack(c, pkt, gin.H{"ok": false, "error": "Invalid body"})
			return
		}
		room, err := s.authorizeRoom(ctx, c.claims, body.SessionID)
		if err != nil {
			s.ack(c, pkt, gin.H{"ok": false, "error": err.Error()})
			return
		}
		s.mu.Lock()
		s.joinRoom(room, c)
		s.mu.Unlock()
		s.ack(c, pkt, gin.H{"ok": true, "room": room})

	case "unsubscribe":
		var body roomBody
		if len(pkt.Args) < 1 || json.Unmarshal(pkt.Args[0], &body) != nil {
			s.ack(c, pkt, gin.H{"ok": false, "error": "Invalid body"})
			return
		}
		room := body.SessionID
		if room == "" {
			room = hub.GlobalRoom
		}
		s.mu.Lock()
		s.leaveRoom(room, c)
		s.mu.Unlock()
		s.ack(c, pkt, gin.H{"ok": true, "room": room})
	}
}

// ack answers pkt when the client asked for an acknowledgement.
func (s *Server) ack(c *conn, pkt eventPacket, args ...any) {
	if pkt.ID == nil {
		return
	}
	packet, err := buildAckPacket(pkt.Namespace, *pkt.ID, args...)
	if err == nil {
		_ = c.writeText(string(engineMessage) + packet)
	}
}

type conn struct {
	ws  *websocket.Conn
	sid string

	connected atomic.Bool
	claims    *auth.Claims
	// rooms is guarded by Server.mu.
	rooms map[string]struct{}

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:         ws,
		sid:        uuid.NewString(),
		rooms:      make(map[string]struct{}),
		nextPingAt: time.Now().Add(pingInterval),
	}
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		if c.awaitingPong && now.Sub(c.pingSentAt) > pingTimeout {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !c.awaitingPong && !now.Before(c.nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(pingInterval)
			c.pingMu.Unlock()
			_ = c.writeText(string(enginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}
