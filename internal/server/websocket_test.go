package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/hub"
)

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ReadJSON hello: %v", err)
	}
	if hello["type"] != "subscribed" {
		t.Fatalf("expected subscribed, got %v", hello)
	}
	return conn
}

func waitSubscribers(t *testing.T, h *hub.Hub, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(room) < n {
		if time.Now().After(deadline) {
			t.Fatalf("room %s has %d subscribers, want %d", room, h.Subscribers(room), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "token="+env.token(t))
	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if resp["type"] != "pong" {
		t.Fatalf("expected pong, got %v", resp)
	}
}

func TestWebSocketSessionRoomReceivesInbound(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	view, err := env.manager.Start(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	env.manager.Flush()

	conn := dialWS(t, srv, "token="+env.token(t, view.ID)+"&sessionId="+view.ID)
	waitSubscribers(t, env.hub, view.ID, 1)

	text := "hi there"
	env.manager.HandleEvent(view.ID, connector.MessagesUpsert{Messages: []connector.WireMessage{{
		Key:              connector.WireKey{ID: "ABC", RemoteJID: "15550002222@s.whatsapp.net"},
		MessageTimestamp: time.Now().Unix(),
		Message:          &connector.WireContent{Conversation: &text},
	}}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev hub.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Name != hub.EventMessagesUpsert || ev.SessionID != view.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWebSocketRejections(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"

	cases := []struct {
		query string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"?token=bad", http.StatusUnauthorized},
		{"?token=" + env.token(t, "s1"), http.StatusForbidden},
		{"?token=" + env.token(t) + "&sessionId=nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		_, resp, err := websocket.DefaultDialer.Dial(base+tc.query, nil)
		if err == nil {
			t.Fatalf("%q: expected dial failure", tc.query)
		}
		if resp == nil || resp.StatusCode != tc.want {
			t.Fatalf("%q: expected %d, got %v", tc.query, tc.want, resp)
		}
	}
}
