package hub

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

type testWriter struct {
	writes [][]byte
	fail   bool
	closed bool
}

func (w *testWriter) Write(message []byte) error {
	w.writes = append(w.writes, message)
	if w.fail {
		return errTest
	}
	return nil
}

func (w *testWriter) Close() error {
	w.closed = true
	return nil
}

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := New(zerolog.Nop())
	w1 := &testWriter{}
	c1 := &Connection{Room: "s1", Writer: w1}

	h.Register(c1)
	h.Broadcast("s1", []byte("x"))
	if len(w1.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(w1.writes))
	}

	h.Unregister(c1)
	h.Broadcast("s1", []byte("x"))
	if len(w1.writes) != 1 {
		t.Fatalf("expected no more writes, got %d", len(w1.writes))
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New(zerolog.Nop())
	w1 := &testWriter{fail: true}
	c1 := &Connection{Room: "s1", Writer: w1}
	h.Register(c1)

	h.Broadcast("s1", []byte("x"))
	h.Broadcast("s1", []byte("x"))
	if len(w1.writes) != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", len(w1.writes))
	}
	if !w1.closed {
		t.Fatalf("expected failed writer to be closed")
	}
	if h.Subscribers("s1") != 0 {
		t.Fatalf("expected room to be empty")
	}
}

func TestHub_PublishReachesSessionAndGlobalRooms(t *testing.T) {
	h := New(zerolog.Nop())
	session := &testWriter{}
	other := &testWriter{}
	global := &testWriter{}
	h.Register(&Connection{Room: "s1", Writer: session})
	h.Register(&Connection{Room: "s2", Writer: other})
	h.Register(&Connection{Writer: global})

	h.Publish(Event{Name: EventConnectionUpdate, SessionID: "s1", Data: map[string]string{"status": "connected"}})

	if len(session.writes) != 1 || len(global.writes) != 1 {
		t.Fatalf("session=%d global=%d, want 1 each", len(session.writes), len(global.writes))
	}
	if len(other.writes) != 0 {
		t.Fatalf("other session received %d events", len(other.writes))
	}

	var got Event
	if err := json.Unmarshal(global.writes[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != EventConnectionUpdate || got.SessionID != "s1" || got.At == 0 {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHub_PublishGlobalOnlyOnce(t *testing.T) {
	h := New(zerolog.Nop())
	global := &testWriter{}
	h.Register(&Connection{Room: GlobalRoom, Writer: global})

	h.Publish(Event{Name: EventPresenceUpdate, SessionID: GlobalRoom})
	if len(global.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(global.writes))
	}
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.events = append(s.events, ev)
}

func TestHub_PublishFeedsAttachedSinks(t *testing.T) {
	h := New(zerolog.Nop())
	sink := &recordingSink{}
	h.Attach(sink)

	h.Publish(Event{Name: EventSessionQR, SessionID: "s1", Data: "QR"})
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].SessionID != "s1" || sink.events[0].At == 0 {
		t.Fatalf("unexpected event: %+v", sink.events[0])
	}
}
