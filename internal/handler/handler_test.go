package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"wa-gateway-lite/internal/auth"
	"wa-gateway-lite/internal/middleware"
	"wa-gateway-lite/internal/model"
	"wa-gateway-lite/internal/session"
)

var tokenCfg = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

type fakeSessions struct {
	sessions map[string]model.Session
	qr       map[string]string
	started  []string
}

func (f *fakeSessions) Start(_ context.Context, phone string) (session.View, error) {
	if phone == "bad" {
		return session.View{}, &session.Error{Code: session.ErrorInvalidInput, Reason: "invalid phone number"}
	}
	f.started = append(f.started, phone)
	return session.View{Session: model.Session{ID: "s-new", PhoneNumber: phone, Status: model.SessionConnecting}}, nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (session.View, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.View{}, &session.Error{Code: session.ErrorNotFound, Reason: "session " + id}
	}
	return session.View{Session: s, QR: f.qr[id]}, nil
}

func (f *fakeSessions) List(context.Context) ([]model.Session, error) {
	out := make([]model.Session, 0, len(f.sessions))
	for _, id := range []string{"s1", "s2"} {
		if s, ok := f.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) QR(ctx context.Context, id string) (string, error) {
	v, err := f.Get(ctx, id)
	return v.QR, err
}

func (f *fakeSessions) Stop(ctx context.Context, id string) (session.View, error) {
	v, err := f.Get(ctx, id)
	v.Status = model.SessionDisconnected
	return v, err
}

type fakeMessages struct {
	last session.SendCommand
	err  error
	hist []model.Message
}

func (f *fakeMessages) SendMessage(_ context.Context, cmd session.SendCommand) (model.Message, error) {
	f.last = cmd
	if f.err != nil {
		return model.Message{}, f.err
	}
	return model.Message{ID: "m1", SessionID: cmd.SessionID, To: cmd.To, Type: cmd.Type, Content: cmd.Content, Status: model.StatusPending}, nil
}

func (f *fakeMessages) History(_ context.Context, id string, limit int) ([]model.Message, error) {
	if id != "s1" {
		return nil, &session.Error{Code: session.ErrorNotFound}
	}
	if limit < len(f.hist) {
		return f.hist[len(f.hist)-limit:], nil
	}
	return f.hist, nil
}

func newRouter(t *testing.T, ss *fakeSessions, ms *fakeMessages) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	sh := &SessionHandler{Sessions: ss}
	mh := &MessageHandler{Messages: ms}
	g := r.Group("/v1", middleware.RequireAuth(tokenCfg))
	g.POST("/sessions", sh.Start)
	g.GET("/sessions", sh.List)
	scoped := g.Group("/sessions/:id", middleware.RequireSessionScope("id"))
	scoped.GET("", sh.Get)
	scoped.GET("/qr", sh.QR)
	scoped.DELETE("", sh.Stop)
	scoped.POST("/messages", mh.Send)
	scoped.GET("/messages", mh.History)
	return r
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustToken(t *testing.T, sessions ...string) string {
	t.Helper()
	tok, err := auth.CreateToken("ops", tokenCfg, sessions...)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}

func fixtures() (*fakeSessions, *fakeMessages) {
	ss := &fakeSessions{
		sessions: map[string]model.Session{
			"s1": {ID: "s1", PhoneNumber: "+15550001111", Status: model.SessionQRScanning},
			"s2": {ID: "s2", PhoneNumber: "+15550002222", Status: model.SessionConnected},
		},
		qr: map[string]string{"s1": "QR-1"},
	}
	ms := &fakeMessages{hist: []model.Message{{ID: "a", Timestamp: 1}, {ID: "b", Timestamp: 2}, {ID: "c", Timestamp: 3}}}
	return ss, ms
}

func TestSessionHandler_StartAndErrors(t *testing.T) {
	ss, ms := fixtures()
	r := newRouter(t, ss, ms)
	tok := mustToken(t)

	w := do(t, r, http.MethodPost, "/v1/sessions", tok, map[string]string{"phoneNumber": "+15550003333"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/v1/sessions", tok, map[string]string{"phoneNumber": "bad"})
	if w.Code != http.StatusBadRequest || !bytes.Contains(w.Body.Bytes(), []byte("invalid phone number")) {
		t.Fatalf("expected 400 with reason, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/v1/sessions", tok, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing phone, got %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/v1/sessions", mustToken(t, "s1"), map[string]string{"phoneNumber": "+15550004444"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for scoped token, got %d", w.Code)
	}
	if len(ss.started) != 1 {
		t.Fatalf("expected one start, got %v", ss.started)
	}
}

func TestSessionHandler_GetQRAndScope(t *testing.T) {
	ss, ms := fixtures()
	r := newRouter(t, ss, ms)

	w := do(t, r, http.MethodGet, "/v1/sessions/s1/qr", mustToken(t), nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("QR-1")) {
		t.Fatalf("expected qr, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/v1/sessions/s2/qr", mustToken(t), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without pending qr, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/v1/sessions/missing", mustToken(t), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	scoped := mustToken(t, "s1")
	w = do(t, r, http.MethodGet, "/v1/sessions/s2", scoped, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/v1/sessions", scoped, nil)
	var list struct {
		Sessions []model.Session `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != "s1" {
		t.Fatalf("expected only s1, got %+v", list.Sessions)
	}

	w = do(t, r, http.MethodDelete, "/v1/sessions/s1", scoped, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"disconnected"`)) {
		t.Fatalf("expected stopped session, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMessageHandler_Send(t *testing.T) {
	ss, ms := fixtures()
	r := newRouter(t, ss, ms)
	tok := mustToken(t)

	w := do(t, r, http.MethodPost, "/v1/sessions/s1/messages", tok, map[string]string{
		"to": "+15550009999", "type": "text", "content": "hi", "replyTo": "m0",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ms.last.SessionID != "s1" || ms.last.ReplyTo != "m0" || ms.last.Type != model.MessageText {
		t.Fatalf("unexpected command: %+v", ms.last)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/messages", bytes.NewBufferString(`{"to":"x","content":"y"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Idempotency-Key", "client-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || ms.last.ClientID != "client-7" {
		t.Fatalf("expected header client id, got %d %+v", rec.Code, ms.last)
	}

	ms.err = &session.Error{Code: session.ErrorReferenceNotFound, Reason: "reply target"}
	w = do(t, r, http.MethodPost, "/v1/sessions/s1/messages", tok, map[string]string{"to": "x", "content": "y", "replyTo": "nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	ms.err = errors.New("boom")
	w = do(t, r, http.MethodPost, "/v1/sessions/s1/messages", tok, map[string]string{"to": "x", "content": "y"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestMessageHandler_History(t *testing.T) {
	ss, ms := fixtures()
	r := newRouter(t, ss, ms)
	tok := mustToken(t)

	w := do(t, r, http.MethodGet, "/v1/sessions/s1/messages?limit=2", tok, nil)
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].ID != "b" || resp.Messages[1].ID != "c" {
		t.Fatalf("unexpected history: %+v", resp.Messages)
	}

	w = do(t, r, http.MethodGet, "/v1/sessions/s1/messages?limit=zero", tok, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/v1/sessions/s2/messages", tok, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
