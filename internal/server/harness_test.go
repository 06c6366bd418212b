package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/auth"
	"wa-gateway-lite/internal/authstate"
	"wa-gateway-lite/internal/blob"
	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/idempotency"
	"wa-gateway-lite/internal/kv"
	"wa-gateway-lite/internal/normalize"
	"wa-gateway-lite/internal/reconnect"
	"wa-gateway-lite/internal/session"
	"wa-gateway-lite/internal/store"
)

// stubConn reports a QR code as soon as it connects.
type stubConn struct {
	sink connector.Sink

	mu   sync.Mutex
	sent []string
}

func (c *stubConn) Connect(context.Context) error {
	c.sink(connector.ConnectionUpdate{State: "qr", QR: "QR-PAIR"})
	return nil
}

func (c *stubConn) SendMessage(_ context.Context, to string, _ connector.OutboundPayload, opts connector.SendOptions) error {
	c.mu.Lock()
	c.sent = append(c.sent, opts.MessageID)
	c.mu.Unlock()
	return nil
}

func (c *stubConn) DownloadMedia(context.Context, connector.WireMessage) ([]byte, string, error) {
	return []byte("bytes"), "image/jpeg", nil
}

func (c *stubConn) Close() error { return nil }

type testEnv struct {
	router   *gin.Engine
	manager  *session.Manager
	hub      *hub.Hub
	tokenCfg auth.TokenConfig
	stop     func()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	hot := kv.NewMemory()
	hotState, err := authstate.NewHotState(hot)
	if err != nil {
		t.Fatalf("NewHotState: %v", err)
	}
	snaps, err := authstate.NewSQLiteSnapshots(t.TempDir() + "/auth.db")
	if err != nil {
		t.Fatalf("NewSQLiteSnapshots: %v", err)
	}
	t.Cleanup(func() { _ = snaps.Close() })
	synchronizer, err := authstate.NewSynchronizer(hotState, snaps, logger)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	guard, err := idempotency.NewGuard(hot, logger)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	uploader, err := blob.NewFS(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	norm, err := normalize.New(uploader)
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}

	h := hub.New(logger)
	repo := store.NewMemory()
	factory := connector.FactoryFunc(func(_ context.Context, _ connector.Params, sink connector.Sink) (connector.Connector, error) {
		return &stubConn{sink: sink}, nil
	})

	m, err := session.NewManager(session.Deps{
		Sessions:   repo.Sessions(),
		Messages:   repo.Messages(),
		Auth:       synchronizer,
		Cache:      hot,
		Guard:      guard,
		Normalizer: norm,
		Factory:    factory,
		Policy:     reconnect.DefaultPolicy(),
		Publisher:  h,
		Logger:     logger,
	}, session.DefaultConfig())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Shutdown)

	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	r, stop := NewRouter(Deps{Manager: m, Hub: h, TokenConfig: tokenCfg, Logger: logger, SendRateLimit: 2})
	t.Cleanup(stop)
	return &testEnv{router: r, manager: m, hub: h, tokenCfg: tokenCfg, stop: stop}
}

func (e *testEnv) token(t *testing.T, sessions ...string) string {
	t.Helper()
	tok, err := auth.CreateToken("ops", e.tokenCfg, sessions...)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok
}
