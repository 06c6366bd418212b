// Package session owns the per-session connection lifecycle: it binds one
// connector per session, routes connector events through normalization,
// deduplication and status projection, and drives outbound sends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/authstate"
	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/idempotency"
	"wa-gateway-lite/internal/kv"
	"wa-gateway-lite/internal/model"
	"wa-gateway-lite/internal/normalize"
	"wa-gateway-lite/internal/reconnect"
	"wa-gateway-lite/internal/scheduler"
	"wa-gateway-lite/internal/store"
)

// Publisher receives realtime events for subscribers.
type Publisher interface {
	Publish(ev hub.Event)
}

type Config struct {
	QRTTL       time.Duration
	InboundTTL  time.Duration
	OutboundTTL time.Duration
	// FallbackTTL bounds dedupe of sends without a client id. It is kept
	// short because the recipient+content key is only a best-effort match.
	FallbackTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		QRTTL:       60 * time.Second,
		InboundTTL:  24 * time.Hour,
		OutboundTTL: 24 * time.Hour,
		FallbackTTL: 10 * time.Second,
	}
}

type Deps struct {
	Sessions   store.SessionRepository
	Messages   store.MessageRepository
	Auth       *authstate.Synchronizer
	Cache      kv.Store
	Guard      *idempotency.Guard
	Normalizer *normalize.Normalizer
	Factory    connector.Factory
	Policy     reconnect.Policy
	Tracker    *reconnect.Tracker
	Scheduler  *scheduler.Scheduler
	Registry   *Registry
	Publisher  Publisher
	Logger     zerolog.Logger
	Now        func() time.Time
}

// View is a session together with its transient QR payload.
type View struct {
	model.Session
	QR string `json:"qr,omitempty"`
}

type Manager struct {
	cfg        Config
	sessions   store.SessionRepository
	messages   store.MessageRepository
	auth       *authstate.Synchronizer
	cache      kv.Store
	guard      *idempotency.Guard
	normalizer *normalize.Normalizer
	factory    connector.Factory
	policy     reconnect.Policy
	tracker    *reconnect.Tracker
	scheduler  *scheduler.Scheduler
	registry   *Registry
	publisher  Publisher
	logger     zerolog.Logger
	now        func() time.Time

	events *dispatcher
	locks  sync.Map // session id -> *sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewManager(deps Deps, cfg Config) (*Manager, error) {
	switch {
	case deps.Sessions == nil || deps.Messages == nil:
		return nil, errors.New("session: repositories are required")
	case deps.Auth == nil:
		return nil, errors.New("session: auth synchronizer is required")
	case deps.Cache == nil:
		return nil, errors.New("session: cache store is required")
	case deps.Guard == nil:
		return nil, errors.New("session: idempotency guard is required")
	case deps.Normalizer == nil:
		return nil, errors.New("session: normalizer is required")
	case deps.Factory == nil:
		return nil, errors.New("session: connector factory is required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	def := DefaultConfig()
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = def.QRTTL
	}
	if cfg.InboundTTL <= 0 {
		cfg.InboundTTL = def.InboundTTL
	}
	if cfg.OutboundTTL <= 0 {
		cfg.OutboundTTL = def.OutboundTTL
	}
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = def.FallbackTTL
	}
	if deps.Tracker == nil {
		deps.Tracker = reconnect.NewTracker()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.New()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Publisher == nil {
		deps.Publisher = discard{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		sessions:   deps.Sessions,
		messages:   deps.Messages,
		auth:       deps.Auth,
		cache:      deps.Cache,
		guard:      deps.Guard,
		normalizer: deps.Normalizer,
		factory:    deps.Factory,
		policy:     deps.Policy,
		tracker:    deps.Tracker,
		scheduler:  deps.Scheduler,
		registry:   deps.Registry,
		publisher:  deps.Publisher,
		logger:     deps.Logger,
		now:        deps.Now,
		baseCtx:    ctx,
		cancel:     cancel,
	}
	m.events = newDispatcher(m.dispatch)
	return m, nil
}

type discard struct{}

func (discard) Publish(hub.Event) {}

func qrKey(sessionID string) string { return "qr:" + sessionID }

func (m *Manager) lock(sessionID string) func() {
	v, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) sessionLogger(sessionID string) zerolog.Logger {
	return m.logger.With().Str("session", sessionID).Logger()
}

// Start returns the session for phone, creating it on first use. A session
// that already has a bound connector is returned unchanged; otherwise a
// connector is built and connected.
func (m *Manager) Start(ctx context.Context, phone string) (View, error) {
	normalized, ok := NormalizePhone(phone)
	if !ok {
		return View{}, newError(ErrorInvalidInput, "invalid phone number", nil)
	}

	sess, err := m.sessions.FindByPhoneNumber(ctx, normalized)
	switch {
	case err == nil:
		if _, bound := m.registry.Lookup(sess.ID); bound {
			return m.view(ctx, sess), nil
		}
	case errors.Is(err, store.ErrNotFound):
		now := m.now().UnixMilli()
		sess, _, err = m.sessions.Create(ctx, model.Session{
			ID:          uuid.NewString(),
			PhoneNumber: normalized,
			Status:      model.SessionPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return View{}, newError(ErrorInternal, "create session", err)
		}
	default:
		return View{}, newError(ErrorInternal, "find session", err)
	}

	unlock := m.lock(sess.ID)
	err = m.connectLocked(ctx, sess.ID)
	unlock()
	if err != nil {
		return View{}, err
	}
	return m.Get(ctx, sess.ID)
}

// connectLocked binds and connects a fresh connector unless one is already
// bound. The caller holds the session lock.
func (m *Manager) connectLocked(ctx context.Context, sessionID string) error {
	if _, bound := m.registry.Lookup(sessionID); bound {
		return nil
	}
	log := m.sessionLogger(sessionID)

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return m.lookupError(err)
	}

	m.scheduler.Cancel(sessionID)

	if restored, err := m.auth.Restore(ctx, sessionID); err != nil {
		log.Error().Err(err).Msg("auth restore failed")
		m.markFailed(ctx, &sess, "auth restore failed")
		return newError(ErrorInternal, "restore auth state", err)
	} else if restored {
		log.Info().Msg("auth state restored before connect")
	}

	b := m.registry.newBinding()
	conn, err := m.factory.New(ctx, connector.Params{
		SessionID:   sessionID,
		PhoneNumber: sess.PhoneNumber,
		Auth:        m.auth.Hot(),
	}, func(ev connector.Event) { m.events.enqueue(sessionID, b, ev) })
	if err != nil {
		log.Error().Err(err).Msg("connector construction failed")
		m.markFailed(ctx, &sess, "connector construction failed")
		return newError(ErrorInternal, "build connector", err)
	}
	b.Conn = conn
	m.registry.bind(sessionID, b)

	sess.Status = model.SessionConnecting
	sess.ConnectionState = "connecting"
	m.saveAndPublish(ctx, &sess)

	if err := conn.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("connect failed")
		m.disconnectedLocked(ctx, sessionID, b, connector.DisconnectReason{Code: 0, Message: err.Error()})
	}
	return nil
}

func (m *Manager) markFailed(ctx context.Context, sess *model.Session, reason string) {
	sess.Status = model.SessionFailed
	sess.LastDisconnectText = reason
	m.saveAndPublish(ctx, sess)
}

func (m *Manager) saveAndPublish(ctx context.Context, sess *model.Session) {
	sess.UpdatedAt = m.now().UnixMilli()
	if err := m.sessions.Save(ctx, *sess); err != nil {
		lg := m.sessionLogger(sess.ID)
		lg.Error().Err(err).Msg("persist session failed")
	}
	m.publisher.Publish(hub.Event{
		Name:      hub.EventConnectionUpdate,
		SessionID: sess.ID,
		Data:      sess,
		At:        sess.UpdatedAt,
	})
}

func (m *Manager) lookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(ErrorNotFound, "session not found", err)
	}
	return newError(ErrorInternal, "find session", err)
}

func (m *Manager) view(ctx context.Context, sess model.Session) View {
	v := View{Session: sess}
	qr, err := m.cache.Get(ctx, qrKey(sess.ID))
	if err == nil {
		v.QR = qr
	} else if !errors.Is(err, kv.ErrNotFound) {
		lg := m.sessionLogger(sess.ID)
		lg.Warn().Err(err).Msg("read qr failed")
	}
	return v
}

func (m *Manager) Get(ctx context.Context, sessionID string) (View, error) {
	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return View{}, m.lookupError(err)
	}
	return m.view(ctx, sess), nil
}

func (m *Manager) List(ctx context.Context) ([]model.Session, error) {
	list, err := m.sessions.List(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "list sessions", err)
	}
	return list, nil
}

// QR returns the current pairing payload, or "" when none is pending.
func (m *Manager) QR(ctx context.Context, sessionID string) (string, error) {
	v, err := m.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return v.QR, nil
}

// Bound reports whether the session currently has a connector.
func (m *Manager) Bound(sessionID string) bool {
	_, ok := m.registry.Lookup(sessionID)
	return ok
}

// Stop closes the session's connector and cancels any pending reconnect.
// The session row stays; a later Start connects it again.
func (m *Manager) Stop(ctx context.Context, sessionID string) (View, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return View{}, m.lookupError(err)
	}
	m.scheduler.Cancel(sessionID)
	m.tracker.Reset(sessionID)
	if b, ok := m.registry.Lookup(sessionID); ok {
		m.registry.unbind(sessionID, b)
		if err := b.Conn.Close(); err != nil {
			lg := m.sessionLogger(sessionID)
			lg.Warn().Err(err).Msg("close connector")
		}
	}
	if err := m.cache.Del(ctx, qrKey(sessionID)); err != nil {
		lg := m.sessionLogger(sessionID)
		lg.Warn().Err(err).Msg("drop qr")
	}

	sess.Status = model.SessionDisconnected
	sess.ConnectionState = "stopped"
	sess.LastDisconnectedAt = m.now().UnixMilli()
	m.saveAndPublish(ctx, &sess)
	return View{Session: sess}, nil
}

// History returns the latest limit messages of a session, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	if _, err := m.sessions.FindByID(ctx, sessionID); err != nil {
		return nil, m.lookupError(err)
	}
	msgs, err := m.messages.FindBySessionID(ctx, sessionID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "load history", err)
	}
	return msgs, nil
}

// Resume reconnects every stored session that was not deliberately stopped
// or logged out. It is called once at startup.
func (m *Manager) Resume(ctx context.Context) int {
	list, err := m.sessions.List(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("resume: list sessions")
		return 0
	}
	resumed := 0
	for _, sess := range list {
		if sess.Status == model.SessionFailed || sess.ConnectionState == "stopped" {
			continue
		}
		if sess.Status == model.SessionDisconnected && !m.policy.Classify(sess.LastDisconnectCode).Retry {
			continue
		}
		unlock := m.lock(sess.ID)
		err := m.connectLocked(ctx, sess.ID)
		unlock()
		if err != nil {
			lg := m.sessionLogger(sess.ID)
			lg.Warn().Err(err).Msg("resume failed")
			continue
		}
		resumed++
	}
	return resumed
}

// Shutdown closes every bound connector without changing session rows, so
// Resume can pick them up on the next start.
func (m *Manager) Shutdown() {
	m.scheduler.Stop()
	for _, id := range m.registry.Sessions() {
		unlock := m.lock(id)
		if b, ok := m.registry.Lookup(id); ok {
			m.registry.unbind(id, b)
			_ = b.Conn.Close()
		}
		unlock()
	}
	m.cancel()
}

// Flush waits until all queued connector events are handled.
func (m *Manager) Flush() {
	m.events.wait()
}
