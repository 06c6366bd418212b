package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/authstate"
	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/idempotency"
	"wa-gateway-lite/internal/model"
	"wa-gateway-lite/internal/normalize"
	"wa-gateway-lite/internal/status"
	"wa-gateway-lite/internal/store"
)

// HandleEvent applies one connector event for the session's current
// connector. Connector sinks go through the per-session queue instead.
func (m *Manager) HandleEvent(sessionID string, ev connector.Event) {
	b, _ := m.registry.Lookup(sessionID)
	m.dispatch(sessionID, b, ev)
}

func (m *Manager) dispatch(sessionID string, b *Binding, ev connector.Event) {
	ctx := m.baseCtx
	if ctx.Err() != nil {
		return
	}
	log := m.sessionLogger(sessionID)

	switch e := ev.(type) {
	case connector.ConnectionUpdate:
		unlock := m.lock(sessionID)
		defer unlock()
		if b == nil || !m.registry.isCurrent(sessionID, b) {
			log.Debug().Str("state", e.State).Msg("connection update from a replaced connector ignored")
			return
		}
		m.connectionUpdateLocked(ctx, sessionID, b, e)
	case connector.MessagesUpsert:
		for _, wm := range e.Messages {
			m.ingest(ctx, log, sessionID, b, wm)
		}
	case connector.MessagesUpdate:
		for _, u := range e.Updates {
			m.applyReceipt(ctx, log, sessionID, u)
		}
	case connector.CredsUpdate:
		unlock := m.lock(sessionID)
		defer unlock()
		if b == nil || !m.registry.isCurrent(sessionID, b) {
			log.Debug().Msg("creds update from a replaced connector ignored")
			return
		}
		m.applyCreds(ctx, log, sessionID, e)
	case connector.ContactsUpsert, connector.ChatsUpsert, connector.PresenceUpdate:
		m.publisher.Publish(hub.Event{Name: ev.EventName(), SessionID: sessionID, Data: ev, At: m.now().UnixMilli()})
	default:
		log.Debug().Str("event", ev.EventName()).Msg("unhandled connector event")
	}
}

func (m *Manager) connectionUpdateLocked(ctx context.Context, sessionID string, b *Binding, e connector.ConnectionUpdate) {
	log := m.sessionLogger(sessionID)
	switch {
	case e.State == "close" || e.State == "disconnected":
		reason := connector.DisconnectReason{}
		if e.Reason != nil {
			reason = *e.Reason
		}
		m.disconnectedLocked(ctx, sessionID, b, reason)
		return
	case e.QR != "" || e.State == "qr":
		m.qrLocked(ctx, sessionID, e.QR)
		return
	}

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("connection update for unknown session")
		return
	}
	sess.ConnectionState = e.State
	if e.State == "open" || e.State == "connected" {
		sess.Status = model.SessionConnected
		sess.LastConnectedAt = m.now().UnixMilli()
		m.tracker.Reset(sessionID)
		m.scheduler.Cancel(sessionID)
		if err := m.cache.Del(ctx, qrKey(sessionID)); err != nil {
			log.Warn().Err(err).Msg("drop qr")
		}
		log.Info().Msg("session connected")
	}
	m.saveAndPublish(ctx, &sess)
}

func (m *Manager) qrLocked(ctx context.Context, sessionID, qr string) {
	log := m.sessionLogger(sessionID)
	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("qr for unknown session")
		return
	}
	if qr != "" {
		if err := m.cache.Set(ctx, qrKey(sessionID), qr, m.cfg.QRTTL); err != nil {
			log.Warn().Err(err).Msg("cache qr")
		}
	}
	sess.Status = model.SessionQRScanning
	sess.ConnectionState = "qr"
	m.saveAndPublish(ctx, &sess)
	m.publisher.Publish(hub.Event{
		Name:      hub.EventSessionQR,
		SessionID: sessionID,
		Data:      map[string]string{"qr": qr},
		At:        sess.UpdatedAt,
	})
}

// disconnectedLocked records the disconnect and consults the reconnection
// policy. Only the connector in b is released.
func (m *Manager) disconnectedLocked(ctx context.Context, sessionID string, b *Binding, reason connector.DisconnectReason) {
	log := m.sessionLogger(sessionID).With().Int("code", reason.Code).Logger()

	if m.registry.unbind(sessionID, b) && b.Conn != nil {
		if err := b.Conn.Close(); err != nil {
			log.Debug().Err(err).Msg("close connector")
		}
	}

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("disconnect for unknown session")
		return
	}
	sess.Status = model.SessionDisconnected
	sess.ConnectionState = "close"
	sess.LastDisconnectedAt = m.now().UnixMilli()
	sess.LastDisconnectCode = reason.Code
	sess.LastDisconnectText = reason.Message

	decision := m.policy.Classify(reason.Code)
	if !decision.Retry {
		sess.LastDisconnectText = joinReason(decision.Reason, reason.Message)
	}
	m.saveAndPublish(ctx, &sess)

	if !decision.Retry {
		m.tracker.Reset(sessionID)
		m.scheduler.Cancel(sessionID)
		log.Warn().Str("reason", decision.Reason).Msg("terminal disconnect, not reconnecting")
		if decision.ClearAuth {
			if err := m.auth.Forget(ctx, sessionID); err != nil {
				log.Error().Err(err).Msg("clear auth state")
			}
			if err := m.cache.Del(ctx, qrKey(sessionID)); err != nil {
				log.Warn().Err(err).Msg("drop qr")
			}
		}
		return
	}

	attempt := m.tracker.Next(sessionID)
	delay := m.policy.Delay(attempt)
	if !m.scheduler.Schedule(sessionID, delay, func() { m.reconnect(sessionID) }) {
		log.Debug().Msg("reconnect already pending")
		return
	}
	log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func joinReason(policyReason, connectorReason string) string {
	if connectorReason == "" {
		return policyReason
	}
	return policyReason + ": " + connectorReason
}

func (m *Manager) reconnect(sessionID string) {
	ctx := m.baseCtx
	if ctx.Err() != nil {
		return
	}
	unlock := m.lock(sessionID)
	defer unlock()
	if err := m.connectLocked(ctx, sessionID); err != nil {
		lg := m.sessionLogger(sessionID)
		lg.Warn().Err(err).Msg("reconnect failed")
	}
}

// ingest stores one inbound wire message at most once per wire id.
func (m *Manager) ingest(ctx context.Context, log zerolog.Logger, sessionID string, b *Binding, wm connector.WireMessage) {
	wireID := wm.Key.ID
	log = log.With().Str("wire_id", wireID).Logger()

	if wm.Key.FromMe && wireID != "" {
		// Our own sends come back as upserts; they are already stored.
		if _, err := m.messages.FindByWireID(ctx, sessionID, wireID); err == nil {
			return
		}
	}

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("message for unknown session")
		return
	}

	var dl normalize.Downloader
	if b != nil && b.Conn != nil {
		dl = b.Conn
	}

	process := func(ctx context.Context) (*model.Message, error) {
		msg, payload, ok, err := m.normalizer.Normalize(ctx, normalize.Source{SessionID: sessionID, Owner: sess.PhoneNumber}, dl, wm)
		if err != nil || !ok {
			return nil, err
		}
		msg.Forwarded = payload.Forwarded()
		if quoted := payload.QuotedID(); quoted != "" {
			if ref, err := m.messages.FindByWireID(ctx, sessionID, quoted); err == nil {
				msg.ReplyTo = &ref.ID
			}
		}
		if err := m.messages.Save(ctx, *msg); err != nil {
			return nil, err
		}
		return msg, nil
	}

	var msg *model.Message
	if wireID == "" {
		msg, err = process(ctx)
	} else {
		var claim idempotency.Claim
		msg, claim, err = idempotency.WithClaim(ctx, m.guard, idempotency.InboundKey(sessionID, wireID), "", m.cfg.InboundTTL, process)
		if err == nil && !claim.Granted {
			return
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("inbound message not stored")
		return
	}
	if msg == nil {
		log.Debug().Msg("inbound payload without content dropped")
		return
	}
	m.publisher.Publish(hub.Event{Name: hub.EventMessagesUpsert, SessionID: sessionID, Data: msg, At: m.now().UnixMilli()})
}

func (m *Manager) applyReceipt(ctx context.Context, log zerolog.Logger, sessionID string, u connector.StatusUpdate) {
	msg, err := m.messages.FindByWireID(ctx, sessionID, u.Key.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("wire_id", u.Key.ID).Msg("receipt for unknown message dropped")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("lookup receipt target")
		return
	}

	next, changed := status.Advance(msg.Status, status.Project(u.Status))
	if !changed {
		return
	}
	now := m.now().UnixMilli()
	if err := m.messages.UpdateStatus(ctx, msg.ID, next, now); err != nil {
		log.Error().Err(err).Str("message", msg.ID).Msg("update status")
		return
	}
	m.publisher.Publish(hub.Event{
		Name:      hub.EventMessagesUpdate,
		SessionID: sessionID,
		Data:      map[string]any{"id": msg.ID, "wireId": u.Key.ID, "status": next},
		At:        now,
	})
}

// applyCreds writes the mutation to the hot store and snapshots it before the
// event counts as handled. A snapshot failure is retried by the next mutation.
func (m *Manager) applyCreds(ctx context.Context, log zerolog.Logger, sessionID string, e connector.CredsUpdate) {
	if err := m.auth.ApplyAndPersist(ctx, sessionID, authstate.Update{Creds: e.Creds, Keys: e.Keys}); err != nil {
		log.Error().Err(err).Msg("auth snapshot not persisted")
	}
}
