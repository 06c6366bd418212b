package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"

	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/hub"
	"wa-gateway-lite/internal/idempotency"
	"wa-gateway-lite/internal/model"
	"wa-gateway-lite/internal/status"
	"wa-gateway-lite/internal/store"
)

type SendCommand struct {
	SessionID string
	To        string
	From      string
	Type      model.MessageType
	Content   string
	ReplyTo   string
	ForwardOf string
	// ClientID scopes deduplication of retried calls. Without it, sends are
	// deduplicated on recipient, type and content for a short window only.
	ClientID string
}

// newWireID generates a message id in the form the network's own clients use.
func newWireID() string {
	var b [10]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "3EB0" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
	}
	return "3EB0" + strings.ToUpper(hex.EncodeToString(b[:]))
}

// SendMessage persists an outgoing message and hands it to the session's
// connector. Without a bound connector the message is kept as pending and no
// error is returned. A repeated command returns the message recorded by the
// first one.
func (m *Manager) SendMessage(ctx context.Context, cmd SendCommand) (model.Message, error) {
	cmd.To = strings.TrimSpace(cmd.To)
	if cmd.To == "" {
		return model.Message{}, newError(ErrorInvalidInput, "recipient is required", nil)
	}
	if cmd.Type == "" {
		cmd.Type = model.MessageText
	}
	if !cmd.Type.Valid() {
		return model.Message{}, newError(ErrorInvalidInput, "unsupported message type "+string(cmd.Type), nil)
	}

	sess, err := m.sessions.FindByID(ctx, cmd.SessionID)
	if err != nil {
		return model.Message{}, m.lookupError(err)
	}

	var replyTo, forwardOf *model.Message
	if cmd.ReplyTo != "" {
		if replyTo, err = m.reference(ctx, cmd.SessionID, cmd.ReplyTo); err != nil {
			return model.Message{}, err
		}
	}
	if cmd.ForwardOf != "" {
		if forwardOf, err = m.reference(ctx, cmd.SessionID, cmd.ForwardOf); err != nil {
			return model.Message{}, err
		}
		if cmd.Content == "" {
			cmd.Type = forwardOf.Type
			cmd.Content = forwardOf.Content
		}
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return model.Message{}, newError(ErrorInvalidInput, "content is required", nil)
	}

	key, ttl := idempotency.OutboundKey(cmd.SessionID, cmd.ClientID), m.cfg.OutboundTTL
	if cmd.ClientID == "" {
		key, ttl = idempotency.OutboundFallbackKey(cmd.SessionID, cmd.To, string(cmd.Type), cmd.Content), m.cfg.FallbackTTL
	}
	msgID := uuid.NewString()

	msg, claim, err := idempotency.WithClaim(ctx, m.guard, key, msgID, ttl, func(ctx context.Context) (model.Message, error) {
		return m.deliver(ctx, sess, msgID, cmd, replyTo, forwardOf)
	})
	if err != nil {
		return model.Message{}, newError(ErrorInternal, "send message", err)
	}
	if !claim.Granted {
		return m.duplicate(ctx, cmd, claim), nil
	}
	return msg, nil
}

func (m *Manager) reference(ctx context.Context, sessionID, id string) (*model.Message, error) {
	ref, err := m.messages.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && ref.SessionID != sessionID) {
		return nil, newError(ErrorReferenceNotFound, "referenced message "+id+" not found", err)
	}
	if err != nil {
		return nil, newError(ErrorInternal, "find referenced message", err)
	}
	return &ref, nil
}

// duplicate resolves a suppressed send to the message of the first call. If
// that call is still in flight the message is not stored yet, and a pending
// placeholder carrying its id is returned.
func (m *Manager) duplicate(ctx context.Context, cmd SendCommand, claim idempotency.Claim) model.Message {
	if claim.Token != "" {
		if prior, err := m.messages.FindByID(ctx, claim.Token); err == nil {
			return prior
		}
	}
	lg := m.sessionLogger(cmd.SessionID)
	lg.Debug().Str("holder", claim.Token).Msg("duplicate send while first is in flight")
	now := m.now().UnixMilli()
	return model.Message{
		ID:        claim.Token,
		SessionID: cmd.SessionID,
		From:      cmd.From,
		To:        cmd.To,
		Type:      cmd.Type,
		Content:   cmd.Content,
		Timestamp: now,
		Direction: model.DirectionOutgoing,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *Manager) deliver(ctx context.Context, sess model.Session, msgID string, cmd SendCommand, replyTo, forwardOf *model.Message) (model.Message, error) {
	log := m.sessionLogger(sess.ID).With().Str("message", msgID).Logger()
	now := m.now().UnixMilli()

	from := cmd.From
	if from == "" {
		from = sess.PhoneNumber
	}
	msg := model.Message{
		ID:        msgID,
		SessionID: sess.ID,
		From:      from,
		To:        cmd.To,
		Type:      cmd.Type,
		Content:   cmd.Content,
		Timestamp: now,
		Direction: model.DirectionOutgoing,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if replyTo != nil {
		msg.ReplyTo = &replyTo.ID
	}
	if forwardOf != nil {
		msg.ForwardOf = &forwardOf.ID
		msg.Forwarded = true
	}

	b, bound := m.registry.Lookup(sess.ID)
	if bound {
		msg.Key = &model.MessageKey{ID: newWireID(), RemoteJID: jid(cmd.To), FromMe: true}
	}
	if err := m.messages.Save(ctx, msg); err != nil {
		return model.Message{}, err
	}

	if !bound {
		log.Info().Msg("no connector bound, message kept pending")
		m.publishMessage(msg)
		return msg, nil
	}

	payload := connector.OutboundPayload{
		Type:      string(msg.Type),
		Content:   msg.Content,
		Forwarded: forwardOf != nil,
	}
	if replyTo != nil {
		payload.QuotedID = replyTo.WireID()
	}

	next := model.StatusSent
	if err := b.Conn.SendMessage(ctx, msg.Key.RemoteJID, payload, connector.SendOptions{MessageID: msg.Key.ID}); err != nil {
		log.Warn().Err(err).Msg("connector send failed")
		next = model.StatusFailed
	}
	// A receipt may already have moved the stored row past sent.
	if cur, err := m.messages.FindByID(ctx, msg.ID); err == nil {
		msg.Status = cur.Status
	}
	if advanced, changed := status.Advance(msg.Status, next); changed {
		msg.Status = advanced
		msg.UpdatedAt = m.now().UnixMilli()
		if err := m.messages.UpdateStatus(ctx, msg.ID, msg.Status, msg.UpdatedAt); err != nil {
			log.Error().Err(err).Msg("update status after send")
		}
	}
	m.publishMessage(msg)
	return msg, nil
}

func (m *Manager) publishMessage(msg model.Message) {
	m.publisher.Publish(hub.Event{Name: hub.EventMessagesUpsert, SessionID: msg.SessionID, Data: msg, At: msg.UpdatedAt})
}
