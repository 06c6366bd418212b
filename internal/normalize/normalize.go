// Package normalize turns inbound wire messages into canonical messages.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"wa-gateway-lite/internal/blob"
	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/model"
)

// Downloader fetches the decrypted bytes of a media message.
type Downloader interface {
	DownloadMedia(ctx context.Context, msg connector.WireMessage) ([]byte, string, error)
}

// Source identifies the session a wire message arrived on.
type Source struct {
	SessionID string
	// Owner is the session's own address, used as the sender of messages
	// that were sent from another device of the same account.
	Owner string
}

type Normalizer struct {
	uploader blob.Uploader
	now      func() time.Time
}

func New(uploader blob.Uploader) (*Normalizer, error) {
	return NewWithNow(uploader, time.Now)
}

func NewWithNow(uploader blob.Uploader, now func() time.Time) (*Normalizer, error) {
	if uploader == nil {
		return nil, errors.New("normalize: uploader must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{uploader: uploader, now: now}, nil
}

func MediaPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/media"
}

// Normalize builds the canonical message for wm. It reports false, with no
// error, for payloads that carry nothing storable. Reply references are left
// unset; the caller resolves Payload.QuotedID against its repository.
func (n *Normalizer) Normalize(ctx context.Context, src Source, dl Downloader, wm connector.WireMessage) (*model.Message, Payload, bool, error) {
	p := Resolve(wm)
	if p.Kind == KindUnknown {
		return nil, p, false, nil
	}

	var content string
	switch {
	case p.IsMedia():
		if dl == nil {
			return nil, p, false, errors.New("normalize: media message without a downloader")
		}
		url, err := n.offload(ctx, src.SessionID, dl, wm, p)
		if err != nil {
			return nil, p, false, err
		}
		content = url
		if p.Text != "" {
			content = p.Text + "\n" + url
		}
	case p.Kind == KindText:
		content = p.Text
	default:
		encoded, err := encodeStructured(p)
		if err != nil {
			return nil, p, false, err
		}
		content = encoded
	}

	now := n.now().UnixMilli()
	ts := wm.MessageTimestamp * 1000
	if ts <= 0 || ts > now {
		ts = now
	}

	msg := &model.Message{
		ID:        uuid.NewString(),
		SessionID: src.SessionID,
		Type:      model.MessageType(p.Kind),
		Content:   content,
		Timestamp: ts,
		Key: &model.MessageKey{
			ID:        wm.Key.ID,
			RemoteJID: wm.Key.RemoteJID,
			FromMe:    wm.Key.FromMe,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if wm.Key.FromMe {
		msg.Direction = model.DirectionOutgoing
		msg.Status = model.StatusSent
		msg.From = src.Owner
		msg.To = wm.Key.RemoteJID
	} else {
		msg.Direction = model.DirectionIncoming
		msg.Status = model.StatusDelivered
		msg.From = wm.Key.RemoteJID
		if wm.Key.Participant != "" {
			msg.From = wm.Key.Participant
		}
		msg.To = src.Owner
	}
	return msg, p, true, nil
}

func (n *Normalizer) offload(ctx context.Context, sessionID string, dl Downloader, wm connector.WireMessage, p Payload) (string, error) {
	data, contentType, err := dl.DownloadMedia(ctx, wm)
	if err != nil {
		return "", fmt.Errorf("normalize: download %s: %w", p.Kind, err)
	}
	if contentType == "" {
		contentType = p.Media.Mimetype
	}
	if contentType == "" {
		contentType = defaultContentType(p.Kind)
	}
	url, err := n.uploader.Upload(ctx, data, contentType, MediaPrefix(sessionID))
	if err != nil {
		return "", fmt.Errorf("normalize: upload %s: %w", p.Kind, err)
	}
	return url, nil
}

func defaultContentType(k Kind) string {
	switch k {
	case KindImage:
		return "image/jpeg"
	case KindVideo:
		return "video/mp4"
	case KindAudio:
		return "audio/ogg"
	case KindSticker:
		return "image/webp"
	}
	return "application/octet-stream"
}

// encodeStructured serializes structured kinds as JSON objects. Map keys are
// emitted sorted, so equal payloads always encode to equal content.
func encodeStructured(p Payload) (string, error) {
	var fields map[string]any
	switch p.Kind {
	case KindContact:
		fields = map[string]any{
			"displayName": p.Contact.DisplayName,
			"vcard":       p.Contact.VCard,
		}
	case KindLocation:
		fields = map[string]any{
			"latitude":  p.Location.DegreesLatitude,
			"longitude": p.Location.DegreesLongitude,
		}
		if p.Location.Name != "" {
			fields["name"] = p.Location.Name
		}
		if p.Location.Address != "" {
			fields["address"] = p.Location.Address
		}
	case KindReaction:
		fields = map[string]any{
			"emoji":    p.Reaction.Text,
			"targetId": p.Reaction.Key.ID,
		}
	default:
		return "", fmt.Errorf("normalize: %s is not a structured kind", p.Kind)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("normalize: encode %s: %w", p.Kind, err)
	}
	return strings.TrimSpace(string(data)), nil
}
