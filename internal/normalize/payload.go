package normalize

import (
	"strings"

	"wa-gateway-lite/internal/connector"
	"wa-gateway-lite/internal/model"
)

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindContact  Kind = "contact"
	KindLocation Kind = "location"
	KindReaction Kind = "reaction"
	KindUnknown  Kind = "unknown"
)

// Payload is a wire message resolved to exactly one kind. Only the field
// matching Kind is set; Context is the reply/forward metadata, if any.
type Payload struct {
	Kind     Kind
	Text     string
	Media    *connector.Media
	Contact  *connector.Contact
	Location *connector.Location
	Reaction *connector.Reaction
	Context  *connector.ContextInfo
}

func (p Payload) IsMedia() bool {
	return model.MessageType(p.Kind).IsMedia()
}

// QuotedID is the wire id of the message this payload replies to.
func (p Payload) QuotedID() string {
	if p.Context == nil {
		return ""
	}
	return p.Context.StanzaID
}

func (p Payload) Forwarded() bool {
	return p.Context != nil && p.Context.IsForwarded
}

// Resolve picks the payload kind. Media wins over structured kinds, which win
// over plain text.
func Resolve(wm connector.WireMessage) Payload {
	c := wm.Message
	if c == nil {
		return Payload{Kind: KindUnknown}
	}

	media := []struct {
		kind Kind
		m    *connector.Media
	}{
		{KindImage, c.Image},
		{KindVideo, c.Video},
		{KindAudio, c.Audio},
		{KindDocument, c.Document},
		{KindSticker, c.Sticker},
	}
	for _, candidate := range media {
		if candidate.m != nil {
			return Payload{
				Kind:    candidate.kind,
				Text:    strings.TrimSpace(candidate.m.Caption),
				Media:   candidate.m,
				Context: candidate.m.ContextInfo,
			}
		}
	}

	switch {
	case c.Contact != nil:
		return Payload{Kind: KindContact, Contact: c.Contact}
	case c.Location != nil:
		return Payload{Kind: KindLocation, Location: c.Location}
	case c.Reaction != nil:
		return Payload{Kind: KindReaction, Reaction: c.Reaction}
	}

	if c.Conversation != nil && strings.TrimSpace(*c.Conversation) != "" {
		return Payload{Kind: KindText, Text: *c.Conversation}
	}
	if c.ExtendedText != nil && strings.TrimSpace(c.ExtendedText.Text) != "" {
		return Payload{Kind: KindText, Text: c.ExtendedText.Text, Context: c.ExtendedText.ContextInfo}
	}
	return Payload{Kind: KindUnknown}
}
