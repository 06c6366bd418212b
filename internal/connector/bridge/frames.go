package bridge

import (
	"encoding/json"
	"fmt"

	"wa-gateway-lite/internal/connector"
)

// inboundFrame is either an event ({"event": ...}) or the ack of a command
// ({"ack": id}).
type inboundFrame struct {
	Event string          `json:"event,omitempty"`
	Ack   *int            `json:"ack,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type commandFrame struct {
	Op   string `json:"op"`
	ID   int    `json:"id"`
	Data any    `json:"data,omitempty"`
}

type helloData struct {
	SessionID   string            `json:"sessionId"`
	PhoneNumber string            `json:"phoneNumber"`
	Creds       *string           `json:"creds,omitempty"`
	Keys        map[string]string `json:"keys,omitempty"`
}

type sendData struct {
	To        string                    `json:"to"`
	Payload   connector.OutboundPayload `json:"payload"`
	MessageID string                    `json:"messageId"`
}

type downloadData struct {
	Message connector.WireMessage `json:"message"`
}

type downloadResult struct {
	Data     []byte `json:"data"`
	Mimetype string `json:"mimetype"`
}

func decodeEvent(name string, data json.RawMessage) (connector.Event, error) {
	switch name {
	case connector.EventConnectionUpdate:
		var ev connector.ConnectionUpdate
		return ev, unmarshalInto(name, data, &ev)
	case connector.EventMessagesUpsert:
		var ev connector.MessagesUpsert
		return ev, unmarshalInto(name, data, &ev)
	case connector.EventMessagesUpdate:
		var ev connector.MessagesUpdate
		return ev, unmarshalInto(name, data, &ev)
	case connector.EventContactsUpsert, connector.EventContactsUpdate:
		return connector.ContactsUpsert{Update: name == connector.EventContactsUpdate, Contacts: data}, nil
	case connector.EventChatsUpsert, connector.EventChatsUpdate:
		return connector.ChatsUpsert{Update: name == connector.EventChatsUpdate, Chats: data}, nil
	case connector.EventPresenceUpdate:
		var ev connector.PresenceUpdate
		return ev, unmarshalInto(name, data, &ev)
	case connector.EventCredsUpdate:
		var ev connector.CredsUpdate
		return ev, unmarshalInto(name, data, &ev)
	default:
		return nil, fmt.Errorf("bridge: unknown event %q", name)
	}
}

func unmarshalInto(name string, data json.RawMessage, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("bridge: decode %s: %w", name, err)
	}
	return nil
}
