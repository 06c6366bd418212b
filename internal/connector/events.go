package connector

import "encoding/json"

// Event is one of the concrete event types below.
type Event interface {
	EventName() string
}

const (
	EventConnectionUpdate = "connection.update"
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventContactsUpsert   = "contacts.upsert"
	EventContactsUpdate   = "contacts.update"
	EventChatsUpsert      = "chats.upsert"
	EventChatsUpdate      = "chats.update"
	EventPresenceUpdate   = "presence.update"
	EventCredsUpdate      = "creds.update"
)

type DisconnectReason struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type ConnectionUpdate struct {
	State  string            `json:"state"`
	QR     string            `json:"qr,omitempty"`
	Reason *DisconnectReason `json:"disconnectReason,omitempty"`
}

func (ConnectionUpdate) EventName() string { return EventConnectionUpdate }

type MessagesUpsert struct {
	Messages []WireMessage `json:"messages"`
}

func (MessagesUpsert) EventName() string { return EventMessagesUpsert }

// StatusUpdate carries a delivery receipt. Status is numeric ("3") or
// symbolic ("DELIVERY_ACK").
type StatusUpdate struct {
	Key    WireKey `json:"key"`
	Status string  `json:"status"`
}

type MessagesUpdate struct {
	Updates []StatusUpdate `json:"updates"`
}

func (MessagesUpdate) EventName() string { return EventMessagesUpdate }

// Contacts, chats and presence are relayed to subscribers as-is.
type ContactsUpsert struct {
	Update   bool            `json:"-"`
	Contacts json.RawMessage `json:"contacts"`
}

func (c ContactsUpsert) EventName() string {
	if c.Update {
		return EventContactsUpdate
	}
	return EventContactsUpsert
}

type ChatsUpsert struct {
	Update bool            `json:"-"`
	Chats  json.RawMessage `json:"chats"`
}

func (c ChatsUpsert) EventName() string {
	if c.Update {
		return EventChatsUpdate
	}
	return EventChatsUpsert
}

type PresenceUpdate struct {
	ID        string          `json:"id"`
	Presences json.RawMessage `json:"presences"`
}

func (PresenceUpdate) EventName() string { return EventPresenceUpdate }

// CredsUpdate is a credential mutation. A nil Keys entry deletes that record.
type CredsUpdate struct {
	Creds *string            `json:"creds,omitempty"`
	Keys  map[string]*string `json:"keys,omitempty"`
}

func (CredsUpdate) EventName() string { return EventCredsUpdate }
