package model

type SessionStatus string

const (
	SessionPending      SessionStatus = "pending"
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionQRScanning   SessionStatus = "qr_scanning"
	SessionDisconnected SessionStatus = "disconnected"
	SessionFailed       SessionStatus = "failed"
)

// Session is one tracked connection context for a phone number. Rows are never
// hard-deleted; stopping a session only moves its status.
type Session struct {
	ID                 string        `json:"id" gorm:"primaryKey;type:varchar(64)"`
	PhoneNumber        string        `json:"phoneNumber" gorm:"uniqueIndex;type:varchar(20);not null"`
	Status             SessionStatus `json:"status" gorm:"type:varchar(20);not null"`
	ConnectionState    string        `json:"connectionState" gorm:"type:varchar(64)"`
	LastDisconnectCode int           `json:"lastDisconnectCode"`
	LastDisconnectText string        `json:"lastDisconnectReason" gorm:"type:text"`
	LastConnectedAt    int64         `json:"lastConnectedAt"`
	LastDisconnectedAt int64         `json:"lastDisconnectedAt"`
	CreatedAt          int64         `json:"createdAt" gorm:"autoCreateTime:false"`
	UpdatedAt          int64         `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

func (Session) TableName() string { return "wa_sessions" }

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageContact  MessageType = "contact"
	MessageLocation MessageType = "location"
	MessageReaction MessageType = "reaction"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageVideo, MessageDocument,
		MessageSticker, MessageContact, MessageLocation, MessageReaction:
		return true
	}
	return false
}

// IsMedia reports whether content of this type is an offloaded blob reference.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageAudio, MessageVideo, MessageDocument, MessageSticker:
		return true
	}
	return false
}

type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusPlayed    MessageStatus = "played"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders statuses along the delivery pipeline. Failed ranks with pending
// so that a late receipt can still move a failed send forward.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusPlayed:
		return 4
	}
	return 0
}

// MessageKey is the wire-native correlation triple assigned by the network.
type MessageKey struct {
	ID        string `json:"id" gorm:"type:varchar(128);index"`
	RemoteJID string `json:"remoteJid" gorm:"type:varchar(128)"`
	FromMe    bool   `json:"fromMe"`
}

type Message struct {
	ID        string           `json:"id" gorm:"primaryKey;type:varchar(64)"`
	SessionID string           `json:"sessionId" gorm:"index:idx_wa_messages_session_ts,priority:1;type:varchar(64);not null"`
	From      string           `json:"from" gorm:"type:varchar(128)"`
	To        string           `json:"to" gorm:"type:varchar(128)"`
	Type      MessageType      `json:"type" gorm:"type:varchar(16);not null"`
	Content   string           `json:"content" gorm:"type:text"`
	Timestamp int64            `json:"timestamp" gorm:"index:idx_wa_messages_session_ts,priority:2"`
	Direction MessageDirection `json:"direction" gorm:"type:varchar(16);not null"`
	Key       *MessageKey      `json:"key,omitempty" gorm:"embedded;embeddedPrefix:wire_"`
	Status    MessageStatus    `json:"status" gorm:"type:varchar(16);not null"`
	ReplyTo   *string          `json:"replyTo,omitempty" gorm:"type:varchar(64)"`
	ForwardOf *string          `json:"forwardOf,omitempty" gorm:"type:varchar(64)"`
	Forwarded bool             `json:"forwarded,omitempty" gorm:"not null;default:false"`
	CreatedAt int64            `json:"createdAt" gorm:"autoCreateTime:false"`
	UpdatedAt int64            `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

func (Message) TableName() string { return "wa_messages" }

// WireID returns the wire-native id or "" when the message has no key.
func (m Message) WireID() string {
	if m.Key == nil {
		return ""
	}
	return m.Key.ID
}

// AuthSnapshot is the durable mirror of a session's hot credential material.
type AuthSnapshot struct {
	SessionID string            `json:"sessionId"`
	Creds     string            `json:"creds"`
	Keys      map[string]string `json:"keys"`
	SavedAt   int64             `json:"savedAt"`
}
