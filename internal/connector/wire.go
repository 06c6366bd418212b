package connector

// WireKey is the wire-native message key triple.
type WireKey struct {
	ID          string `json:"id"`
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	Participant string `json:"participant,omitempty"`
}

type ContextInfo struct {
	StanzaID      string `json:"stanzaId,omitempty"`
	IsForwarded   bool   `json:"isForwarded,omitempty"`
	QuotedMessage string `json:"quotedMessage,omitempty"`
}

type ExtendedText struct {
	Text        string       `json:"text"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

type Media struct {
	Caption     string       `json:"caption,omitempty"`
	Mimetype    string       `json:"mimetype,omitempty"`
	FileName    string       `json:"fileName,omitempty"`
	Seconds     int          `json:"seconds,omitempty"`
	PTT         bool         `json:"ptt,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

type Contact struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard"`
}

type Location struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	Name             string  `json:"name,omitempty"`
	Address          string  `json:"address,omitempty"`
}

type Reaction struct {
	Key  WireKey `json:"key"`
	Text string  `json:"text"`
}

// WireContent mirrors the network's optional-field message union. Exactly one
// field is expected to be set, but payloads are not always that tidy.
type WireContent struct {
	Conversation *string       `json:"conversation,omitempty"`
	ExtendedText *ExtendedText `json:"extendedTextMessage,omitempty"`
	Image        *Media        `json:"imageMessage,omitempty"`
	Video        *Media        `json:"videoMessage,omitempty"`
	Audio        *Media        `json:"audioMessage,omitempty"`
	Document     *Media        `json:"documentMessage,omitempty"`
	Sticker      *Media        `json:"stickerMessage,omitempty"`
	Contact      *Contact      `json:"contactMessage,omitempty"`
	Location     *Location     `json:"locationMessage,omitempty"`
	Reaction     *Reaction     `json:"reactionMessage,omitempty"`
}

type WireMessage struct {
	Key              WireKey      `json:"key"`
	PushName         string       `json:"pushName,omitempty"`
	MessageTimestamp int64        `json:"messageTimestamp"`
	Message          *WireContent `json:"message,omitempty"`
}
