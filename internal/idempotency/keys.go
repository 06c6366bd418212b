package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

func InboundKey(sessionID, wireID string) string {
	return "idem:in:" + sessionID + ":" + wireID
}

func OutboundKey(sessionID, clientID string) string {
	return "idem:out:" + sessionID + ":cid:" + clientID
}

// OutboundFallbackKey is used when a send carries neither a client id nor a
// wire id. It is best-effort only: two distinct sends with identical recipient,
// type and content inside the fallback window collapse into one, and an
// intentional repeat after the window is sent again. Callers that need exact
// deduplication must supply a client id.
func OutboundFallbackKey(sessionID, to, msgType, content string) string {
	h := sha256.New()
	h.Write([]byte(to))
	h.Write([]byte{0})
	h.Write([]byte(msgType))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return "idem:out:" + sessionID + ":h:" + hex.EncodeToString(h.Sum(nil))
}
