package session

import (
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone validates an E.164 phone number, tolerating common
// separators, and returns it as "+<digits>".
func NormalizePhone(raw string) (string, bool) {
	p := phoneSeparators.Replace(strings.TrimSpace(raw))
	if !e164.MatchString(p) {
		return "", false
	}
	return "+" + strings.TrimPrefix(p, "+"), true
}

// jid turns a phone number or address into a user JID. Addresses that
// already carry a server part are kept as they are.
func jid(addr string) string {
	if strings.Contains(addr, "@") {
		return addr
	}
	return strings.TrimPrefix(phoneSeparators.Replace(strings.TrimSpace(addr)), "+") + "@s.whatsapp.net"
}
