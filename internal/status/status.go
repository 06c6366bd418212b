// Package status projects delivery receipt codes onto the canonical message
// status enum.
package status

import (
	"strings"

	"wa-gateway-lite/internal/model"
)

var projections = map[string]model.MessageStatus{
	"0":            model.StatusFailed,
	"ERROR":        model.StatusFailed,
	"2":            model.StatusSent,
	"SERVER_ACK":   model.StatusSent,
	"3":            model.StatusDelivered,
	"DELIVERY_ACK": model.StatusDelivered,
	"4":            model.StatusRead,
	"READ":         model.StatusRead,
	"5":            model.StatusPlayed,
	"PLAYED":       model.StatusPlayed,
	"SENT":         model.StatusSent,
	"DELIVERED":    model.StatusDelivered,
	"FAILED":       model.StatusFailed,
}

// Project maps a numeric or symbolic receipt code. Unrecognized codes,
// including the connector's own pending code, project to sent.
func Project(code string) model.MessageStatus {
	if s, ok := projections[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return s
	}
	return model.StatusSent
}

// Advance returns the status a message should hold after receiving next.
// Receipts can arrive out of order, so a status never moves backwards along
// the delivery pipeline. A failure only sticks before the first receipt.
// Pending is never a receipt outcome.
func Advance(current, next model.MessageStatus) (model.MessageStatus, bool) {
	if next == current || next == model.StatusPending {
		return current, false
	}
	if next == model.StatusFailed {
		if current.Rank() > model.StatusSent.Rank() {
			return current, false
		}
		return next, true
	}
	if next.Rank() < current.Rank() {
		return current, false
	}
	if next.Rank() == current.Rank() && current != model.StatusFailed {
		return current, false
	}
	return next, true
}
