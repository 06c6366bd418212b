// Package connector defines the boundary to the library that speaks the
// messaging network's wire protocol. The orchestrator never looks past it.
package connector

import (
	"context"
	"errors"

	"wa-gateway-lite/internal/authstate"
)

var ErrClosed = errors.New("connector: closed")

// OutboundPayload is what the orchestrator asks a connector to transmit.
type OutboundPayload struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	QuotedID  string `json:"quotedId,omitempty"`
	Forwarded bool   `json:"forwarded,omitempty"`
}

type SendOptions struct {
	MessageID string `json:"messageId"`
}

type Connector interface {
	// Connect starts the connection; lifecycle progress arrives as events.
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, to string, payload OutboundPayload, opts SendOptions) error
	// DownloadMedia returns the decrypted bytes and their content type.
	DownloadMedia(ctx context.Context, msg WireMessage) ([]byte, string, error)
	Close() error
}

// Sink receives the events of one connector, in emission order. A sink must
// not block on calls into the connector that emitted the event.
type Sink func(Event)

// Params describes the session a connector is built for.
type Params struct {
	SessionID   string
	PhoneNumber string
	Auth        *authstate.HotState
}

type Factory interface {
	New(ctx context.Context, p Params, sink Sink) (Connector, error)
}

type FactoryFunc func(ctx context.Context, p Params, sink Sink) (Connector, error)

func (f FactoryFunc) New(ctx context.Context, p Params, sink Sink) (Connector, error) {
	return f(ctx, p, sink)
}
