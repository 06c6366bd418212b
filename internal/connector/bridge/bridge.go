// Package bridge is a Connector that delegates the wire protocol to a sidecar
// process over a websocket. The sidecar pushes events as JSON frames and
// acknowledges commands by id.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/connector"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	maxPayload   = 64 << 20

	// Reported to the manager when the sidecar link drops without a reason.
	codeConnectionClosed = 428
)

type Factory struct {
	URL        string
	Dialer     *websocket.Dialer
	AckTimeout time.Duration
	Logger     zerolog.Logger
}

func (f *Factory) New(_ context.Context, p connector.Params, sink connector.Sink) (connector.Connector, error) {
	if strings.TrimSpace(f.URL) == "" {
		return nil, errors.New("bridge: connector url is empty")
	}
	if sink == nil {
		return nil, errors.New("bridge: sink must not be nil")
	}
	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := f.AckTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Conn{
		baseURL:    strings.TrimRight(f.URL, "/"),
		dialer:     dialer,
		params:     p,
		sink:       sink,
		ackTimeout: timeout,
		logger:     f.Logger.With().Str("session", p.SessionID).Logger(),
		pendingAck: make(map[int]chan inboundFrame),
	}, nil
}

type Conn struct {
	baseURL    string
	dialer     *websocket.Dialer
	params     connector.Params
	sink       connector.Sink
	ackTimeout time.Duration
	logger     zerolog.Logger

	ws     *websocket.Conn
	sendMu sync.Mutex

	ackMu      sync.Mutex
	nextAckID  int
	pendingAck map[int]chan inboundFrame

	closed atomic.Bool
	done   chan struct{}
}

func (c *Conn) sessionURL() string {
	return c.baseURL + "/sessions/" + url.PathEscape(c.params.SessionID) + "?phone=" + url.QueryEscape(c.params.PhoneNumber)
}

func (c *Conn) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return connector.ErrClosed
	}
	ws, _, err := c.dialer.DialContext(ctx, c.sessionURL(), nil)
	if err != nil {
		return fmt.Errorf("bridge: dial: %w", err)
	}
	ws.SetReadLimit(maxPayload)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.ws = ws
	c.done = make(chan struct{})

	go c.readLoop()
	go c.pingLoop()

	hello := helloData{SessionID: c.params.SessionID, PhoneNumber: c.params.PhoneNumber}
	if c.params.Auth != nil {
		creds, ok, err := c.params.Auth.Creds(ctx, c.params.SessionID)
		if err != nil {
			c.Close()
			return err
		}
		if ok {
			hello.Creds = &creds
			keys, err := c.params.Auth.Keys(ctx, c.params.SessionID)
			if err != nil {
				c.Close()
				return err
			}
			hello.Keys = keys
		}
	}
	if _, err := c.call(ctx, "hello", hello); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Conn) SendMessage(ctx context.Context, to string, payload connector.OutboundPayload, opts connector.SendOptions) error {
	_, err := c.call(ctx, "send", sendData{To: to, Payload: payload, MessageID: opts.MessageID})
	return err
}

func (c *Conn) DownloadMedia(ctx context.Context, msg connector.WireMessage) ([]byte, string, error) {
	raw, err := c.call(ctx, "download", downloadData{Message: msg})
	if err != nil {
		return nil, "", err
	}
	var res downloadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, "", fmt.Errorf("bridge: decode download: %w", err)
	}
	return res.Data, res.Mimetype, nil
}

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.ws == nil {
		return nil
	}
	deadline := time.Now().Add(writeTimeout)
	c.sendMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.sendMu.Unlock()
	return c.ws.Close()
}

func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// call sends a command and waits for its ack.
func (c *Conn) call(ctx context.Context, op string, data any) (json.RawMessage, error) {
	if c.closed.Load() || c.ws == nil {
		return nil, connector.ErrClosed
	}

	c.ackMu.Lock()
	c.nextAckID++
	id := c.nextAckID
	ch := make(chan inboundFrame, 1)
	c.pendingAck[id] = ch
	c.ackMu.Unlock()

	drop := func() {
		c.ackMu.Lock()
		delete(c.pendingAck, id)
		c.ackMu.Unlock()
	}

	if err := c.writeJSON(commandFrame{Op: op, ID: id, Data: data}); err != nil {
		drop()
		return nil, fmt.Errorf("bridge: write %s: %w", op, err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error == "" {
				resp.Error = "command rejected"
			}
			return nil, fmt.Errorf("bridge: %s: %s", op, resp.Error)
		}
		return resp.Data, nil
	case <-c.done:
		drop()
		return nil, connector.ErrClosed
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	case <-timer.C:
		drop()
		return nil, fmt.Errorf("bridge: %s: ack timeout", op)
	}
}

func (c *Conn) resolveAck(frame inboundFrame) {
	c.ackMu.Lock()
	ch := c.pendingAck[*frame.Ack]
	delete(c.pendingAck, *frame.Ack)
	c.ackMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// readLoop is the only goroutine that calls sink, which keeps events in the
// order the sidecar emitted them.
func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn().Err(err).Msg("bridge: link lost")
				_ = c.ws.Close()
				c.sink(connector.ConnectionUpdate{
					State:  "close",
					Reason: &connector.DisconnectReason{Code: codeConnectionClosed, Message: err.Error()},
				})
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("bridge: malformed frame")
			continue
		}
		if frame.Ack != nil {
			c.resolveAck(frame)
			continue
		}
		ev, err := decodeEvent(frame.Event, frame.Data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("bridge: event skipped")
			continue
		}
		c.sink(ev)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.sendMu.Unlock()
			if err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}
