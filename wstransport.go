// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketFrameKind is the kind of a [WebSocketFrame].
type WebSocketFrameKind int

const (
	// WebSocketText is a text data frame.
	WebSocketText = WebSocketFrameKind(iota)

	// WebSocketBinary is a binary data frame.
	WebSocketBinary

	// WebSocketClose is a close control frame.
	WebSocketClose
)

// String returns the lowercase name of the frame kind.
func (k WebSocketFrameKind) String() string {
	switch k {
	case WebSocketText:
		return "text"
	case WebSocketBinary:
		return "binary"
	case WebSocketClose:
		return "close"
	default:
		return fmt.Sprintf("WebSocketFrameKind(%d)", int(k))
	}
}

// WebSocketFrame is a WebSocket message as seen by the bridge loop.
//
// Data is set for text and binary frames. Code and Reason are set for close frames.
type WebSocketFrame struct {
	Kind   WebSocketFrameKind
	Data   []byte
	Code   int
	Reason string
}

// WebSocketConn is an upgraded WebSocket connection.
//
// ReadFrame returns the next frame and [io.EOF] once the peer
// went away without a close frame. WriteFrame sends a frame. NetConn
// returns the underlying [net.Conn]. Close closes the connection.
//
// The bridge loop calls ReadFrame from one goroutine and WriteFrame from
// another one. Close may be called concurrently with both.
type WebSocketConn interface {
	ReadFrame(ctx context.Context) (WebSocketFrame, error)
	WriteFrame(ctx context.Context, frame WebSocketFrame) error
	NetConn() net.Conn
	Close() error
}

// WebSocketUpgrader switches an HTTP/1.1 connection to WebSocket.
//
// The header argument contains the 101 response headers computed by
// [*WebSocketAdapter], including Sec-WebSocket-Accept. On failure, the
// upgrader has already replied to the client.
type WebSocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (WebSocketConn, error)
}

// DefaultCloseWriteTimeout bounds the time to write a close frame.
const DefaultCloseWriteTimeout = 5 * time.Second

// GorillaUpgrader is the [WebSocketUpgrader] based on [github.com/gorilla/websocket].
//
// All fields are safe to modify after construction but before first use.
//
// Construct using [NewGorillaUpgrader].
type GorillaUpgrader struct {
	// CheckOrigin returns whether to accept the request Origin.
	//
	// Set by [NewGorillaUpgrader] to accept any origin, since the
	// [Service] decides whether to Accept or Close.
	CheckOrigin func(r *http.Request) bool

	// CloseWriteTimeout bounds the time to write a close frame.
	//
	// Set by [NewGorillaUpgrader] to [DefaultCloseWriteTimeout].
	CloseWriteTimeout time.Duration

	// ReadBufferSize and WriteBufferSize are the I/O buffer sizes.
	//
	// Set by [NewGorillaUpgrader] to zero, which selects the gorilla defaults.
	ReadBufferSize  int
	WriteBufferSize int
}

// NewGorillaUpgrader returns a new [*GorillaUpgrader].
func NewGorillaUpgrader() *GorillaUpgrader {
	return &GorillaUpgrader{
		CheckOrigin:       func(r *http.Request) bool { return true },
		CloseWriteTimeout: DefaultCloseWriteTimeout,
	}
}

var _ WebSocketUpgrader = &GorillaUpgrader{}

// Upgrade implements [WebSocketUpgrader].
//
// Gorilla computes Connection, Upgrade, and Sec-WebSocket-Accept on its own,
// so they are removed from header. Without configured subprotocols, gorilla
// echoes the Sec-WebSocket-Protocol found in header.
func (u *GorillaUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (WebSocketConn, error) {
	hdr := header.Clone()
	hdr.Del("Connection")
	hdr.Del("Upgrade")
	hdr.Del("Sec-WebSocket-Accept")

	up := &websocket.Upgrader{
		CheckOrigin:     u.CheckOrigin,
		ReadBufferSize:  u.ReadBufferSize,
		WriteBufferSize: u.WriteBufferSize,
	}
	conn, err := up.Upgrade(w, r, hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return &gorillaConn{conn: conn, closeTimeout: u.CloseWriteTimeout}, nil
}

// gorillaConn adapts [*websocket.Conn] to [WebSocketConn].
type gorillaConn struct {
	closeTimeout time.Duration
	conn         *websocket.Conn
}

var _ WebSocketConn = &gorillaConn{}

// ReadFrame implements [WebSocketConn].
//
// Gorilla reports close frames as [*websocket.CloseError], which we map back
// to a close frame. A missing status code becomes [CloseNormalClosure]. An
// abnormal closure (the peer vanished) becomes [io.EOF].
func (c *gorillaConn) ReadFrame(ctx context.Context) (WebSocketFrame, error) {
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		var cerr *websocket.CloseError
		switch {
		case errors.As(err, &cerr) && cerr.Code == websocket.CloseAbnormalClosure:
			return WebSocketFrame{}, io.EOF
		case errors.As(err, &cerr):
			code := cerr.Code
			if code == websocket.CloseNoStatusReceived {
				code = CloseNormalClosure
			}
			return WebSocketFrame{Kind: WebSocketClose, Code: code, Reason: cerr.Text}, nil
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			return WebSocketFrame{}, io.EOF
		default:
			return WebSocketFrame{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	if kind == websocket.TextMessage {
		return WebSocketFrame{Kind: WebSocketText, Data: data}, nil
	}
	return WebSocketFrame{Kind: WebSocketBinary, Data: data}, nil
}

// WriteFrame implements [WebSocketConn].
func (c *gorillaConn) WriteFrame(ctx context.Context, frame WebSocketFrame) error {
	var err error
	switch frame.Kind {
	case WebSocketText:
		err = c.conn.WriteMessage(websocket.TextMessage, frame.Data)
	case WebSocketBinary:
		err = c.conn.WriteMessage(websocket.BinaryMessage, frame.Data)
	case WebSocketClose:
		deadline := time.Now().Add(c.closeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		msg := websocket.FormatCloseMessage(frame.Code, frame.Reason)
		err = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		if errors.Is(err, websocket.ErrCloseSent) {
			// We already answered the close frame of the peer.
			err = nil
		}
	default:
		err = fmt.Errorf("%w: cannot write %s frame", ErrProtocolViolation, frame.Kind)
	}
	if err != nil && !errors.Is(err, ErrProtocolViolation) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return err
}

// NetConn implements [WebSocketConn].
func (c *gorillaConn) NetConn() net.Conn {
	return c.conn.NetConn()
}

// Close implements [WebSocketConn].
func (c *gorillaConn) Close() error {
	return c.conn.Close()
}
