// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "net/http"

// WebSocketEvent is the closed set of payloads of the [EventWebSocket] family.
//
// The variants are [Connect], [Accept], [TextFrame], [BinaryFrame], and [Close].
type WebSocketEvent interface {
	isWebSocketEvent()
}

// NewWebSocketEvent wraps a [WebSocketEvent] into an [Event] of the [EventWebSocket] family.
func NewWebSocketEvent(ev WebSocketEvent) Event {
	return NewEvent(EventWebSocket, ev)
}

// CloseNormalClosure is the close code used when the peer omits one.
const CloseNormalClosure = 1000

// Connect is the first inbound event of a WebSocket candidate (ASGI: websocket.connect).
type Connect struct{}

// Accept accepts the WebSocket handshake (ASGI: websocket.accept).
//
// An empty Subprotocol means that no Sec-WebSocket-Protocol header is sent.
// Header contains additional response headers for the 101 response.
type Accept struct {
	Subprotocol string
	Header      http.Header
}

// TextFrame is a text message in either direction.
type TextFrame struct {
	Data string
}

// BinaryFrame is a binary message in either direction.
type BinaryFrame struct {
	Data []byte
}

// Close is a close frame in either direction (ASGI: websocket.close and websocket.disconnect).
//
// An empty Reason means that the close frame carries no reason.
type Close struct {
	Code   int
	Reason string
}

func (Connect) isWebSocketEvent()     {}
func (Accept) isWebSocketEvent()      {}
func (TextFrame) isWebSocketEvent()   {}
func (BinaryFrame) isWebSocketEvent() {}
func (Close) isWebSocketEvent()       {}
