// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc arranges for a [WebSocketConn] to be closed when the
// context is done (cancelled or deadline exceeded).
//
// Once the connection is hijacked, [net/http] no longer watches it, so
// this is what unblocks a pending ReadFrame when the connection context
// goes away (e.g., on server shutdown).
//
// Closing the returned connection unregisters the context watcher and
// closes the underlying connection, so no goroutine leaks even if the
// context is never cancelled.
type CancelWatchFunc struct{}

var _ Func[WebSocketConn, WebSocketConn] = &CancelWatchFunc{}

// Call registers a context watcher using [context.AfterFunc] that closes
// the connection when the context is done.
func (op *CancelWatchFunc) Call(ctx context.Context, conn WebSocketConn) (WebSocketConn, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	return &cancelWatchedConn{WebSocketConn: conn, stop: stop}, nil
}

// cancelWatchedConn wraps a [WebSocketConn] with a context cancellation watcher.
type cancelWatchedConn struct {
	WebSocketConn
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.WebSocketConn.Close()
}
