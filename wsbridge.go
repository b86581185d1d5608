// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bassosimone/safeconn"
)

// BridgeFairness selects how the WebSocket bridge loop picks between
// the inbound and the outbound direction when both are ready.
type BridgeFairness int

const (
	// FairnessRandom picks uniformly at random among the ready directions.
	FairnessRandom = BridgeFairness(iota)

	// FairnessInboundFirst prefers reading from and delivering to the client side.
	FairnessInboundFirst

	// FairnessOutboundFirst prefers forwarding the events of the [Service].
	FairnessOutboundFirst
)

// String returns the name used by configuration files.
func (f BridgeFairness) String() string {
	switch f {
	case FairnessRandom:
		return "random"
	case FairnessInboundFirst:
		return "inbound-first"
	case FairnessOutboundFirst:
		return "outbound-first"
	default:
		return fmt.Sprintf("BridgeFairness(%d)", int(f))
	}
}

// ParseBridgeFairness parses the value returned by [BridgeFairness.String].
func ParseBridgeFairness(value string) (BridgeFairness, error) {
	for _, f := range []BridgeFairness{FairnessRandom, FairnessInboundFirst, FairnessOutboundFirst} {
		if f.String() == value {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown bridge fairness %q", ErrConfiguration, value)
}

// frameResult is a [WebSocketFrame] or an error traveling over a channel.
type frameResult struct {
	frame WebSocketFrame
	err   error
}

// wsBridge moves events between an upgraded [WebSocketConn] and a [Service].
//
// The loop is the only writer of the connection and the only sender on
// the inbound channel. A frame read from the wire stays pending until the
// [Service] takes it: meanwhile the loop stops reading the wire but keeps
// forwarding the outbound events.
type wsBridge struct {
	conn     WebSocketConn
	fairness BridgeFairness
	inbound  chan<- chanResult
	outbound Stream

	// pending is the inbound event waiting for delivery, if any.
	pending *Event

	// frames is the channel fed by the reader goroutine.
	frames <-chan frameResult

	// events is the channel fed by the outbound pump.
	events <-chan chanResult
}

// run runs the bridge until the client or the [Service] ends the
// session or ctx is done. It closes the inbound channel on return.
func (b *wsBridge) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(b.inbound)

	frames := make(chan frameResult)
	go b.readLoop(ctx, frames)
	b.frames = frames

	events := make(chan chanResult)
	go bufferPump(ctx, b.outbound, events, nil)
	b.events = events

	for {
		done, err := b.step(ctx)
		if done {
			return err
		}
	}
}

// readLoop reads frames until the peer closes or goes away.
func (b *wsBridge) readLoop(ctx context.Context, out chan<- frameResult) {
	defer close(out)
	for {
		frame, err := b.conn.ReadFrame(ctx)
		select {
		case out <- frameResult{frame: frame, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil || frame.Kind == WebSocketClose {
			return
		}
	}
}

// step performs a single iteration of the loop.
func (b *wsBridge) step(ctx context.Context) (bool, error) {
	// A nil channel disables the corresponding select case.
	var (
		deliverCh chan<- chanResult
		deliver   chanResult
		readCh    = b.frames
	)
	if b.pending != nil {
		deliverCh, deliver, readCh = b.inbound, chanResult{event: *b.pending}, nil
	}

	switch b.fairness {
	case FairnessInboundFirst:
		select {
		case deliverCh <- deliver:
			b.pending = nil
			return false, nil
		case res, ok := <-readCh:
			return b.onFrame(res, ok)
		default:
		}

	case FairnessOutboundFirst:
		select {
		case res, ok := <-b.events:
			return b.onOutbound(ctx, res, ok)
		default:
		}
	}

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case deliverCh <- deliver:
		b.pending = nil
		return false, nil
	case res, ok := <-readCh:
		return b.onFrame(res, ok)
	case res, ok := <-b.events:
		return b.onOutbound(ctx, res, ok)
	}
}

// onFrame handles a frame read from the wire.
func (b *wsBridge) onFrame(res frameResult, ok bool) (bool, error) {
	switch {
	case !ok || errors.Is(res.err, io.EOF):
		return true, nil
	case res.err != nil:
		return true, res.err
	}

	var ev Event
	switch res.frame.Kind {
	case WebSocketText:
		ev = NewWebSocketEvent(TextFrame{Data: string(res.frame.Data)})
	case WebSocketBinary:
		ev = NewWebSocketEvent(BinaryFrame{Data: res.frame.Data})
	default:
		ev = NewWebSocketEvent(Close{Code: res.frame.Code, Reason: res.frame.Reason})
	}
	b.pending = &ev
	return false, nil
}

// onOutbound handles an event produced by the [Service].
func (b *wsBridge) onOutbound(ctx context.Context, res chanResult, ok bool) (bool, error) {
	if !ok {
		// The service is done: close the session normally.
		frame := WebSocketFrame{Kind: WebSocketClose, Code: CloseNormalClosure}
		return true, b.conn.WriteFrame(ctx, frame)
	}
	if res.err != nil {
		return true, res.err
	}

	if res.event.Family() != EventWebSocket {
		return true, fmt.Errorf("%w: unexpected %s event after Accept", ErrProtocolViolation, res.event)
	}
	switch payload := res.event.Payload().(type) {
	case TextFrame:
		return false, b.conn.WriteFrame(ctx, WebSocketFrame{Kind: WebSocketText, Data: []byte(payload.Data)})
	case BinaryFrame:
		return false, b.conn.WriteFrame(ctx, WebSocketFrame{Kind: WebSocketBinary, Data: payload.Data})
	case Close:
		code := payload.Code
		if code == 0 {
			code = CloseNormalClosure
		}
		frame := WebSocketFrame{Kind: WebSocketClose, Code: code, Reason: payload.Reason}
		return true, b.conn.WriteFrame(ctx, frame)
	default:
		return true, fmt.Errorf("%w: unexpected %s event after Accept", ErrProtocolViolation, res.event)
	}
}

// runBridge runs the bridge loop over conn emitting websocketBridgeStart/Done.
func (a *WebSocketAdapter) runBridge(ctx context.Context, spanID string,
	conn WebSocketConn, inbound chan<- chanResult, outbound Stream) error {
	netConn := conn.NetConn()
	laddr, raddr := safeconn.LocalAddr(netConn), safeconn.RemoteAddr(netConn)

	t0 := a.Config.TimeNow()
	a.Logger.Info(
		"websocketBridgeStart",
		slog.String("bridgeFairness", a.Config.BridgeFairness.String()),
		slog.String("localAddr", laddr),
		slog.String("remoteAddr", raddr),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)

	bridge := &wsBridge{
		conn:     conn,
		fairness: a.Config.BridgeFairness,
		inbound:  inbound,
		outbound: outbound,
	}
	err := bridge.run(ctx)

	a.Logger.Info(
		"websocketBridgeDone",
		slog.Any("err", err),
		slog.String("errClass", a.Config.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr),
		slog.String("remoteAddr", raddr),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", a.Config.TimeNow()),
	)
	return err
}
