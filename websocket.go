// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// websocketGUID is the magic string used to derive Sec-WebSocket-Accept (RFC 6455).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// CanUpgrade returns whether r is a valid WebSocket upgrade request.
//
// The request must be a GET using HTTP/1.1 or later, the Connection header
// must contain the upgrade token, the Upgrade header must be websocket,
// Sec-WebSocket-Version must be 13 and Sec-WebSocket-Key must be present.
// Header names and the upgrade tokens are case-insensitive.
func CanUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		r.ProtoAtLeast(1, 1) &&
		httpguts.HeaderValuesContainsToken(r.Header.Values("Connection"), "upgrade") &&
		strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket") &&
		r.Header.Get("Sec-WebSocket-Version") == "13" &&
		r.Header.Get("Sec-WebSocket-Key") != ""
}

// DeriveAcceptKey returns the Sec-WebSocket-Accept value for the given
// Sec-WebSocket-Key: the base64 encoding of SHA-1(key + GUID).
func DeriveAcceptKey(key string) string {
	digest := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// validateKey ensures key is the base64 encoding of a 16-byte nonce.
func validateKey(key string) error {
	nonce, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(nonce) != 16 {
		return fmt.Errorf("%w: malformed Sec-WebSocket-Key %q", ErrConfiguration, key)
	}
	return nil
}

// WebSocketAdapter is an [http.Handler] serving WebSocket sessions with a [Service].
//
// Requests for which [CanUpgrade] is false are served by the
// [*HTTPAdapter] in the HTTP field. Otherwise, the adapter creates a
// [*Scope] with protocol [ProtocolWebSocket] and both the [*HTTPScope] and
// the [*WebSocketScope] attachments. The inbound stream starts with a
// [Connect] event.
//
// The first outbound event decides the fate of the request:
//
//   - [Accept] upgrades the connection and starts bridging frames;
//
//   - [Close] denies the upgrade with HTTP 403;
//
//   - an [EventHTTP] event serves a regular HTTP response;
//
//   - anything else is an [ErrProtocolViolation].
//
// The adapter emits websocketUpgradeStart/websocketUpgradeDone and
// websocketBridgeStart/websocketBridgeDone span events.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [ServeHTTP].
//
// Construct using [NewWebSocketAdapter].
type WebSocketAdapter struct {
	// Config is the configuration in use (upgrader, fairness, and friends).
	//
	// Set by [NewWebSocketAdapter] to the user-provided config.
	Config *Config

	// HTTP serves the requests that are not WebSocket upgrades.
	//
	// Set by [NewWebSocketAdapter] using [NewHTTPAdapter] with the same
	// config, logger, and service.
	HTTP *HTTPAdapter

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewWebSocketAdapter] to the user-provided logger.
	Logger SLogger

	// Service is the [Service] handling the sessions.
	//
	// Set by [NewWebSocketAdapter] to the user-provided service.
	Service Service
}

// NewWebSocketAdapter returns a new [*WebSocketAdapter].
//
// The cfg argument contains the common configuration for servio operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewWebSocketAdapter(cfg *Config, logger SLogger, svc Service) *WebSocketAdapter {
	return &WebSocketAdapter{
		Config:  cfg,
		HTTP:    NewHTTPAdapter(cfg, logger, svc),
		Logger:  logger,
		Service: svc,
	}
}

var _ http.Handler = &WebSocketAdapter{}

// ServeHTTP implements [http.Handler].
func (a *WebSocketAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !CanUpgrade(r) {
		a.HTTP.ServeHTTP(w, r)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &wsSession{
		inboundCh: make(chan chanResult), // each delivery is a rendezvous with the Service
		r:         r,
		scope:     NewScope(ProtocolWebSocket),
		spanID:    NewSpanID(),
		t0:        a.Config.TimeNow(),
		w:         w,
		wsScope:   NewWebSocketScope(r.Header),
	}
	Insert(sess.scope, NewHTTPScope(r))
	Insert(sess.scope, sess.wsScope)
	a.logUpgradeStart(sess)

	err := a.serve(ctx, sess)

	a.Config.Metrics.observeExchange(sess.scope.Protocol(), a.Config.ErrClassifier.Classify(err))
	if err != nil && !sess.reported {
		a.logUpgradeDone(sess, err)
	}
	if err != nil && !sess.replied {
		writeHTTPError(w, false, err)
	}
}

// wsSession is the state of a WebSocket candidate request.
type wsSession struct {
	// inboundCh feeds the inbound stream after the initial [Connect].
	inboundCh chan chanResult

	// outcome is "accepted", "denied", or "declined".
	outcome string

	r *http.Request

	// replied is true once nothing else should be written to w.
	replied bool

	// reported is true once websocketUpgradeDone has been logged.
	reported bool

	scope   *Scope
	spanID  string
	t0      time.Time
	w       http.ResponseWriter
	wsScope *WebSocketScope
}

func (a *WebSocketAdapter) serve(ctx context.Context, sess *wsSession) error {
	inbound := Prepend(&chanStream{ch: sess.inboundCh}, NewWebSocketEvent(Connect{}))
	outbound, err := a.Service.Call(ctx, NewExchange(sess.scope, inbound))
	if err != nil {
		return err
	}

	first, outbound, err := Peek(ctx, outbound)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: outbound stream ended before Accept", ErrProtocolViolation)
	}
	if err != nil {
		return err
	}

	if first.Family() == EventHTTP {
		sess.outcome = "declined"
		a.logUpgradeDone(sess, nil)
		responder := NewHTTPResponder(NewNetHTTPTransport(a.Config, a.Logger, sess.spanID, sess.w, sess.r))
		err := responder.Respond(ctx, outbound)
		if err != nil && responder.Started() {
			panic(http.ErrAbortHandler)
		}
		return err
	}

	switch payload := first.Payload().(type) {
	case Accept:
		sess.outcome = "accepted"
		// Drop the Accept that Peek put back in front of the stream.
		if _, err := outbound.Next(ctx); err != nil {
			return err
		}
		return a.accept(ctx, sess, payload, outbound)

	case Close:
		sess.outcome = "denied"
		a.logUpgradeDone(sess, nil)
		sess.replied = true
		http.Error(sess.w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil

	default:
		return fmt.Errorf("%w: expected Accept, got %s", ErrProtocolViolation, first)
	}
}

// accept performs the upgrade and runs the bridge loop.
func (a *WebSocketAdapter) accept(ctx context.Context, sess *wsSession, accept Accept, outbound Stream) error {
	key := sess.r.Header.Get("Sec-WebSocket-Key")
	if err := validateKey(key); err != nil {
		return err
	}

	header := make(http.Header)
	for name, values := range accept.Header {
		header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	header.Set("Connection", "Upgrade")
	header.Set("Upgrade", "websocket")
	header.Set("Sec-WebSocket-Accept", DeriveAcceptKey(key))
	if accept.Subprotocol != "" {
		header.Set("Sec-WebSocket-Protocol", accept.Subprotocol)
	}

	conn, err := a.Config.WebSocketUpgrader.Upgrade(sess.w, sess.r, header)

	// The upgrader already replied to the client, if it could.
	sess.replied = true
	a.logUpgradeDone(sess, err)
	if err != nil {
		return err
	}

	pipeline := Compose2[WebSocketConn, WebSocketConn, WebSocketConn](
		NewObserveConnFunc(a.Config, a.Logger, sess.spanID),
		NewCancelWatchFunc(),
	)
	conn, err = pipeline.Call(ctx, conn)
	if err != nil {
		return err
	}
	defer conn.Close()

	return a.runBridge(ctx, sess.spanID, conn, sess.inboundCh, outbound)
}

func (a *WebSocketAdapter) logUpgradeStart(sess *wsSession) {
	a.Logger.Info(
		"websocketUpgradeStart",
		slog.String("httpUrl", sess.r.URL.String()),
		slog.String("remoteAddr", sess.r.RemoteAddr),
		slog.String("spanID", sess.spanID),
		slog.Time("t", sess.t0),
		slog.Any("websocketSubprotocols", sess.wsScope.Subprotocols),
	)
}

func (a *WebSocketAdapter) logUpgradeDone(sess *wsSession, err error) {
	sess.reported = true
	a.Logger.Info(
		"websocketUpgradeDone",
		slog.Any("err", err),
		slog.String("errClass", a.Config.ErrClassifier.Classify(err)),
		slog.String("httpUrl", sess.r.URL.String()),
		slog.String("remoteAddr", sess.r.RemoteAddr),
		slog.String("spanID", sess.spanID),
		slog.Time("t0", sess.t0),
		slog.Time("t", a.Config.TimeNow()),
		slog.String("websocketOutcome", sess.outcome),
	)
}
