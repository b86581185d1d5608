// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUpgradeRequest returns a valid WebSocket upgrade request.
func newUpgradeRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Protocol", "chat, superchat")
	return req
}

// headerValue returns the first value of name, also when the header
// map was filled without canonicalizing the keys.
func headerValue(header http.Header, name string) string {
	for key, values := range header {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// funcUpgrader is a [WebSocketUpgrader] calling UpgradeFunc.
type funcUpgrader struct {
	UpgradeFunc func(w http.ResponseWriter, r *http.Request, header http.Header) (WebSocketConn, error)
}

func (u *funcUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (WebSocketConn, error) {
	return u.UpgradeFunc(w, r, header)
}

// wsEchoService accepts the first requested subprotocol and echoes back
// the data frames and the close frame of the client.
func wsEchoService() Service {
	return ServiceFunc(func(ctx context.Context, ex *Exchange) (Stream, error) {
		var subprotocol string
		if ws, found := Get[*WebSocketScope](ex.Scope); found && len(ws.Subprotocols) > 0 {
			subprotocol = ws.Subprotocols[0]
		}
		return StreamFunc(func(ctx context.Context) (Event, error) {
			for {
				ev, err := ex.Inbound.Next(ctx)
				if err != nil {
					return Event{}, err
				}
				switch payload := ev.Payload().(type) {
				case Connect:
					return NewWebSocketEvent(Accept{Subprotocol: subprotocol}), nil
				case TextFrame, BinaryFrame, Close:
					return NewWebSocketEvent(payload.(WebSocketEvent)), nil
				}
			}
		}), nil
	})
}

// firstEventService replies to the [Connect] event with the given events.
func firstEventService(events ...Event) Service {
	return ServiceFunc(func(ctx context.Context, ex *Exchange) (Stream, error) {
		return NewSliceStream(events...), nil
	})
}

func TestDeriveAcceptKey(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", DeriveAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, validateKey("dGhlIHNhbXBsZSBub25jZQ=="))
	require.ErrorIs(t, validateKey("not base64!"), ErrConfiguration)
	require.ErrorIs(t, validateKey("c2hvcnQ="), ErrConfiguration)
	require.ErrorIs(t, validateKey(""), ErrConfiguration)
}

func TestCanUpgrade(t *testing.T) {
	cases := []struct {
		name   string
		modify func(req *http.Request)
		want   bool
	}{
		{"valid", func(req *http.Request) {}, true},
		{"case insensitive tokens", func(req *http.Request) {
			req.Header.Set("Connection", "UPGRADE")
			req.Header.Set("Upgrade", "WebSocket")
		}, true},
		{"post", func(req *http.Request) { req.Method = http.MethodPost }, false},
		{"http/1.0", func(req *http.Request) { req.ProtoMajor, req.ProtoMinor = 1, 0 }, false},
		{"no connection upgrade", func(req *http.Request) { req.Header.Set("Connection", "keep-alive") }, false},
		{"wrong upgrade", func(req *http.Request) { req.Header.Set("Upgrade", "h2c") }, false},
		{"wrong version", func(req *http.Request) { req.Header.Set("Sec-WebSocket-Version", "8") }, false},
		{"missing key", func(req *http.Request) { req.Header.Del("Sec-WebSocket-Key") }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := newUpgradeRequest()
			tc.modify(req)
			assert.Equal(t, tc.want, CanUpgrade(req))
		})
	}
}

func TestNewWebSocketScope(t *testing.T) {
	header := http.Header{"Sec-Websocket-Protocol": {"chat, superchat", "v2"}}
	assert.Equal(t, []string{"chat", "superchat", "v2"}, NewWebSocketScope(header).Subprotocols)
	assert.Empty(t, NewWebSocketScope(http.Header{}).Subprotocols)
}

func TestWebSocketAdapterEndToEnd(t *testing.T) {
	router := NewProtocolRouter().
		Handle(ProtocolHTTP, NewPlainTextResponse(http.StatusOK, "plain", nil)).
		Handle(ProtocolWebSocket, wsEchoService())
	srv := httptest.NewServer(NewWebSocketAdapter(NewConfig(), DefaultSLogger(), router))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat"

	t.Run("echo", func(t *testing.T) {
		dialer := &websocket.Dialer{Subprotocols: []string{"chat", "superchat"}}
		conn, resp, err := dialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
		assert.Equal(t, "chat", conn.Subprotocol())
		assert.Equal(t, DeriveAcceptKey(headerValue(resp.Request.Header, "Sec-WebSocket-Key")),
			resp.Header.Get("Sec-WebSocket-Accept"))

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, "ping", string(data))

		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xde, 0xad}))
		kind, data, err = conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)
		assert.Equal(t, []byte{0xde, 0xad}, data)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})

	t.Run("no subprotocol", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Empty(t, conn.Subprotocol())
	})

	t.Run("plain http", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/chat")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "plain", string(body))
	})
}

func TestWebSocketAdapterDenied(t *testing.T) {
	svc := firstEventService(NewWebSocketEvent(Close{Code: 1008}))
	srv := httptest.NewServer(NewWebSocketAdapter(NewConfig(), DefaultSLogger(), svc))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketAdapterDeclined(t *testing.T) {
	logger, records := newCapturingLogger()
	svc := firstEventService(
		NewHTTPEvent(ResponseStart{Status: http.StatusUnauthorized, Header: http.Header{"X-Reason": {"login"}}}),
		NewHTTPEvent(ResponseChunk{Body: []byte("go away")}),
	)
	rr := httptest.NewRecorder()
	NewWebSocketAdapter(NewConfig(), logger, svc).ServeHTTP(rr, newUpgradeRequest())

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "login", rr.Header().Get("X-Reason"))
	assert.Equal(t, "go away", rr.Body.String())

	// The upgrade span completes before the HTTP response is written.
	messages := recordMessages(*records)
	require.GreaterOrEqual(t, len(messages), 2)
	assert.Equal(t, []string{"websocketUpgradeStart", "websocketUpgradeDone"}, messages[:2])
	var outcome string
	(*records)[1].Attrs(func(attr slog.Attr) bool {
		if attr.Key == "websocketOutcome" {
			outcome = attr.Value.String()
		}
		return true
	})
	assert.Equal(t, "declined", outcome)
}

func TestWebSocketAdapterErrors(t *testing.T) {
	upgraderCalled := false
	cfg := NewConfig()
	cfg.WebSocketUpgrader = &funcUpgrader{
		UpgradeFunc: func(w http.ResponseWriter, r *http.Request, header http.Header) (WebSocketConn, error) {
			upgraderCalled = true
			return nil, errors.New("unexpected")
		},
	}

	cases := []struct {
		name   string
		svc    Service
		modify func(req *http.Request)
		status int
	}{
		{
			name:   "malformed key",
			svc:    firstEventService(NewWebSocketEvent(Accept{})),
			modify: func(req *http.Request) { req.Header.Set("Sec-WebSocket-Key", "c2hvcnQ=") },
			status: http.StatusBadRequest,
		},
		{
			name:   "empty outbound stream",
			svc:    firstEventService(),
			status: http.StatusInternalServerError,
		},
		{
			name:   "unexpected first event",
			svc:    firstEventService(NewWebSocketEvent(TextFrame{Data: "early"})),
			status: http.StatusInternalServerError,
		},
		{
			name:   "unsupported protocol",
			svc:    NewProtocolRouter().Handle(ProtocolHTTP, NewPlainTextResponse(http.StatusOK, "", nil)),
			status: http.StatusNotImplemented,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			upgraderCalled = false
			req := newUpgradeRequest()
			if tc.modify != nil {
				tc.modify(req)
			}
			rr := httptest.NewRecorder()
			NewWebSocketAdapter(cfg, DefaultSLogger(), tc.svc).ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			assert.False(t, upgraderCalled)
		})
	}
}

func TestWebSocketAdapterAccept(t *testing.T) {
	conn := newScriptedConn()
	var gotHeader http.Header
	cfg := NewConfig()
	cfg.WebSocketUpgrader = &funcUpgrader{
		UpgradeFunc: func(w http.ResponseWriter, r *http.Request, header http.Header) (WebSocketConn, error) {
			gotHeader = header
			return conn, nil
		},
	}

	var gotScope *Scope
	svc := ServiceFunc(func(ctx context.Context, ex *Exchange) (Stream, error) {
		gotScope = ex.Scope
		return NewSliceStream(
			NewWebSocketEvent(Accept{Subprotocol: "chat", Header: http.Header{"x-extra": {"1"}}}),
			NewWebSocketEvent(TextFrame{Data: "hello"}),
		), nil
	})

	logger, messages := newConcurrentLogger()
	NewWebSocketAdapter(cfg, logger, svc).ServeHTTP(httptest.NewRecorder(), newUpgradeRequest())

	t.Run("scope", func(t *testing.T) {
		require.NotNil(t, gotScope)
		assert.Equal(t, ProtocolWebSocket, gotScope.Protocol())
		info, found := Get[*HTTPScope](gotScope)
		require.True(t, found)
		assert.Equal(t, "/chat", info.URL.Path)
		ws, found := Get[*WebSocketScope](gotScope)
		require.True(t, found)
		assert.Equal(t, []string{"chat", "superchat"}, ws.Subprotocols)
	})

	t.Run("handshake headers", func(t *testing.T) {
		assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", gotHeader.Get("Sec-WebSocket-Accept"))
		assert.Equal(t, "Upgrade", gotHeader.Get("Connection"))
		assert.Equal(t, "websocket", gotHeader.Get("Upgrade"))
		assert.Equal(t, "chat", gotHeader.Get("Sec-WebSocket-Protocol"))
		assert.Equal(t, "1", gotHeader.Get("X-Extra"))
	})

	t.Run("frames", func(t *testing.T) {
		assert.Equal(t, []WebSocketFrame{
			{Kind: WebSocketText, Data: []byte("hello")},
			{Kind: WebSocketClose, Code: CloseNormalClosure},
		}, conn.Written())
	})

	t.Run("logs", func(t *testing.T) {
		got := messages()
		for _, want := range []string{
			"websocketUpgradeStart",
			"websocketUpgradeDone",
			"websocketBridgeStart",
			"websocketWriteFrame",
			"websocketBridgeDone",
			"websocketCloseStart",
			"websocketCloseDone",
		} {
			assert.Contains(t, got, want)
		}
	})
}
