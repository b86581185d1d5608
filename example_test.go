// SPDX-License-Identifier: GPL-3.0-or-later

package servio_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/servio"
	"github.com/gorilla/websocket"
)

// This example shows how to serve a static response with the HTTP adapter.
func Example_httpAdapter() {
	cfg := servio.NewConfig()
	svc := servio.NewPlainTextResponse(http.StatusOK, "Hello, world!\n", nil)

	srv := httptest.NewServer(servio.NewHTTPAdapter(cfg, servio.DefaultSLogger(), svc))
	defer srv.Close()

	resp := runtimex.PanicOnError1(srv.Client().Get(srv.URL))
	defer resp.Body.Close()
	body := runtimex.PanicOnError1(io.ReadAll(resp.Body))

	fmt.Printf("%d %s", resp.StatusCode, body)

	// Output:
	// 200 Hello, world!
}

// This example shows how a Service consumes the request body from the
// inbound stream and replies by emitting events.
func Example_streamingService() {
	upper := servio.ServiceFunc(func(ctx context.Context, ex *servio.Exchange) (servio.Stream, error) {
		started := false
		return servio.StreamFunc(func(ctx context.Context) (servio.Event, error) {
			if !started {
				started = true
				return servio.NewHTTPEvent(servio.ResponseStart{Status: http.StatusOK}), nil
			}
			ev, err := ex.Inbound.Next(ctx)
			if err != nil {
				return servio.Event{}, err
			}
			chunk, ok := servio.EventAs[servio.RequestChunk](ev)
			if !ok {
				return servio.Event{}, io.EOF
			}
			body := []byte(strings.ToUpper(string(chunk.Body)))
			return servio.NewHTTPEvent(servio.ResponseChunk{Body: body, More: chunk.More}), nil
		}), nil
	})

	srv := httptest.NewServer(servio.NewHTTPAdapter(servio.NewConfig(), servio.DefaultSLogger(), upper))
	defer srv.Close()

	resp := runtimex.PanicOnError1(srv.Client().Post(srv.URL, "text/plain", strings.NewReader("shout")))
	defer resp.Body.Close()
	body := runtimex.PanicOnError1(io.ReadAll(resp.Body))

	fmt.Printf("%s\n", body)

	// Output:
	// SHOUT
}

// This example shows how to route HTTP and WebSocket sessions to different
// services and echo a WebSocket message.
func Example_webSocketEcho() {
	echo := servio.ServiceFunc(func(ctx context.Context, ex *servio.Exchange) (servio.Stream, error) {
		return servio.StreamFunc(func(ctx context.Context) (servio.Event, error) {
			ev, err := ex.Inbound.Next(ctx)
			if err != nil {
				return servio.Event{}, err
			}
			switch payload := ev.Payload().(type) {
			case servio.Connect:
				return servio.NewWebSocketEvent(servio.Accept{}), nil
			case servio.TextFrame:
				return servio.NewWebSocketEvent(servio.TextFrame{Data: "echo: " + payload.Data}), nil
			default:
				return servio.Event{}, io.EOF
			}
		}), nil
	})

	cfg := servio.NewConfig()
	router := servio.NewProtocolRouter().
		Handle(servio.ProtocolHTTP, servio.NewPlainTextResponse(http.StatusOK, "not a websocket\n", nil)).
		Handle(servio.ProtocolWebSocket, servio.NewBuffer(cfg, echo))

	srv := httptest.NewServer(servio.NewWebSocketAdapter(cfg, servio.DefaultSLogger(), router))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	runtimex.Assert(err == nil)
	defer conn.Close()

	runtimex.Assert(conn.WriteMessage(websocket.TextMessage, []byte("hello")) == nil)
	_, data, err := conn.ReadMessage()
	runtimex.Assert(err == nil)

	fmt.Printf("%s\n", data)

	// Output:
	// echo: hello
}

// This example shows how to attach typed metadata to a Scope.
func ExampleWithAttachment() {
	type tenant struct{ name string }

	scope := servio.WithAttachment(servio.NewScope(servio.ProtocolHTTP), &tenant{name: "acme"})

	value, found := servio.Get[*tenant](scope)
	fmt.Println(found, value.name)

	_, found = servio.Get[tenant](scope)
	fmt.Println(found)

	// Output:
	// true acme
	// false
}
