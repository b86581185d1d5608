// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// newConcurrentLogger is like [newCapturingLogger] but safe to use when the code
// under test logs from other goroutines. The returned function returns a
// snapshot of the messages logged so far.
func newConcurrentLogger() (*slog.Logger, func() []string) {
	var (
		mu       sync.Mutex
		messages []string
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			messages = append(messages, record.Message)
			mu.Unlock()
			return nil
		},
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), messages...)
	}
	return slog.New(handler), snapshot
}

// recordMessages returns the messages of the given records in order.
func recordMessages(records []slog.Record) []string {
	var out []string
	for _, record := range records {
		out = append(out, record.Message)
	}
	return out
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// funcWebSocketConn is a [WebSocketConn] whose methods are configurable.
type funcWebSocketConn struct {
	ReadFrameFunc  func(ctx context.Context) (WebSocketFrame, error)
	WriteFrameFunc func(ctx context.Context, frame WebSocketFrame) error
	NetConnFunc    func() net.Conn
	CloseFunc      func() error
}

var _ WebSocketConn = &funcWebSocketConn{}

func (c *funcWebSocketConn) ReadFrame(ctx context.Context) (WebSocketFrame, error) {
	return c.ReadFrameFunc(ctx)
}

func (c *funcWebSocketConn) WriteFrame(ctx context.Context, frame WebSocketFrame) error {
	return c.WriteFrameFunc(ctx, frame)
}

func (c *funcWebSocketConn) NetConn() net.Conn {
	return c.NetConnFunc()
}

func (c *funcWebSocketConn) Close() error {
	return c.CloseFunc()
}

// scriptedConn is a [WebSocketConn] reading frames from a channel and
// recording the written frames. Closing the frames channel means EOF.
type scriptedConn struct {
	frames chan WebSocketFrame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []WebSocketFrame
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		frames: make(chan WebSocketFrame),
		closed: make(chan struct{}),
	}
}

var _ WebSocketConn = &scriptedConn{}

func (c *scriptedConn) ReadFrame(ctx context.Context) (WebSocketFrame, error) {
	select {
	case <-ctx.Done():
		return WebSocketFrame{}, ctx.Err()
	case frame, ok := <-c.frames:
		if !ok {
			return WebSocketFrame{}, io.EOF
		}
		return frame, nil
	case <-c.closed:
		return WebSocketFrame{}, io.EOF
	}
}

func (c *scriptedConn) WriteFrame(ctx context.Context, frame WebSocketFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, frame)
	return nil
}

func (c *scriptedConn) Written() []WebSocketFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WebSocketFrame(nil), c.written...)
}

func (c *scriptedConn) NetConn() net.Conn {
	return newMinimalConn()
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeHTTPTransport is an [HTTPTransport] reading body frames from a slice
// and recording the calls made to it.
type fakeHTTPTransport struct {
	frames  [][]byte
	readErr error

	calls    []string
	status   int
	header   http.Header
	body     []byte
	trailers http.Header
	ended    bool
}

var _ HTTPTransport = &fakeHTTPTransport{}

func (t *fakeHTTPTransport) ReadBody(ctx context.Context) ([]byte, error) {
	if len(t.frames) > 0 {
		frame := t.frames[0]
		t.frames = t.frames[1:]
		return frame, nil
	}
	if t.readErr != nil {
		return nil, t.readErr
	}
	return nil, io.EOF
}

func (t *fakeHTTPTransport) WriteHead(status int, header http.Header) error {
	t.calls = append(t.calls, "head")
	t.status, t.header = status, header
	return nil
}

func (t *fakeHTTPTransport) WriteBody(data []byte) error {
	t.calls = append(t.calls, "body")
	t.body = append(t.body, data...)
	return nil
}

func (t *fakeHTTPTransport) WriteTrailers(header http.Header) error {
	t.calls = append(t.calls, "trailers")
	if t.trailers == nil {
		t.trailers = make(http.Header)
	}
	for key, values := range header {
		t.trailers[key] = append(t.trailers[key], values...)
	}
	return nil
}

func (t *fakeHTTPTransport) End() error {
	t.calls = append(t.calls, "end")
	t.ended = true
	return nil
}
