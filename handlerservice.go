// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// HandlerService is a [Service] running a standard [http.Handler].
//
// The request is rebuilt from the [*HTTPScope] attachment, its body is read
// from the inbound [RequestChunk] events, and whatever the handler writes
// becomes [ResponseStart], [ResponseChunk], and [ResponseTrailer] events.
//
// The handler runs in a background goroutine started by the first call to
// Next on the outbound stream and stopped by cancelling the context.
//
// Trailers are forwarded only when the handler declares them using the
// Trailer header before writing the response head.
//
// Construct using [NewHandlerService].
type HandlerService struct {
	// Handler is the [http.Handler] to run.
	//
	// Set by [NewHandlerService] to the user-provided handler.
	Handler http.Handler
}

// NewHandlerService returns a new [*HandlerService].
func NewHandlerService(handler http.Handler) *HandlerService {
	return &HandlerService{Handler: handler}
}

var _ Service = &HandlerService{}

// Call implements [Service].
//
// Call fails with [ErrUnsupportedProtocol] when the scope protocol is not
// [ProtocolHTTP] and with [ErrConfiguration] without an [*HTTPScope].
func (hs *HandlerService) Call(ctx context.Context, ex *Exchange) (Stream, error) {
	if ex.Scope.Protocol() != ProtocolHTTP {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, ex.Scope.Protocol())
	}
	info, found := Get[*HTTPScope](ex.Scope)
	if !found {
		return nil, fmt.Errorf("%w: missing *HTTPScope attachment", ErrConfiguration)
	}
	req, err := newHandlerRequest(ctx, info, &inboundBody{ctx: ctx, inbound: ex.Inbound})
	if err != nil {
		return nil, err
	}

	ch := make(chan chanResult)
	stream := &handlerStream{chanStream: chanStream{ch: ch}}
	stream.start = func() {
		go hs.run(ctx, req, ch)
	}
	return stream, nil
}

// run serves req with the handler and closes ch when done.
func (hs *HandlerService) run(ctx context.Context, req *http.Request, ch chan<- chanResult) {
	defer close(ch)
	rw := &eventResponseWriter{ch: ch, ctx: ctx, header: make(http.Header)}
	defer func() {
		if r := recover(); r != nil {
			rw.send(chanResult{err: fmt.Errorf("%w: handler panic: %v", ErrTransport, r)})
		}
	}()
	hs.Handler.ServeHTTP(rw, req)
	rw.finish()
}

// newHandlerRequest rebuilds an [*http.Request] from the [*HTTPScope].
func newHandlerRequest(ctx context.Context, info *HTTPScope, body io.ReadCloser) (*http.Request, error) {
	target := "/"
	if info.URL != nil {
		target = info.URL.String()
	}
	req, err := http.NewRequestWithContext(ctx, info.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	req.Header = info.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	req.Host = info.Host
	req.Proto, req.ProtoMajor, req.ProtoMinor = info.Proto, info.ProtoMajor, info.ProtoMinor
	req.RemoteAddr = info.RemoteAddr
	req.RequestURI = target
	req.ContentLength = -1
	if value := req.Header.Get("Content-Length"); value != "" {
		if length, err := strconv.ParseInt(value, 10, 64); err == nil && length >= 0 {
			req.ContentLength = length
		}
	}
	return req, nil
}

// handlerStream starts the handler when the adapter first pulls from it.
type handlerStream struct {
	chanStream
	once  sync.Once
	start func()
}

func (s *handlerStream) Next(ctx context.Context) (Event, error) {
	s.once.Do(s.start)
	return s.chanStream.Next(ctx)
}

// inboundBody is an [io.ReadCloser] over the inbound [RequestChunk] events.
type inboundBody struct {
	buf     []byte
	ctx     context.Context
	done    bool
	inbound Stream
}

// Read implements [io.Reader].
func (b *inboundBody) Read(p []byte) (int, error) {
	for len(b.buf) <= 0 {
		if b.done {
			return 0, io.EOF
		}
		ev, err := b.inbound.Next(b.ctx)
		if errors.Is(err, io.EOF) {
			b.done = true
			continue
		}
		if err != nil {
			return 0, err
		}
		switch payload := ev.Payload().(type) {
		case RequestChunk:
			b.buf, b.done = payload.Body, !payload.More
		case Disconnect:
			return 0, fmt.Errorf("%w: client disconnected", ErrTransport)
		default:
			return 0, fmt.Errorf("%w: unexpected %s event in request body", ErrProtocolViolation, ev)
		}
	}
	count := copy(p, b.buf)
	b.buf = b.buf[count:]
	return count, nil
}

// Close implements [io.Closer].
func (b *inboundBody) Close() error {
	return nil
}

// eventResponseWriter is an [http.ResponseWriter] emitting [EventHTTP] events.
type eventResponseWriter struct {
	ch       chan<- chanResult
	ctx      context.Context
	header   http.Header
	trailers []string
	wrote    bool
}

var _ http.ResponseWriter = &eventResponseWriter{}

// Header implements [http.ResponseWriter].
func (rw *eventResponseWriter) Header() http.Header {
	return rw.header
}

// WriteHeader implements [http.ResponseWriter].
//
// Informational 1xx statuses other than 101 have no [ResponseStart]
// equivalent and are dropped, so the final status still follows.
func (rw *eventResponseWriter) WriteHeader(status int) {
	if rw.wrote {
		return
	}
	if status >= 100 && status <= 199 && status != http.StatusSwitchingProtocols {
		return
	}
	rw.wrote = true
	header := rw.header.Clone()
	for _, value := range header.Values("Trailer") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				rw.trailers = append(rw.trailers, http.CanonicalHeaderKey(name))
			}
		}
	}
	for name := range header {
		if strings.HasPrefix(name, http.TrailerPrefix) {
			delete(header, name)
		}
	}
	start := ResponseStart{Status: status, Header: header, Trailers: len(rw.trailers) > 0}
	rw.send(chanResult{event: NewHTTPEvent(start)})
}

// Write implements [http.ResponseWriter].
func (rw *eventResponseWriter) Write(data []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	if len(data) <= 0 {
		return 0, nil
	}
	chunk := ResponseChunk{Body: append([]byte(nil), data...), More: true}
	if err := rw.send(chanResult{event: NewHTTPEvent(chunk)}); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Flush implements [http.Flusher]. Events are already delivered one by one.
func (rw *eventResponseWriter) Flush() {}

// finish emits the end of the body and the trailers, if declared.
func (rw *eventResponseWriter) finish() {
	rw.WriteHeader(http.StatusOK)
	if rw.send(chanResult{event: NewHTTPEvent(ResponseChunk{More: false})}) != nil {
		return
	}
	if len(rw.trailers) <= 0 {
		return
	}
	trailer := make(http.Header)
	for _, name := range rw.trailers {
		if values := rw.header.Values(name); len(values) > 0 {
			trailer[name] = values
		}
	}
	for name, values := range rw.header {
		if key, found := strings.CutPrefix(name, http.TrailerPrefix); found {
			trailer[http.CanonicalHeaderKey(key)] = values
		}
	}
	rw.send(chanResult{event: NewHTTPEvent(ResponseTrailer{Header: trailer, More: false})})
}

// send delivers res to the consumer unless the context is done.
func (rw *eventResponseWriter) send(res chanResult) error {
	select {
	case rw.ch <- res:
		return nil
	case <-rw.ctx.Done():
		return rw.ctx.Err()
	}
}
