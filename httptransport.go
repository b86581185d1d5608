//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/httpslog/httpslog.go
//

package servio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPTransport is the transport-side collaborator of [*HTTPResponder] and
// [NewHTTPInbound]: it yields request body frames and renders the response.
//
// ReadBody returns the next request body frame and [io.EOF] at the end of
// the body. WriteHead sends the status and headers; WriteBody sends a body
// frame; WriteTrailers sends (or accumulates) trailers; End signals the end
// of the response stream.
//
// [NewNetHTTPTransport] implements HTTPTransport on top of [net/http].
type HTTPTransport interface {
	ReadBody(ctx context.Context) ([]byte, error)
	WriteHead(status int, header http.Header) error
	WriteBody(data []byte) error
	WriteTrailers(header http.Header) error
	End() error
}

// NetHTTPTransport is the [net/http] implementation of [HTTPTransport].
//
// Body reads emit httpBodyStreamStart on the first read and
// httpBodyStreamDone when the body ends or fails, both at [slog.LevelDebug].
//
// Construct using [NewNetHTTPTransport].
type NetHTTPTransport struct {
	// buf is the read buffer.
	buf []byte

	// doneOnce ensures we log httpBodyStreamDone only once.
	doneOnce sync.Once

	// errClassifier classifies errors for structured logging.
	errClassifier ErrClassifier

	// logger is the [SLogger] in use.
	logger SLogger

	// rc flushes the response after each frame.
	rc *http.ResponseController

	// readOnce ensures we log httpBodyStreamStart only once.
	readOnce sync.Once

	// req is the request whose body we read.
	req *http.Request

	// spanID is the span identifier of the exchange.
	spanID string

	// t0 is the time when we started reading the body.
	t0 time.Time

	// timeNow mocks [time.Now].
	timeNow func() time.Time

	// w is the response writer.
	w http.ResponseWriter
}

var _ HTTPTransport = &NetHTTPTransport{}

// NewNetHTTPTransport returns a new [*NetHTTPTransport].
//
// The cfg argument provides the body chunk size, the error classifier,
// and the clock. The spanID argument is added to the log events.
//
// On HTTP/1.x the transport enables full-duplex mode, so the request body
// stays readable after the response head is written.
func NewNetHTTPTransport(cfg *Config, logger SLogger, spanID string,
	w http.ResponseWriter, r *http.Request) *NetHTTPTransport {
	size := cfg.BodyChunkSize
	if size <= 0 {
		size = DefaultBodyChunkSize
	}
	rc := http.NewResponseController(w)
	if r.ProtoMajor < 2 {
		// HTTP/2 is always full duplex and reports ErrNotSupported.
		_ = rc.EnableFullDuplex()
	}
	return &NetHTTPTransport{
		buf:           make([]byte, size),
		errClassifier: cfg.ErrClassifier,
		logger:        logger,
		rc:            rc,
		req:           r,
		spanID:        spanID,
		timeNow:       cfg.TimeNow,
		w:             w,
	}
}

// ReadBody implements [HTTPTransport].
//
// The returned slice is a fresh copy owned by the caller.
func (t *NetHTTPTransport) ReadBody(ctx context.Context) ([]byte, error) {
	t.readOnce.Do(func() {
		t.t0 = t.timeNow()
		t.logger.Debug(
			"httpBodyStreamStart",
			slog.String("remoteAddr", t.req.RemoteAddr),
			slog.String("spanID", t.spanID),
			slog.Time("t", t.t0),
		)
	})
	if t.req.Body == nil {
		t.logBodyDone(nil)
		return nil, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			t.logBodyDone(err)
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		count, err := t.req.Body.Read(t.buf)
		if count > 0 {
			// Hand out the data now: Read returns the error again on the next call.
			return append([]byte(nil), t.buf[:count]...), nil
		}
		if errors.Is(err, io.EOF) {
			t.logBodyDone(nil)
			return nil, io.EOF
		}
		if err != nil {
			t.logBodyDone(err)
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}

func (t *NetHTTPTransport) logBodyDone(err error) {
	t.doneOnce.Do(func() {
		t.logger.Debug(
			"httpBodyStreamDone",
			slog.Any("err", err),
			slog.String("errClass", t.errClassifier.Classify(err)),
			slog.String("remoteAddr", t.req.RemoteAddr),
			slog.String("spanID", t.spanID),
			slog.Time("t0", t.t0),
			slog.Time("t", t.timeNow()),
		)
	})
}

// WriteHead implements [HTTPTransport].
func (t *NetHTTPTransport) WriteHead(status int, header http.Header) error {
	dst := t.w.Header()
	for key, values := range header {
		dst[key] = append([]string(nil), values...)
	}
	t.w.WriteHeader(status)
	return t.flush()
}

// WriteBody implements [HTTPTransport].
func (t *NetHTTPTransport) WriteBody(data []byte) error {
	if len(data) > 0 {
		if _, err := t.w.Write(data); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	return t.flush()
}

// WriteTrailers implements [HTTPTransport].
//
// The trailers are sent by [net/http] when the handler returns.
func (t *NetHTTPTransport) WriteTrailers(header http.Header) error {
	dst := t.w.Header()
	for key, values := range header {
		for _, value := range values {
			dst.Add(http.TrailerPrefix+key, value)
		}
	}
	return nil
}

// End implements [HTTPTransport].
//
// With [net/http] the response ends when the handler returns, so End
// only flushes what is still buffered.
func (t *NetHTTPTransport) End() error {
	return t.flush()
}

func (t *NetHTTPTransport) flush() error {
	err := t.rc.Flush()
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}
