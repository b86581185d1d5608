// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// NewHTTPInbound returns the inbound [Stream] reading the request body from transport.
//
// Each body frame becomes a [RequestChunk] with More set to true. The end of
// the body becomes exactly one final [RequestChunk] with an empty body and
// More set to false, after which the stream returns [io.EOF] forever.
//
// When the transport fails while reading, the stream yields a single
// [Disconnect] event and then returns the transport error.
func NewHTTPInbound(transport HTTPTransport) Stream {
	return &httpInbound{transport: transport, state: httpInboundAwaitingBody}
}

type httpInboundState int

const (
	httpInboundAwaitingBody = httpInboundState(iota)
	httpInboundStreamingBody
	httpInboundComplete
	httpInboundFailed
)

type httpInbound struct {
	err       error
	state     httpInboundState
	transport HTTPTransport
}

func (s *httpInbound) Next(ctx context.Context) (Event, error) {
	switch s.state {
	case httpInboundComplete:
		return Event{}, io.EOF
	case httpInboundFailed:
		return Event{}, s.err
	}

	data, err := s.transport.ReadBody(ctx)
	switch {
	case errors.Is(err, io.EOF):
		s.state = httpInboundComplete
		return NewHTTPEvent(RequestChunk{Body: nil, More: false}), nil

	case err != nil:
		s.state, s.err = httpInboundFailed, err
		return NewHTTPEvent(Disconnect{}), nil

	default:
		s.state = httpInboundStreamingBody
		return NewHTTPEvent(RequestChunk{Body: data, More: true}), nil
	}
}

type httpOutboundState int

const (
	httpOutboundAwaitingResponseStart = httpOutboundState(iota)
	httpOutboundStreamingBody
	httpOutboundStreamingTrailers
	httpOutboundComplete
)

// HTTPResponder renders an outbound [Stream] of [EventHTTP] events onto an [HTTPTransport].
//
// The first event must be [ResponseStart]; [ResponseChunk] events follow and
// the one with More set to false ends the body. When [ResponseStart] declares
// trailers, [ResponseTrailer] events follow and the one with More set to false
// ends the trailers. The transport stream ends when the body ends and no
// trailers were declared, or when the trailers end.
//
// Any other sequence fails with [ErrProtocolViolation]. In particular, a
// first event other than [ResponseStart] fails before anything is written.
//
// Construct using [NewHTTPResponder].
type HTTPResponder struct {
	state     httpOutboundState
	status    int
	trailers  bool
	transport HTTPTransport
}

// NewHTTPResponder returns a new [*HTTPResponder] writing to transport.
func NewHTTPResponder(transport HTTPTransport) *HTTPResponder {
	return &HTTPResponder{transport: transport, state: httpOutboundAwaitingResponseStart}
}

// Started returns whether the response head has been written to the transport.
func (hr *HTTPResponder) Started() bool {
	return hr.state != httpOutboundAwaitingResponseStart
}

// Status returns the status code written, or zero when not started.
func (hr *HTTPResponder) Status() int {
	return hr.status
}

// Respond consumes outbound until the response is complete.
//
// When outbound ends after [ResponseStart] but before the response is
// complete, Respond ends the transport stream with what was written.
func (hr *HTTPResponder) Respond(ctx context.Context, outbound Stream) error {
	for hr.state != httpOutboundComplete {
		ev, err := outbound.Next(ctx)
		if errors.Is(err, io.EOF) {
			if !hr.Started() {
				return fmt.Errorf("%w: outbound stream ended before ResponseStart", ErrProtocolViolation)
			}
			break
		}
		if err != nil {
			return err
		}
		if err := hr.handle(ev); err != nil {
			return err
		}
	}
	hr.state = httpOutboundComplete
	return hr.transport.End()
}

func (hr *HTTPResponder) handle(ev Event) error {
	if ev.Family() != EventHTTP {
		return fmt.Errorf("%w: unexpected %s event in HTTP response", ErrProtocolViolation, ev)
	}

	switch hr.state {
	case httpOutboundAwaitingResponseStart:
		start, ok := EventAs[ResponseStart](ev)
		if !ok {
			return fmt.Errorf("%w: expected ResponseStart, got %s", ErrProtocolViolation, ev)
		}
		hr.status = start.Status
		if hr.status == 0 {
			hr.status = http.StatusOK
		}
		hr.trailers = start.Trailers
		hr.state = httpOutboundStreamingBody
		return hr.transport.WriteHead(hr.status, start.Header)

	case httpOutboundStreamingBody:
		switch payload := ev.Payload().(type) {
		case ResponseChunk:
			if err := hr.transport.WriteBody(payload.Body); err != nil {
				return err
			}
			if !payload.More {
				hr.state = httpOutboundComplete
				if hr.trailers {
					hr.state = httpOutboundStreamingTrailers
				}
			}
			return nil

		case ResponseTrailer:
			if !hr.trailers {
				return fmt.Errorf("%w: ResponseTrailer without declared trailers", ErrProtocolViolation)
			}
			hr.state = httpOutboundStreamingTrailers
			return hr.writeTrailers(payload)
		}

	case httpOutboundStreamingTrailers:
		if payload, ok := EventAs[ResponseTrailer](ev); ok {
			return hr.writeTrailers(payload)
		}
	}

	return fmt.Errorf("%w: unexpected %s event in HTTP response", ErrProtocolViolation, ev)
}

func (hr *HTTPResponder) writeTrailers(trailer ResponseTrailer) error {
	if err := hr.transport.WriteTrailers(trailer.Header); err != nil {
		return err
	}
	if !trailer.More {
		hr.state = httpOutboundComplete
	}
	return nil
}

// HTTPAdapter is an [http.Handler] serving each request with a [Service].
//
// For each request, the adapter creates a [*Scope] with protocol [ProtocolHTTP]
// and an [*HTTPScope] attachment, feeds the request body to the Service as
// [RequestChunk] events, and renders the outbound [EventHTTP] events using
// an [*HTTPResponder].
//
// The adapter emits httpExchangeStart/httpExchangeDone span events.
//
// When the exchange fails before anything has been written, the adapter
// replies with 501 for [ErrUnsupportedProtocol], 400 for [ErrConfiguration],
// and 500 otherwise. Once the response has started, a failure aborts the
// connection using [http.ErrAbortHandler].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [ServeHTTP].
//
// Construct using [NewHTTPAdapter].
type HTTPAdapter struct {
	// Config is the configuration in use (body chunk size and friends).
	//
	// Set by [NewHTTPAdapter] to the user-provided config.
	Config *Config

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewHTTPAdapter] to the user-provided logger.
	Logger SLogger

	// Service is the [Service] handling the requests.
	//
	// Set by [NewHTTPAdapter] to the user-provided service.
	Service Service
}

// NewHTTPAdapter returns a new [*HTTPAdapter].
//
// The cfg argument contains the common configuration for servio operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPAdapter(cfg *Config, logger SLogger, svc Service) *HTTPAdapter {
	return &HTTPAdapter{
		Config:  cfg,
		Logger:  logger,
		Service: svc,
	}
}

var _ http.Handler = &HTTPAdapter{}

// ServeHTTP implements [http.Handler].
func (a *HTTPAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	spanID := NewSpanID()
	scope := NewScope(ProtocolHTTP)
	Insert(scope, NewHTTPScope(r))
	transport := NewNetHTTPTransport(a.Config, a.Logger, spanID, w, r)
	a.serveExchange(w, r, spanID, scope, NewHTTPInbound(transport), transport)
}

// serveExchange runs the service over the given inbound stream and
// transport, logging the exchange and handling the errors.
func (a *HTTPAdapter) serveExchange(w http.ResponseWriter, r *http.Request,
	spanID string, scope *Scope, inbound Stream, transport HTTPTransport) {
	t0 := a.Config.TimeNow()
	a.logExchangeStart(r, spanID, scope, t0)

	responder := NewHTTPResponder(transport)
	err := a.Serve(r.Context(), scope, inbound, responder)

	a.logExchangeDone(r, spanID, scope, t0, responder.Status(), err)
	a.Config.Metrics.observeExchange(scope.Protocol(), a.Config.ErrClassifier.Classify(err))

	if err != nil {
		writeHTTPError(w, responder.Started(), err)
	}
}

// Serve calls the [Service] with the given scope and inbound stream and
// renders the outbound stream using responder.
//
// Serve is useful to run the adapter on top of a custom [HTTPTransport].
func (a *HTTPAdapter) Serve(ctx context.Context, scope *Scope, inbound Stream, responder *HTTPResponder) error {
	outbound, err := a.Service.Call(ctx, NewExchange(scope, inbound))
	if err != nil {
		return err
	}
	return responder.Respond(ctx, outbound)
}

// writeHTTPError reports err to the client, if possible, or aborts the connection.
func writeHTTPError(w http.ResponseWriter, started bool, err error) {
	if started {
		panic(http.ErrAbortHandler)
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnsupportedProtocol):
		status = http.StatusNotImplemented
	case errors.Is(err, ErrConfiguration):
		status = http.StatusBadRequest
	}
	http.Error(w, http.StatusText(status), status)
}

func (a *HTTPAdapter) logExchangeStart(r *http.Request, spanID string, scope *Scope, t0 time.Time) {
	a.Logger.Info(
		"httpExchangeStart",
		slog.String("httpMethod", r.Method),
		slog.String("httpUrl", r.URL.String()),
		slog.Any("httpRequestHeaders", r.Header),
		slog.String("protocol", scope.Protocol()),
		slog.String("remoteAddr", r.RemoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t", t0),
	)
}

func (a *HTTPAdapter) logExchangeDone(r *http.Request, spanID string,
	scope *Scope, t0 time.Time, status int, err error) {
	a.Logger.Info(
		"httpExchangeDone",
		slog.Any("err", err),
		slog.String("errClass", a.Config.ErrClassifier.Classify(err)),
		slog.String("httpMethod", r.Method),
		slog.String("httpUrl", r.URL.String()),
		slog.Int("httpResponseStatusCode", status),
		slog.String("protocol", scope.Protocol()),
		slog.String("remoteAddr", r.RemoteAddr),
		slog.String("spanID", spanID),
		slog.Time("t0", t0),
		slog.Time("t", a.Config.TimeNow()),
	)
}
