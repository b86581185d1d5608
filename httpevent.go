// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "net/http"

// HTTPEvent is the closed set of payloads of the [EventHTTP] family.
//
// The variants are [RequestChunk], [ResponseStart], [ResponseChunk],
// [ResponseTrailer], and [Disconnect].
type HTTPEvent interface {
	isHTTPEvent()
}

// NewHTTPEvent wraps an [HTTPEvent] into an [Event] of the [EventHTTP] family.
func NewHTTPEvent(ev HTTPEvent) Event {
	return NewEvent(EventHTTP, ev)
}

// RequestChunk is a piece of the request body (ASGI: http.request).
//
// More is false only for the last chunk of the body.
type RequestChunk struct {
	Body []byte
	More bool
}

// ResponseStart starts the response (ASGI: http.response.start).
//
// When Trailers is true, the body is followed by [ResponseTrailer] events.
type ResponseStart struct {
	Status   int
	Header   http.Header
	Trailers bool
}

// ResponseChunk is a piece of the response body (ASGI: http.response.body).
//
// More is false only for the last chunk of the body.
type ResponseChunk struct {
	Body []byte
	More bool
}

// ResponseTrailer carries response trailers (ASGI: http.response.trailers).
//
// More is false only for the last trailers event.
type ResponseTrailer struct {
	Header http.Header
	More   bool
}

// Disconnect tells the Service that the client went away (ASGI: http.disconnect).
type Disconnect struct{}

func (RequestChunk) isHTTPEvent()    {}
func (ResponseStart) isHTTPEvent()   {}
func (ResponseChunk) isHTTPEvent()   {}
func (ResponseTrailer) isHTTPEvent() {}
func (Disconnect) isHTTPEvent()      {}
