// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// StaticResponse is a [Service] replying to every HTTP request with the same content.
//
// The response is one [ResponseStart] carrying Content-Length and
// Content-Type followed by one final [ResponseChunk]. The inbound
// stream is not consumed.
//
// Construct using [NewStaticResponse] or one of the typed constructors.
type StaticResponse struct {
	body   []byte
	header http.Header
	status int
}

// NewStaticResponse returns a new [*StaticResponse].
//
// The header argument may be nil. Content-Length and Content-Type
// override any value it contains.
func NewStaticResponse(status int, body []byte, contentType string, header http.Header) *StaticResponse {
	hdr := header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	hdr.Set("Content-Type", contentType)
	return &StaticResponse{body: body, header: hdr, status: status}
}

// NewPlainTextResponse returns a [*StaticResponse] with text/plain content.
func NewPlainTextResponse(status int, text string, header http.Header) *StaticResponse {
	return NewStaticResponse(status, []byte(text), "text/plain; charset=utf-8", header)
}

// NewHTMLResponse returns a [*StaticResponse] with text/html content.
func NewHTMLResponse(status int, html []byte, header http.Header) *StaticResponse {
	return NewStaticResponse(status, html, "text/html; charset=utf-8", header)
}

// NewJSONResponse returns a [*StaticResponse] with the JSON encoding of value.
//
// It fails with [ErrConfiguration] when value cannot be encoded.
func NewJSONResponse(status int, value any, header http.Header) (*StaticResponse, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return NewStaticResponse(status, body, "application/json", header), nil
}

var _ Service = &StaticResponse{}

// Call implements [Service].
func (sr *StaticResponse) Call(ctx context.Context, ex *Exchange) (Stream, error) {
	return NewSliceStream(
		NewHTTPEvent(ResponseStart{Status: sr.status, Header: sr.header.Clone()}),
		NewHTTPEvent(ResponseChunk{Body: sr.body, More: false}),
	), nil
}
