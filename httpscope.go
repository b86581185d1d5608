// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// HTTPScope is the [*Scope] attachment describing an HTTP request.
//
// The adapters attach it as *HTTPScope. It is a snapshot taken when the
// request arrives and must not be modified afterwards.
type HTTPScope struct {
	// Method is the request method.
	Method string

	// URL is the request URL.
	URL *url.URL

	// Proto, ProtoMajor, and ProtoMinor describe the HTTP version.
	Proto      string
	ProtoMajor int
	ProtoMinor int

	// Header contains the request headers.
	Header http.Header

	// Host is the requested host.
	Host string

	// LocalAddr is the server address or empty if unknown.
	LocalAddr string

	// RemoteAddr is the client address or empty if unknown.
	RemoteAddr string

	// TLS is true when the request arrived over TLS.
	TLS bool
}

// NewHTTPScope creates an [*HTTPScope] from an [*http.Request].
func NewHTTPScope(r *http.Request) *HTTPScope {
	var laddr string
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok && addr != nil {
		laddr = addr.String()
	}
	var u *url.URL
	if r.URL != nil {
		u = new(url.URL)
		*u = *r.URL
	}
	return &HTTPScope{
		Method:     r.Method,
		URL:        u,
		Proto:      r.Proto,
		ProtoMajor: r.ProtoMajor,
		ProtoMinor: r.ProtoMinor,
		Header:     r.Header.Clone(),
		Host:       r.Host,
		LocalAddr:  laddr,
		RemoteAddr: r.RemoteAddr,
		TLS:        r.TLS != nil,
	}
}

// WebSocketScope is the [*Scope] attachment describing a WebSocket candidate.
//
// The adapter attaches it as *WebSocketScope, next to the *HTTPScope.
type WebSocketScope struct {
	// Subprotocols lists the subprotocols requested by the client in order.
	Subprotocols []string
}

// NewWebSocketScope creates a [*WebSocketScope] from the request headers.
//
// All the Sec-WebSocket-Protocol values are split on spaces and commas.
func NewWebSocketScope(header http.Header) *WebSocketScope {
	var protos []string
	for _, value := range header.Values("Sec-WebSocket-Protocol") {
		fields := strings.FieldsFunc(value, func(r rune) bool {
			return r == ' ' || r == ','
		})
		protos = append(protos, fields...)
	}
	return &WebSocketScope{Subprotocols: protos}
}
