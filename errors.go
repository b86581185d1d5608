// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "errors"

// Errors returned by the adapters and the middleware in this package.
//
// They are always wrapped with additional context, so use [errors.Is]
// to check for them. None of them is ever retried by this package.
var (
	// ErrUnsupportedProtocol indicates that no handler exists for the
	// scope protocol. The caller may recover by sending an error response.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrProtocolViolation indicates an illegal sequence of events. It is
	// fatal to the connection.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTransport indicates an I/O failure of the underlying transport.
	ErrTransport = errors.New("transport error")

	// ErrConfiguration indicates malformed handshake input detected
	// before any response has been sent.
	ErrConfiguration = errors.New("configuration error")
)
