// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "context"

// Exchange is the input of a [Service]: the connection [*Scope] and the
// inbound [Stream] produced by the adapter.
type Exchange struct {
	// Scope is the per-connection metadata.
	Scope *Scope

	// Inbound is the stream of events coming from the client.
	Inbound Stream
}

// NewExchange returns a new [*Exchange].
func NewExchange(scope *Scope, inbound Stream) *Exchange {
	return &Exchange{Scope: scope, Inbound: inbound}
}

// Service handles connections (ASGI: application).
//
// Call receives the [*Exchange] and returns the outbound [Stream]. Call must
// return promptly: the actual work should happen while the adapter pulls
// events from the returned stream, which may block on the inbound stream.
//
// Call fails with [ErrUnsupportedProtocol] when it does not know how to
// handle the scope protocol and [ErrProtocolViolation] when the inbound
// stream breaks the framing rules of the adapter.
//
// A Service wrapping another Service must consume the inbound stream once
// and produce the outbound stream once. It may transform events, observe
// them, or dispatch to one among several inner Services.
//
// A Service may be called concurrently for distinct connections.
type Service = Func[*Exchange, Stream]

// ServiceFunc adapts a function to the [Service] interface.
type ServiceFunc func(ctx context.Context, ex *Exchange) (Stream, error)

var _ Service = ServiceFunc(nil)

// Call implements [Service].
func (f ServiceFunc) Call(ctx context.Context, ex *Exchange) (Stream, error) {
	return f(ctx, ex)
}
