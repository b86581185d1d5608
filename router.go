// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"fmt"
)

// ProtocolRouter is a [Service] dispatching to a [Service] by scope protocol.
//
// Register routes with [*ProtocolRouter.Handle] before the first call. The
// routes must not be modified concurrently with [*ProtocolRouter.Call].
//
// Construct using [NewProtocolRouter].
type ProtocolRouter struct {
	routes map[string]Service
}

// NewProtocolRouter returns a new [*ProtocolRouter] without routes.
func NewProtocolRouter() *ProtocolRouter {
	return &ProtocolRouter{routes: make(map[string]Service)}
}

var _ Service = &ProtocolRouter{}

// Handle registers svc for the given protocol, replacing any previous
// registration, and returns the router to allow chaining.
func (r *ProtocolRouter) Handle(protocol string, svc Service) *ProtocolRouter {
	r.routes[protocol] = svc
	return r
}

// Call implements [Service].
//
// The dispatch is an exact match on [*Scope.Protocol]. When there is no
// match, Call fails with [ErrUnsupportedProtocol] without invoking any Service.
func (r *ProtocolRouter) Call(ctx context.Context, ex *Exchange) (Stream, error) {
	svc, found := r.routes[ex.Scope.Protocol()]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, ex.Scope.Protocol())
	}
	return svc.Call(ctx, ex)
}
