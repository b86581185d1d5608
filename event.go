// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "fmt"

// Protocol identifiers used by the adapters in this package.
const (
	ProtocolHTTP      = "http"
	ProtocolWebSocket = "websocket"
)

// Event families used by the adapters in this package.
const (
	EventHTTP      = "http"
	EventWebSocket = "websocket"
)

// Event is a single message flowing on an inbound or outbound [Stream].
//
// The family selects the closed set of payload variants that may appear
// (e.g., [EventHTTP] payloads implement [HTTPEvent]). The payload is shared
// by reference and must not be mutated after the event is created.
//
// Construct using [NewHTTPEvent], [NewWebSocketEvent], or [NewEvent].
type Event struct {
	family  string
	payload any
}

// NewEvent creates an [Event] with an arbitrary family and payload.
//
// Prefer [NewHTTPEvent] and [NewWebSocketEvent], which make sure the
// family matches the payload variant.
func NewEvent(family string, payload any) Event {
	return Event{family: family, payload: payload}
}

// Family returns the event family.
func (e Event) Family() string {
	return e.family
}

// Payload returns the type-erased payload.
func (e Event) Payload() any {
	return e.payload
}

// String implements [fmt.Stringer].
func (e Event) String() string {
	return fmt.Sprintf("%s:%T", e.family, e.payload)
}

// EventAs returns the payload when its dynamic type is T (or, when T is an
// interface such as [HTTPEvent], when the payload implements T).
func EventAs[T any](e Event) (T, bool) {
	value, ok := e.payload.(T)
	return value, ok
}
