// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"maps"
	"reflect"
)

// Scope is the per-connection metadata shared by an adapter, the middleware
// chain, and the final [Service].
//
// A Scope holds a protocol identifier and a set of attachments indexed by
// their exact Go type: at most one attachment per type. Use [Get], [Insert],
// [Remove], and [WithAttachment] to access the attachments.
//
// Attachments are published once and then only read. Callers must not mutate
// an attachment (or anything it points to) after inserting it, which makes it
// safe to share the same attachment among goroutines without locking.
//
// The zero value is not ready to use; construct using [NewScope].
type Scope struct {
	// protocol is the protocol identifier (e.g., [ProtocolHTTP]).
	protocol string

	// attachments maps the exact type of each attachment to its value.
	attachments map[reflect.Type]any
}

// NewScope creates a new [*Scope] with the given protocol identifier.
func NewScope(protocol string) *Scope {
	return &Scope{
		protocol:    protocol,
		attachments: make(map[reflect.Type]any),
	}
}

// Protocol returns the protocol identifier.
func (s *Scope) Protocol() string {
	return s.protocol
}

// Len returns the number of attachments.
func (s *Scope) Len() int {
	return len(s.attachments)
}

// Clone returns a shallow copy of the scope. The attachments themselves
// are shared, which is fine since they are immutable once published.
func (s *Scope) Clone() *Scope {
	return &Scope{
		protocol:    s.protocol,
		attachments: maps.Clone(s.attachments),
	}
}

// WithProtocol returns a copy of the scope using the given protocol identifier.
//
// The receiver is not modified.
func (s *Scope) WithProtocol(protocol string) *Scope {
	out := s.Clone()
	out.protocol = protocol
	return out
}

// typeKey returns the map key for the attachment type T.
func typeKey[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Get returns the attachment whose type is exactly T.
//
// Lookup never matches through interfaces or embedding: an attachment
// inserted as *HTTPScope is only visible to Get[*HTTPScope].
func Get[T any](s *Scope) (T, bool) {
	value, found := s.attachments[typeKey[T]()]
	if !found {
		var zero T
		return zero, false
	}
	out, _ := value.(T) // nil when T is an interface holding nil
	return out, true
}

// Insert stores value as the attachment of type T, modifying the scope in place.
//
// When an attachment of type T already exists, Insert replaces it and
// returns the previous value along with true.
//
// Insert must only be used by the goroutine that owns the scope, before
// handing the scope to the next stage. Use [WithAttachment] to derive a new
// scope instead.
func Insert[T any](s *Scope, value T) (T, bool) {
	key := typeKey[T]()
	prev, found := s.attachments[key]
	s.attachments[key] = value
	if !found {
		var zero T
		return zero, false
	}
	out, _ := prev.(T)
	return out, true
}

// Remove deletes the attachment of type T, modifying the scope in place.
//
// Returns the removed value along with true, or the zero value and false.
func Remove[T any](s *Scope) (T, bool) {
	key := typeKey[T]()
	prev, found := s.attachments[key]
	if !found {
		var zero T
		return zero, false
	}
	delete(s.attachments, key)
	out, _ := prev.(T)
	return out, true
}

// WithAttachment returns a copy of the scope with value attached as type T.
//
// The receiver is not modified, so stages can derive their own scope
// without coordinating with the stage that created the original.
func WithAttachment[T any](s *Scope, value T) *Scope {
	out := s.Clone()
	Insert(out, value)
	return out
}

// Without returns a copy of the scope without the attachment of type T.
func Without[T any](s *Scope) *Scope {
	out := s.Clone()
	Remove[T](out)
	return out
}
