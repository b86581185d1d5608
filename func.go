// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// A [Service] is a Func from [*Exchange] to [Stream]. Middleware that only
// rewrites the exchange is a Func[*Exchange, *Exchange] and middleware that
// only rewrites the outbound stream is a Func[Stream, Stream]. Use [Compose2]
// and [Compose3] to chain them around a [Service].
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
