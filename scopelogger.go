// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// ScopeLogger is a pass-through [Service] that logs the attachment of
// type T, when the scope has one, and then delegates to the inner [Service].
//
// The emitted event is scopeAttachment at [slog.LevelDebug]. ScopeLogger
// never alters the scope or the streams.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
//
// Construct using [NewScopeLogger].
type ScopeLogger[T any] struct {
	// Inner is the wrapped [Service].
	//
	// Set by [NewScopeLogger] to the user-provided service.
	Inner Service

	// Logger is the [SLogger] to use.
	//
	// Set by [NewScopeLogger] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewScopeLogger] from [Config.TimeNow].
	TimeNow func() time.Time
}

// NewScopeLogger returns a new [*ScopeLogger] wrapping inner.
func NewScopeLogger[T any](cfg *Config, logger SLogger, inner Service) *ScopeLogger[T] {
	return &ScopeLogger[T]{
		Inner:   inner,
		Logger:  logger,
		TimeNow: cfg.TimeNow,
	}
}

var _ Service = &ScopeLogger[*HTTPScope]{}

// Call implements [Service].
func (sl *ScopeLogger[T]) Call(ctx context.Context, ex *Exchange) (Stream, error) {
	if value, found := Get[T](ex.Scope); found {
		sl.Logger.Debug(
			"scopeAttachment",
			slog.String("attachmentType", reflect.TypeFor[T]().String()),
			slog.String("attachment", fmt.Sprintf("%+v", value)),
			slog.String("protocol", ex.Scope.Protocol()),
			slog.Time("t", sl.TimeNow()),
		)
	}
	return sl.Inner.Call(ctx, ex)
}
