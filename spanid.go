// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// The adapters in this package generate one span ID per exchange and add it to
// every log event they emit, as the spanID field, so that the lifecycle of a
// single connection can be correlated across middleware stages.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
