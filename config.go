// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import "time"

// DefaultBufferCapacity is the default capacity of each [Buffer] queue.
const DefaultBufferCapacity = 100

// DefaultBodyChunkSize is the default size of the buffer used to read request bodies.
const DefaultBodyChunkSize = 32 << 10

// Config holds common configuration for servio adapters and middleware.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// BodyChunkSize is the maximum size of each [RequestChunk] read
	// by [*HTTPAdapter] from the request body.
	//
	// Set by [NewConfig] to [DefaultBodyChunkSize].
	BodyChunkSize int

	// BridgeFairness selects how the WebSocket bridge picks between
	// inbound and outbound when both directions are ready.
	//
	// Set by [NewConfig] to [FairnessRandom].
	BridgeFairness BridgeFairness

	// BufferCapacity is the capacity of each queue used by [*Buffer].
	//
	// Set by [NewConfig] to [DefaultBufferCapacity].
	BufferCapacity int

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Metrics collects optional Prometheus metrics.
	//
	// Set by [NewConfig] to nil, which disables metrics.
	Metrics *Metrics

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// WebSocketUpgrader performs the raw-byte WebSocket upgrade.
	//
	// Set by [NewConfig] to [NewGorillaUpgrader].
	WebSocketUpgrader WebSocketUpgrader
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		BodyChunkSize:     DefaultBodyChunkSize,
		BridgeFairness:    FairnessRandom,
		BufferCapacity:    DefaultBufferCapacity,
		ErrClassifier:     DefaultErrClassifier,
		Metrics:           nil,
		TimeNow:           time.Now,
		WebSocketUpgrader: NewGorillaUpgrader(),
	}
}
