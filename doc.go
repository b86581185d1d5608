// SPDX-License-Identifier: GPL-3.0-or-later

// Package servio provides an event-stream contract between protocol servers
// and applications, in the spirit of ASGI.
//
// # Core Abstraction
//
// The package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// A [Service] is a Func[*Exchange, Stream]: it receives the per-connection
// [*Scope] with the inbound [Stream] of [Event] values and returns the
// outbound [Stream]. Call returns promptly; the work happens while the
// adapter pulls from the outbound stream. Middleware are Funcs as well,
// so [Compose2], [Compose3], and [Compose4] wire them with the compiler
// checking that outputs match inputs across stages.
//
// # Scope and Events
//
// A [*Scope] carries the protocol identifier and a set of attachments keyed
// by their exact Go type. Use [Get], [Insert], [Remove], [WithAttachment],
// and [Without] to access them. The adapters attach [*HTTPScope] and, for
// WebSocket candidates, [*WebSocketScope].
//
// An [Event] is a family plus a payload. The [EventHTTP] family payloads
// implement [HTTPEvent]: [RequestChunk], [ResponseStart], [ResponseChunk],
// [ResponseTrailer], and [Disconnect]. The [EventWebSocket] family payloads
// implement [WebSocketEvent]: [Connect], [Accept], [TextFrame],
// [BinaryFrame], and [Close].
//
// # Available Primitives
//
// Adapters:
//   - [HTTPAdapter]: serves HTTP requests with a Service (an [http.Handler])
//   - [WebSocketAdapter]: upgrades WebSocket candidates and bridges frames,
//     falling back to [HTTPAdapter] for regular requests
//   - [HTTPResponder] and [NewHTTPInbound]: the HTTP event state machines,
//     usable over any [HTTPTransport]
//
// Middleware and services:
//   - [ProtocolRouter]: dispatches by scope protocol
//   - [Buffer]: decouples the two sides with bounded queues
//   - [ScopeLogger]: logs a scope attachment and delegates
//   - [StaticResponse]: replies with fixed content (see also [NewJSONResponse])
//   - [HandlerService]: runs a standard [http.Handler] as a Service
//
// Connection wrappers for upgraded WebSocket connections:
//   - [ObserveConnFunc]: observes frames for logging and metrics
//   - [CancelWatchFunc]: closes the connection on context cancellation
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with [log/slog]).
// By default, logging is disabled. Error classification is configurable via
// [ErrClassifier]; by default, [DefaultErrClassifier] is used.
//
// Primitives emit span events (*Start/*Done pairs) recording the lifecycle of
// exchanges, upgrades, and bridge sessions at [slog.LevelInfo], and per-I/O
// events (body reads, frames) at [slog.LevelDebug]. Completion events include
// t0 (start time), err, and errClass. Each exchange has a spanID generated
// with [NewSpanID] to correlate all its events.
//
// Set [Config.Metrics] to a [*Metrics] created by [NewMetrics] to collect
// Prometheus metrics.
//
// # Concurrency and Cancellation
//
// Each connection runs on the goroutine [net/http] gives to the handler,
// plus helper goroutines (buffer pumps, the WebSocket reader, and the
// outbound pump). All of them exit when the connection context is done,
// so a Service must honour the context passed to Next.
package servio
