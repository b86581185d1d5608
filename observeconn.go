//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package servio

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc] with default logging.
//
// The cfg argument contains the common configuration for servio operations.
//
// The logger argument is the [SLogger] to use for structured logging.
//
// The spanID argument identifies the exchange in the log events.
func NewObserveConnFunc(cfg *Config, logger SLogger, spanID string) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Metrics:       cfg.Metrics,
		SpanID:        spanID,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc observes a [WebSocketConn] to log frame I/O.
//
// Each frame read or written produces a websocketReadFrame or
// websocketWriteFrame event at [slog.LevelDebug]. Closing produces
// websocketCloseStart and websocketCloseDone at [slog.LevelInfo].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewObserveConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewObserveConnFunc] to the user-provided logger.
	Logger SLogger

	// Metrics counts the frames by direction and kind.
	//
	// Set by [NewObserveConnFunc] from [Config.Metrics].
	Metrics *Metrics

	// SpanID identifies the exchange.
	//
	// Set by [NewObserveConnFunc] to the user-provided span ID.
	SpanID string

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewObserveConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[WebSocketConn, WebSocketConn] = &ObserveConnFunc{}

// Call invokes the [*ObserveConnFunc] to observe a [WebSocketConn].
func (op *ObserveConnFunc) Call(ctx context.Context, conn WebSocketConn) (WebSocketConn, error) {
	netConn := conn.NetConn()
	observed := &observedConn{
		closeonce: sync.Once{},
		conn:      conn,
		laddr:     safeconn.LocalAddr(netConn),
		op:        op,
		protocol:  safeconn.Network(netConn),
		raddr:     safeconn.RemoteAddr(netConn),
	}
	return observed, nil
}

// observedConn observes a [WebSocketConn].
type observedConn struct {
	closeonce sync.Once
	conn      WebSocketConn
	laddr     string
	op        *ObserveConnFunc
	protocol  string
	raddr     string
}

// Close implements [WebSocketConn].
//
// Subsequent calls return [net.ErrClosed], consistent with Go's standard
// library behavior for closed connections.
func (c *observedConn) Close() (err error) {
	err = net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		c.op.Logger.Info(
			"websocketCloseStart",
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.String("spanID", c.op.SpanID),
			slog.Time("t", t0),
		)

		err = c.conn.Close()

		c.op.Logger.Info(
			"websocketCloseDone",
			slog.Any("err", err),
			slog.String("errClass", c.op.ErrClassifier.Classify(err)),
			slog.String("localAddr", c.laddr),
			slog.String("protocol", c.protocol),
			slog.String("remoteAddr", c.raddr),
			slog.String("spanID", c.op.SpanID),
			slog.Time("t0", t0),
			slog.Time("t", c.op.TimeNow()),
		)
	})
	return
}

// NetConn implements [WebSocketConn].
func (c *observedConn) NetConn() net.Conn {
	return c.conn.NetConn()
}

// ReadFrame implements [WebSocketConn].
func (c *observedConn) ReadFrame(ctx context.Context) (WebSocketFrame, error) {
	t0 := c.op.TimeNow()
	frame, err := c.conn.ReadFrame(ctx)
	c.logFrame("websocketReadFrame", t0, frame, err)
	if err == nil {
		c.op.Metrics.observeFrame("inbound", frame.Kind.String())
	}
	return frame, err
}

// WriteFrame implements [WebSocketConn].
func (c *observedConn) WriteFrame(ctx context.Context, frame WebSocketFrame) error {
	t0 := c.op.TimeNow()
	err := c.conn.WriteFrame(ctx, frame)
	c.logFrame("websocketWriteFrame", t0, frame, err)
	if err == nil {
		c.op.Metrics.observeFrame("outbound", frame.Kind.String())
	}
	return err
}

func (c *observedConn) logFrame(msg string, t0 time.Time, frame WebSocketFrame, err error) {
	c.op.Logger.Debug(
		msg,
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Int("ioBytesCount", len(frame.Data)),
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
		slog.String("spanID", c.op.SpanID),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
		slog.String("websocketFrameKind", frame.Kind.String()),
	)
}
