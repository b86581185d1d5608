// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"io"
)

// Buffer is a [Service] decoupling the pace of the adapter from the pace of
// the inner [Service] with a bounded FIFO queue in each direction.
//
// A background pump moves events from the source stream into the queue. When
// the queue is full, the pump stops pulling from the source until the consumer
// drains it. Events are never dropped, reordered, or coalesced.
//
// The pumps exit when the source ends or the context passed to Call is done,
// so cancelling the connection context releases all the resources.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
//
// Construct using [NewBuffer].
type Buffer struct {
	// Capacity is the capacity of each queue.
	//
	// Set by [NewBuffer] from [Config.BufferCapacity].
	Capacity int

	// Inner is the wrapped [Service].
	//
	// Set by [NewBuffer] to the user-provided service.
	Inner Service

	// Metrics collects optional metrics.
	//
	// Set by [NewBuffer] from [Config.Metrics].
	Metrics *Metrics
}

// NewBuffer returns a new [*Buffer] wrapping inner.
func NewBuffer(cfg *Config, inner Service) *Buffer {
	return &Buffer{
		Capacity: cfg.BufferCapacity,
		Inner:    inner,
		Metrics:  cfg.Metrics,
	}
}

var _ Service = &Buffer{}

// Call implements [Service].
func (b *Buffer) Call(ctx context.Context, ex *Exchange) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	inbound := newBufferedStream(ctx, ex.Inbound, b.Capacity, b.Metrics)
	outbound, err := b.Inner.Call(ctx, NewExchange(ex.Scope, inbound))
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnEndStream{
		Stream: newBufferedStream(ctx, outbound, b.Capacity, b.Metrics),
		cancel: cancel,
	}, nil
}

// NewBufferedStream returns a [Stream] yielding the events of src through
// a bounded queue of the given capacity, filled by a background pump.
//
// The pump exits when src ends or ctx is done. A capacity <= 0 selects
// [DefaultBufferCapacity].
func NewBufferedStream(ctx context.Context, src Stream, capacity int) Stream {
	return newBufferedStream(ctx, src, capacity, nil)
}

func newBufferedStream(ctx context.Context, src Stream, capacity int, metrics *Metrics) Stream {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	ch := make(chan chanResult, capacity)
	go bufferPump(ctx, src, ch, metrics)
	return &bufferedStream{chanStream: chanStream{ch: ch}, metrics: metrics}
}

// bufferPump moves events from src to ch until src ends or ctx is done.
//
// The channel is always closed on exit, so the consumer observes the end of
// the stream instead of blocking forever.
func bufferPump(ctx context.Context, src Stream, ch chan<- chanResult, metrics *Metrics) {
	defer close(ch)
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		res := chanResult{event: ev, err: err}
		if err == nil {
			metrics.addQueued(1)
		}
		select {
		case ch <- res:
		case <-ctx.Done():
			if err == nil {
				metrics.addQueued(-1)
			}
			return
		}
		if err != nil {
			return
		}
	}
}

type bufferedStream struct {
	chanStream
	metrics *Metrics
}

func (s *bufferedStream) Next(ctx context.Context) (Event, error) {
	ev, err := s.chanStream.Next(ctx)
	if err == nil {
		s.metrics.addQueued(-1)
	}
	return ev, err
}

// cancelOnEndStream releases the context of the pumps once the consumer
// has seen the end of the stream.
type cancelOnEndStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *cancelOnEndStream) Next(ctx context.Context) (Event, error) {
	ev, err := s.Stream.Next(ctx)
	if err != nil {
		s.cancel()
	}
	return ev, err
}
