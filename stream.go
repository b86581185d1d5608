// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"context"
	"errors"
	"io"
)

// Stream is an ordered sequence of [Event].
//
// Next blocks until the next event is available, the stream ends, or the
// context is done. At the end of the stream, Next returns [io.EOF]; any
// other error means that the stream terminated abnormally. Once Next has
// returned an error, later calls return an error as well.
//
// A Stream has exactly one consumer. Streams are not safe for concurrent
// use by multiple goroutines.
type Stream interface {
	Next(ctx context.Context) (Event, error)
}

// StreamFunc adapts a function to the [Stream] interface.
type StreamFunc func(ctx context.Context) (Event, error)

var _ Stream = StreamFunc(nil)

// Next implements [Stream].
func (f StreamFunc) Next(ctx context.Context) (Event, error) {
	return f(ctx)
}

// NewSliceStream returns a [Stream] yielding the given events in order.
func NewSliceStream(events ...Event) Stream {
	return &sliceStream{events: events}
}

type sliceStream struct {
	events []Event
}

func (s *sliceStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if len(s.events) <= 0 {
		return Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

// EmptyStream returns a [Stream] that is already at its end.
func EmptyStream() Stream {
	return NewSliceStream()
}

// Prepend returns a [Stream] yielding the given events followed by those of s.
func Prepend(s Stream, events ...Event) Stream {
	return &prependStream{head: events, tail: s}
}

type prependStream struct {
	head []Event
	tail Stream
}

func (s *prependStream) Next(ctx context.Context) (Event, error) {
	if len(s.head) > 0 {
		ev := s.head[0]
		s.head = s.head[1:]
		return ev, nil
	}
	return s.tail.Next(ctx)
}

// Peek reads the first event of s and returns it along with a [Stream]
// that yields the same event again followed by the rest of s.
func Peek(ctx context.Context, s Stream) (Event, Stream, error) {
	ev, err := s.Next(ctx)
	if err != nil {
		return Event{}, s, err
	}
	return ev, Prepend(s, ev), nil
}

// Collect reads s until its end and returns all the events.
//
// On abnormal termination, Collect returns the events read so far
// along with the error. Reaching [io.EOF] is not an error.
func Collect(ctx context.Context, s Stream) ([]Event, error) {
	var events []Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// chanResult is an [Event] or an error traveling over a channel.
type chanResult struct {
	event Event
	err   error
}

// chanStream is a [Stream] reading from a channel.
//
// Closing the channel without sending an error ends the stream with [io.EOF].
type chanStream struct {
	ch  <-chan chanResult
	err error
}

func (s *chanStream) Next(ctx context.Context) (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case res, ok := <-s.ch:
		if !ok {
			s.err = io.EOF
			return Event{}, s.err
		}
		if res.err != nil {
			s.err = res.err
			return Event{}, s.err
		}
		return res.event, nil
	}
}
