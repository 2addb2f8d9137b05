package bus

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Sink receives outbound events. Implementations must never block the
// detection path; delivery failures are theirs to log and swallow.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// ChannelSink buffers events on a channel for in-process consumers.
// When the buffer is full the event is dropped, not queued.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the read side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Emit delivers the event without blocking, dropping on a full buffer.
func (s *ChannelSink) Emit(_ context.Context, event Event) error {
	select {
	case s.ch <- event:
	default:
		log.Warn().
			Str("event", event.EventName()).
			Str("token", event.Token()).
			Msg("bus: channel sink full, dropping event")
	}
	return nil
}

// MultiSink fans an event out to several sinks. A failing sink is logged and
// does not stop delivery to the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers to every sink.
func (s *MultiSink) Emit(ctx context.Context, event Event) error {
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("event", event.EventName()).
				Msg("bus: sink emit failed")
		}
	}
	return nil
}
