// Package worker provides the channel plumbing between a long-running
// operation and the single coordinator consuming its events.
package worker

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the event capacity used when none is given.
const DefaultBuffer = 64

// Stream carries ordered events of type E followed by exactly one result of
// type R. A single producer emits; a single consumer reads Events until it is
// closed and then receives from Result.
//
// Emit never blocks: when the consumer lags and the buffer is full, the oldest
// pending event is discarded to make room. Progress events supersede each
// other, so the newest value is always the one worth keeping.
type Stream[E any, R any] struct {
	mu       sync.Mutex
	events   chan E
	result   chan R
	finished bool
	dropped  atomic.Int64
}

// NewStream creates a Stream with the given event buffer size.
func NewStream[E any, R any](buffer int) *Stream[E, R] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream[E, R]{
		events: make(chan E, buffer),
		result: make(chan R, 1),
	}
}

// Events returns the event channel. It is closed before the result is sent.
func (s *Stream[E, R]) Events() <-chan E {
	return s.events
}

// Result returns the channel delivering the single terminal result.
func (s *Stream[E, R]) Result() <-chan R {
	return s.result
}

// Emit publishes ev. It reports false if the stream is already finished.
func (s *Stream[E, R]) Emit(ev E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return false
	}

	select {
	case s.events <- ev:
		return true
	default:
	}

	// Full: drop the oldest. Only the consumer can race us here, and it can
	// only make room, so the second send always succeeds.
	select {
	case <-s.events:
		s.dropped.Add(1)
	default:
	}
	s.events <- ev
	return true
}

// Finish closes the event channel and publishes res. Only the first call has
// any effect; it reports whether this call was that one.
func (s *Stream[E, R]) Finish(res R) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return false
	}
	s.finished = true
	close(s.events)
	s.result <- res
	close(s.result)
	return true
}

// Done reports whether Finish has been called.
func (s *Stream[E, R]) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Dropped returns how many events were discarded because the consumer lagged.
func (s *Stream[E, R]) Dropped() int64 {
	return s.dropped.Load()
}

// Drain consumes every event, calling fn for each, and returns the result.
// It is a convenience for consumers that handle events inline.
func (s *Stream[E, R]) Drain(fn func(E)) R {
	for ev := range s.events {
		if fn != nil {
			fn(ev)
		}
	}
	return <-s.result
}
