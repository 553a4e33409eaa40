// Package stream turns add/remove listener pairs into lazy, restartable
// streams. Nothing is registered on the underlying event until a subscriber
// arrives, and every subscription owns its own registration.
package stream

import (
	"context"
	"sync"
)

const defaultBufferSize = 64

// Stream is an infinite sequence of values delivered to subscribers.
type Stream[T any] struct {
	subscribe func(emit func(T)) (cancel func())
}

// New builds a stream from a subscribe function returning its teardown.
func New[T any](subscribe func(emit func(T)) (cancel func())) *Stream[T] {
	return &Stream[T]{subscribe: subscribe}
}

// FromEventPattern builds a stream over an event that is driven by handler
// registration. Each subscription wraps emit into a fresh handler, adds it,
// and removes that same handler when cancelled.
func FromEventPattern[H any, T any](add func(H), remove func(H), wrap func(emit func(T)) H) *Stream[T] {
	return New(func(emit func(T)) func() {
		handler := wrap(emit)
		add(handler)
		return func() { remove(handler) }
	})
}

// Subscribe starts delivering values to fn until the returned cancel is
// called. cancel is safe to call more than once. A value already in flight
// when cancel runs may still reach fn.
func (s *Stream[T]) Subscribe(fn func(T)) (cancel func()) {
	teardown := s.subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(teardown)
	}
}

// Chan subscribes and forwards values into a buffered channel. Values are
// dropped while the buffer is full. The channel closes after ctx is done or
// the returned cancel is called.
func (s *Stream[T]) Chan(ctx context.Context, buffer int) (<-chan T, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan T, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := s.Subscribe(func(v T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
		}
	})

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel
}

// Map transforms every value of s.
func Map[T any, U any](s *Stream[T], fn func(T) U) *Stream[U] {
	return New(func(emit func(U)) func() {
		return s.Subscribe(func(v T) {
			emit(fn(v))
		})
	})
}

// Filter keeps the values for which keep returns true.
func Filter[T any](s *Stream[T], keep func(T) bool) *Stream[T] {
	return New(func(emit func(T)) func() {
		return s.Subscribe(func(v T) {
			if keep(v) {
				emit(v)
			}
		})
	})
}
