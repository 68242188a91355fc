// Package lifecycle keeps application state consistent with server-pushed
// events: streams fan events out to subscribers, and Atexit and Page scope
// subscriptions and timers to a unit of UI lifetime so they are torn down
// deterministically.
package lifecycle

import "sync"

// Stream delivers events of one kind to its subscribers. Events are not
// buffered: a subscriber only sees events sent after it subscribed.
type Stream[T any] struct {
	mu   sync.Mutex
	subs []subscriber[T]
	next uint64
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// NewStream returns an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Send calls every current subscriber with e, synchronously and in
// subscription order.
func (s *Stream[T]) Send(e T) {
	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(e)
	}
}

// Subscribe adds fn and returns a function that removes it again. Calling
// the returned function more than once has no further effect.
func (s *Stream[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscriber[T]{id, fn})
	return func() {
		s.remove(id)
	}
}

// remove builds a new slice so that a Send in progress keeps iterating over
// its own snapshot.
func (s *Stream[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]subscriber[T], 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.id != id {
			subs = append(subs, sub)
		}
	}
	s.subs = subs
}

// Len returns the number of subscribers.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
