// Package stream is a small fan-out broker: one publisher, many independent
// subscribers, none of which may block another (or the publisher).
package stream

import "sync"

// Stream fans values out to all current subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the value (the drop callback runs
// so callers can log or count it).
type Stream[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	buffer int
	onDrop func()
}

// New creates a Stream whose subscriber channels hold up to buffer values.
func New[T any](buffer int, onDrop func()) *Stream[T] {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
		onDrop: onDrop,
	}
}

// Subscribe registers a new subscriber. Initial values (at most the buffer
// size) are delivered before any subsequent publish, so a caller passing the
// current value gives new subscribers the latest state immediately. The
// returned cancel func is idempotent and closes the channel.
func (s *Stream[T]) Subscribe(initial ...T) (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan T, s.buffer)
	for _, v := range initial {
		select {
		case ch <- v:
		default:
		}
	}
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers v to every subscriber that has buffer room.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
}

// Subscribers reports the current subscriber count.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
