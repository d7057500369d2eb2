// Package state provides the observable container every client store is
// built on. A Store holds one value of T that is only ever replaced whole;
// subscribers are notified synchronously after each replacement.
package state

import "sync"

// Listener receives the new and previous value after each mutation.
type Listener[T any] func(next, prev T)

// Store is a mutex-guarded value with synchronous change notification.
//
// Values handed to Update must be treated as immutable: build new slices and
// maps instead of writing into the ones you were given. Listeners must not
// call Update or Set.
type Store[T any] struct {
	mu    sync.RWMutex
	value T

	// notifyMu serializes mutate+notify so listeners see mutations in the
	// order they were applied.
	notifyMu  sync.Mutex
	listeners map[int]Listener[T]
	nextID    int
}

// New returns a store holding initial.
func New[T any](initial T) *Store[T] {
	return &Store[T]{value: initial, listeners: make(map[int]Listener[T])}
}

// GetState returns the current value.
func (s *Store[T]) GetState() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Subscribe registers l and returns a function that removes it.
func (s *Store[T]) Subscribe(l Listener[T]) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.listeners, id)
	}
}

// Update replaces the value with fn(current) and notifies listeners.
func (s *Store[T]) Update(fn func(T) T) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.value
	next := fn(prev)
	s.value = next
	s.mu.Unlock()

	for _, l := range s.listeners {
		l(next, prev)
	}
}

// Set replaces the value with v.
func (s *Store[T]) Set(v T) {
	s.Update(func(T) T { return v })
}
