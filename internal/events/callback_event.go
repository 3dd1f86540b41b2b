package events

import (
	"sync"
)

// CallbackEvent fans a value out to registered callbacks.
type CallbackEvent[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]func(T)
	nextID    uint64
	last      lastValue[T]
}

// NewCallbackEvent creates a CallbackEvent. With replayLast set, a new
// listener is called at once with the most recent value, if there is one.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners: make(map[uint64]func(T)),
		last:      lastValue[T]{enabled: replayLast},
	}
}

// Listen registers callback and returns the function that removes it.
// Callbacks run on the notifying goroutine and must not block.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	replay, ok := e.last.load()
	e.mu.Unlock()

	if ok {
		callback(replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify calls every listener with value, outside the lock.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.last.store(value)
	callbacks := make([]func(T), 0, len(e.listeners))
	for _, callback := range e.listeners {
		callbacks = append(callbacks, callback)
	}
	e.mu.Unlock()

	for _, callback := range callbacks {
		callback(value)
	}
}

// Last returns the most recent value when replay is enabled.
func (e *CallbackEvent[T]) Last() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last.load()
}

// ListenerCount returns the number of registered listeners.
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
