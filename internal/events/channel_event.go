package events

import (
	"sync"
)

// ChannelEvent fans a value out to registered channels. Sends never block:
// a full channel misses the value.
type ChannelEvent[T any] struct {
	mu       sync.RWMutex
	channels map[uint64]chan<- T
	nextID   uint64
	last     lastValue[T]
}

// NewChannelEvent creates a ChannelEvent. With replayLast set, a new
// listener receives the most recent value right away, if there is one.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels: make(map[uint64]chan<- T),
		last:     lastValue[T]{enabled: replayLast},
	}
}

// Listen registers ch and returns the function that removes it.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	replay, ok := e.last.load()
	e.mu.Unlock()

	if ok {
		select {
		case ch <- replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify offers value to every channel without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	e.last.store(value)
	channels := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		channels = append(channels, ch)
	}
	e.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- value:
		default:
		}
	}
}

// Last returns the most recent value when replay is enabled.
func (e *ChannelEvent[T]) Last() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last.load()
}

// ListenerCount returns the number of registered channels.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
