package events

import (
	"sync"
)

// CallbackEvent provides pub/sub behavior with type-safe callbacks.
// T is the type of the argument passed to listener functions.
type CallbackEvent[T any] struct {
	mu                    sync.RWMutex
	listeners             map[uint64]func(T)
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             *T
	hasNotified           bool
}

// NewCallbackEvent creates a new CallbackEvent instance.
// When sendLastEventOnListen is true the most recent Notify value is
// replayed to new listeners.
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners:             make(map[uint64]func(T)),
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// Listen registers a callback to be invoked on Notify.
// Returns a deregistration function.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	var replay *T
	if e.sendLastEventOnListen && e.hasNotified && e.lastEvent != nil {
		copied := *e.lastEvent
		replay = &copied
	}
	e.mu.Unlock()

	if replay != nil {
		callback(*replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify invokes all registered callbacks with the value. Callbacks run
// outside the lock so a listener may re-enter Listen or Notify.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.sendLastEventOnListen {
		if e.lastEvent == nil {
			e.lastEvent = new(T)
		}
		*e.lastEvent = value
		e.hasNotified = true
	}
	targets := make([]func(T), 0, len(e.listeners))
	for _, callback := range e.listeners {
		targets = append(targets, callback)
	}
	e.mu.Unlock()

	for _, callback := range targets {
		callback(value)
	}
}

// ListenerCount returns the current number of registered listeners
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
