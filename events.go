package tracker

// Event is a synchronous publish/subscribe channel. Handlers run in
// subscription order on the publishing goroutine.
type Event[T any] struct {
	name        string
	publisher   any
	subscribers []subscription[T]
	nextKey     int
	disabled    bool
	enabledFn   func() bool
}

type subscription[T any] struct {
	key     int
	handler func(T)
}

// NewEvent constructs a named event owned by publisher.
func NewEvent[T any](name string, publisher any) *Event[T] {
	return &Event[T]{name: name, publisher: publisher}
}

// Name returns the event name.
func (e *Event[T]) Name() string { return e.name }

// Publisher returns the owner the event was created for.
func (e *Event[T]) Publisher() any { return e.publisher }

// Subscribe registers handler and returns the key used to unsubscribe.
func (e *Event[T]) Subscribe(handler func(T)) int {
	if handler == nil {
		return 0
	}
	e.nextKey++
	e.subscribers = append(e.subscribers, subscription[T]{key: e.nextKey, handler: handler})
	return e.nextKey
}

// Unsubscribe removes the handler registered under key.
func (e *Event[T]) Unsubscribe(key int) bool {
	for i, sub := range e.subscribers {
		if sub.key == key {
			e.subscribers = append(e.subscribers[:i:i], e.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// HasSubscribers reports whether any handler is registered.
func (e *Event[T]) HasSubscribers() bool {
	return e != nil && len(e.subscribers) > 0
}

// Clear removes every handler.
func (e *Event[T]) Clear() {
	if e == nil {
		return
	}
	e.subscribers = nil
}

// SetEnabled toggles publication.
func (e *Event[T]) SetEnabled(enabled bool) {
	e.disabled = !enabled
}

// IsEnabled reports whether Publish will deliver.
func (e *Event[T]) IsEnabled() bool {
	if e == nil || e.disabled {
		return false
	}
	if e.enabledFn != nil {
		return e.enabledFn()
	}
	return true
}

// Publish delivers args to every handler. It returns false when nothing was
// delivered.
func (e *Event[T]) Publish(args T) bool {
	if !e.IsEnabled() || len(e.subscribers) == 0 {
		return false
	}
	subscribers := append([]subscription[T](nil), e.subscribers...)
	for _, sub := range subscribers {
		sub.handler(args)
	}
	return true
}
