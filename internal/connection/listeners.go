package connection

import (
	"fmt"
	"sync"
)

// listenerList is an ordered set of handlers for one event category.
// Add returns a removal func, so callers hold no handle other than the
// closure. Notification order is registration order.
type listenerList[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

func newListenerList[T any]() *listenerList[T] {
	return &listenerList[T]{}
}

// Add registers a handler and returns the func that removes it. Removing
// twice is a no-op.
func (l *listenerList[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// Notify invokes every registered handler with the event. Each invocation is
// isolated: a panicking handler is logged and the remaining handlers still run.
func (l *listenerList[T]) Notify(event T) {
	l.mu.RLock()
	handlers := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		handlers[i] = e.fn
	}
	l.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("[Connection] Listener panicked: %v\n", r)
				}
			}()
			fn(event)
		}()
	}
}

// Len returns the number of registered handlers.
func (l *listenerList[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
