package counterbutton

import (
	"sync"
	"sync/atomic"
)

// Emitter broadcasts values of type T to attached listeners. Delivery is
// synchronous and in subscription order. Nothing is buffered: a value
// published while no listener is attached is dropped, and listeners never
// see values published before they attached.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []*Listener[T]
}

// Listener is the handle returned by Emitter.Subscribe.
type Listener[T any] struct {
	fn      func(T)
	emitter *Emitter[T]
	active  atomic.Bool
}

// NewEmitter returns an Emitter with no listeners.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Subscribe attaches fn. It returns nil for a nil fn.
func (e *Emitter[T]) Subscribe(fn func(T)) *Listener[T] {
	if fn == nil {
		return nil
	}
	l := &Listener[T]{fn: fn, emitter: e}
	l.active.Store(true)
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
	return l
}

// Unsubscribe detaches l. Detaching twice, or detaching nil, is a no-op.
func (e *Emitter[T]) Unsubscribe(l *Listener[T]) {
	if l == nil || !l.active.Swap(false) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.listeners {
		if cur == l {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every attached listener before returning.
func (e *Emitter[T]) Publish(v T) {
	e.mu.Lock()
	snapshot := make([]*Listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		// a listener detached by an earlier one in this round gets nothing
		if l.active.Load() {
			l.fn(v)
		}
	}
}

// Len returns the number of attached listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Unsubscribe detaches the listener from its emitter. It satisfies
// Subscription and always returns nil.
func (l *Listener[T]) Unsubscribe() error {
	if l != nil {
		l.emitter.Unsubscribe(l)
	}
	return nil
}
